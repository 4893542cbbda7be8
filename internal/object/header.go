package object

import (
	"fmt"

	"github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// SignatureV2 starts a version 2 object header.
var SignatureV2 = []byte{'O', 'H', 'D', 'R'}

const (
	// maxBlocks bounds the continuation chain of one header.
	maxBlocks = 1024
	// maxSharedDepth bounds committed datatype indirection.
	maxSharedDepth = 8
)

// Header is a parsed object header.
type Header struct {
	// Version is the object header version (1 or 2).
	Version uint8

	// Address is the file address where this header was found.
	Address uint64

	// Flags holds the version 2 header flags.
	Flags uint8

	// RefCount is the object reference count (version 1 only).
	RefCount uint32

	// Messages in file order, with continuations followed and shared
	// messages resolved where they live in another object header.
	Messages []message.Message

	// Timestamps, present in version 2 headers with flag 0x20.
	AccessTime uint32
	ModTime    uint32
	ChangeTime uint32
	BirthTime  uint32

	// Attribute storage phase change values (flag 0x10).
	MaxCompactAttrs uint16
	MinDenseAttrs   uint16
}

// Read parses the object header at address, following continuation
// blocks.
func Read(r *binary.Reader, address uint64) (*Header, error) {
	return read(r, address, 0)
}

func read(r *binary.Reader, address uint64, depth int) (*Header, error) {
	if r.IsUndefinedOffset(address) {
		return nil, fmt.Errorf("object header at undefined address: %w", h5err.ErrCorruptMetadata)
	}
	hr := r.At(int64(address))
	peek, err := hr.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("object header at 0x%x: %w", address, err)
	}

	var h *Header
	switch {
	case string(peek) == string(SignatureV2):
		h, err = readV2(hr, address)
	case peek[0] == 1:
		h, err = readV1(hr, address)
	default:
		return nil, fmt.Errorf("object header at 0x%x: unrecognized prefix %x: %w", address, peek, h5err.ErrCorruptMetadata)
	}
	if err != nil {
		return nil, fmt.Errorf("object header at 0x%x: %w", address, err)
	}
	if err := h.resolveShared(r, depth); err != nil {
		return nil, fmt.Errorf("object header at 0x%x: %w", address, err)
	}
	return h, nil
}

// resolveShared replaces shared messages stored in other object headers
// with the message they refer to. Messages in the shared message heap are
// left as *message.Shared.
func (h *Header) resolveShared(r *binary.Reader, depth int) error {
	for i, msg := range h.Messages {
		switch m := msg.(type) {
		case *message.Shared:
			if m.InHeap() {
				continue
			}
			target, err := sharedTarget(r, m, depth)
			if err != nil {
				return err
			}
			h.Messages[i] = target
		case *message.Attribute:
			if m.SharedDatatype == nil || m.SharedDatatype.InHeap() {
				continue
			}
			target, err := sharedTarget(r, m.SharedDatatype, depth)
			if err != nil {
				return fmt.Errorf("attribute %q: %w", m.Name, err)
			}
			if dt, ok := target.(*message.Datatype); ok {
				m.Datatype = dt
			}
		}
	}
	return nil
}

func sharedTarget(r *binary.Reader, s *message.Shared, depth int) (message.Message, error) {
	if depth >= maxSharedDepth {
		return nil, fmt.Errorf("shared message chain too deep: %w", h5err.ErrCorruptMetadata)
	}
	other, err := read(r, s.Address, depth+1)
	if err != nil {
		return nil, fmt.Errorf("shared message 0x%04x: %w", uint16(s.MessageType), err)
	}
	target := other.GetMessage(s.MessageType)
	if target == nil {
		return nil, fmt.Errorf("shared message 0x%04x missing from header at 0x%x: %w",
			uint16(s.MessageType), s.Address, h5err.ErrCorruptMetadata)
	}
	return target, nil
}

// GetMessage returns the first message of the given type, or nil if not found.
func (h *Header) GetMessage(typ message.Type) message.Message {
	for _, msg := range h.Messages {
		if msg.Type() == typ {
			return msg
		}
	}
	return nil
}

// GetMessages returns all messages of the given type.
func (h *Header) GetMessages(typ message.Type) []message.Message {
	var result []message.Message
	for _, msg := range h.Messages {
		if msg.Type() == typ {
			result = append(result, msg)
		}
	}
	return result
}

func first[T message.Message](h *Header, typ message.Type) T {
	var zero T
	for _, msg := range h.Messages {
		if msg.Type() != typ {
			continue
		}
		if m, ok := msg.(T); ok {
			return m
		}
	}
	return zero
}

// Dataspace returns the dataspace message if present.
func (h *Header) Dataspace() *message.Dataspace {
	return first[*message.Dataspace](h, message.TypeDataspace)
}

// Datatype returns the datatype message if present and resolved.
func (h *Header) Datatype() *message.Datatype {
	return first[*message.Datatype](h, message.TypeDatatype)
}

// DataLayout returns the data layout message if present.
func (h *Header) DataLayout() *message.DataLayout {
	return first[*message.DataLayout](h, message.TypeDataLayout)
}

// FilterPipeline returns the filter pipeline message if present.
func (h *Header) FilterPipeline() *message.FilterPipeline {
	return first[*message.FilterPipeline](h, message.TypeFilterPipeline)
}

// FillValue returns the fill value, preferring the current message over
// the deprecated one, which decodes with version zero.
func (h *Header) FillValue() *message.FillValue {
	var old *message.FillValue
	for _, msg := range h.Messages {
		fv, ok := msg.(*message.FillValue)
		switch {
		case !ok:
		case fv.Version > 0:
			return fv
		case old == nil:
			old = fv
		}
	}
	return old
}

// SymbolTable returns the old-style group message if present.
func (h *Header) SymbolTable() *message.SymbolTable {
	return first[*message.SymbolTable](h, message.TypeSymbolTable)
}

// LinkInfo returns the new-style group message if present.
func (h *Header) LinkInfo() *message.LinkInfo {
	return first[*message.LinkInfo](h, message.TypeLinkInfo)
}

// AttributeInfo returns the dense attribute message if present.
func (h *Header) AttributeInfo() *message.AttributeInfo {
	return first[*message.AttributeInfo](h, message.TypeAttributeInfo)
}

// Links returns the compact link messages.
func (h *Header) Links() []*message.Link {
	var out []*message.Link
	for _, msg := range h.Messages {
		if l, ok := msg.(*message.Link); ok {
			out = append(out, l)
		}
	}
	return out
}

// Attributes returns the attributes stored in the header itself.
func (h *Header) Attributes() []*message.Attribute {
	var out []*message.Attribute
	for _, msg := range h.Messages {
		if a, ok := msg.(*message.Attribute); ok {
			out = append(out, a)
		}
	}
	return out
}

// Kind classifies the object the header describes.
type Kind int

const (
	KindUnknown Kind = iota
	KindGroup
	KindDataset
	KindDatatype
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindDataset:
		return "dataset"
	case KindDatatype:
		return "datatype"
	}
	return "unknown"
}

// Kind reports whether the header describes a group, dataset or
// committed datatype.
func (h *Header) Kind() Kind {
	switch {
	case h.GetMessage(message.TypeDataLayout) != nil:
		return KindDataset
	case h.GetMessage(message.TypeSymbolTable) != nil,
		h.GetMessage(message.TypeLinkInfo) != nil,
		h.GetMessage(message.TypeLink) != nil,
		h.GetMessage(message.TypeGroupInfo) != nil:
		return KindGroup
	case h.GetMessage(message.TypeDatatype) != nil && h.GetMessage(message.TypeDataspace) == nil:
		return KindDatatype
	}
	return KindUnknown
}
