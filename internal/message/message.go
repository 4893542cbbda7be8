package message

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// Type represents an HDF5 header message type.
type Type uint16

// Header message types
const (
	TypeNIL                      Type = 0x0000
	TypeDataspace                Type = 0x0001
	TypeLinkInfo                 Type = 0x0002
	TypeDatatype                 Type = 0x0003
	TypeFillValueOld             Type = 0x0004
	TypeFillValue                Type = 0x0005
	TypeLink                     Type = 0x0006
	TypeExternalDataFiles        Type = 0x0007
	TypeDataLayout               Type = 0x0008
	TypeBogus                    Type = 0x0009
	TypeGroupInfo                Type = 0x000A
	TypeFilterPipeline           Type = 0x000B
	TypeAttribute                Type = 0x000C
	TypeObjectComment            Type = 0x000D
	TypeObjectModTimeOld         Type = 0x000E
	TypeSharedMessageTable       Type = 0x000F
	TypeObjectHeaderContinuation Type = 0x0010
	TypeSymbolTable              Type = 0x0011
	TypeObjectModTime            Type = 0x0012
	TypeBTreeKValues             Type = 0x0013
	TypeDriverInfo               Type = 0x0014
	TypeAttributeInfo            Type = 0x0015
	TypeObjectRefCount           Type = 0x0016
)

// Message flag bits.
const (
	FlagConstant = 0x01
	FlagShared   = 0x02
)

// Message is the interface implemented by all header messages.
type Message interface {
	Type() Type
}

// Parse decodes one header message body. cfg supplies the file's offset
// and length widths. Messages flagged as shared decode to *Shared, which
// the caller resolves against the referenced object header.
func Parse(typ Type, data []byte, flags uint8, cfg binpkg.Config) (Message, error) {
	if flags&FlagShared != 0 {
		return parseShared(typ, data, cfg)
	}
	c := binpkg.NewBytesReader(data, 0, cfg)
	var (
		msg Message
		err error
	)
	switch typ {
	case TypeDataspace:
		msg, err = parseDataspace(c)
	case TypeDatatype:
		msg, err = parseDatatype(c)
	case TypeDataLayout:
		msg, err = parseDataLayout(c)
	case TypeFilterPipeline:
		msg, err = parseFilterPipeline(c)
	case TypeFillValueOld:
		msg, err = parseFillValueOld(c)
	case TypeFillValue:
		msg, err = parseFillValue(c)
	case TypeAttribute:
		msg, err = parseAttribute(c, len(data))
	case TypeLink:
		msg, err = parseLink(c)
	case TypeLinkInfo:
		msg, err = parseLinkInfo(c)
	case TypeGroupInfo:
		msg, err = parseGroupInfo(c)
	case TypeAttributeInfo:
		msg, err = parseAttributeInfo(c)
	case TypeSymbolTable:
		msg, err = parseSymbolTable(c)
	case TypeObjectHeaderContinuation:
		msg, err = parseContinuation(c)
	default:
		return &Unknown{typ: typ, data: data}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("message type 0x%04x: %w", uint16(typ), err)
	}
	return msg, nil
}

// corrupt wraps a decoding failure as ErrCorruptMetadata.
func corrupt(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, h5err.ErrCorruptMetadata)...)
}

// Unknown preserves a message type this package does not decode.
type Unknown struct {
	typ  Type
	data []byte
}

func (m *Unknown) Type() Type   { return m.typ }
func (m *Unknown) Data() []byte { return m.data }

// Shared stands in for a message stored in another object header, such as
// a committed datatype.
type Shared struct {
	MessageType Type
	Version     uint8
	// Address of the object header holding the message. Messages kept in
	// the shared message heap have HeapID set instead.
	Address uint64
	HeapID  []byte
}

func (m *Shared) Type() Type { return m.MessageType }

// InHeap reports whether the message lives in the shared message heap.
func (m *Shared) InHeap() bool { return m.HeapID != nil }

func parseShared(typ Type, data []byte, cfg binpkg.Config) (*Shared, error) {
	c := binpkg.NewBytesReader(data, 0, cfg)
	version, err := c.ReadUint8()
	if err != nil {
		return nil, err
	}
	kind, err := c.ReadUint8()
	if err != nil {
		return nil, err
	}
	s := &Shared{MessageType: typ, Version: version}
	switch version {
	case 1:
		c.Skip(6)
	case 2:
	case 3:
		if kind == 1 {
			if s.HeapID, err = c.ReadBytes(8); err != nil {
				return nil, err
			}
			return s, nil
		}
	default:
		return nil, fmt.Errorf("shared message version %d: %w", version, h5err.ErrUnsupportedVersion)
	}
	if s.Address, err = c.ReadOffset(); err != nil {
		return nil, err
	}
	return s, nil
}

// Continuation points at the next block of header messages.
type Continuation struct {
	Offset uint64
	Length uint64
}

func (m *Continuation) Type() Type { return TypeObjectHeaderContinuation }

func parseContinuation(c *binpkg.Reader) (*Continuation, error) {
	off, err := c.ReadOffset()
	if err != nil {
		return nil, err
	}
	n, err := c.ReadLength()
	if err != nil {
		return nil, err
	}
	return &Continuation{Offset: off, Length: n}, nil
}

// SymbolTable names the v1 B-tree and local heap of an old-style group.
type SymbolTable struct {
	BTreeAddress     uint64
	LocalHeapAddress uint64
}

func (m *SymbolTable) Type() Type { return TypeSymbolTable }

func parseSymbolTable(c *binpkg.Reader) (*SymbolTable, error) {
	bt, err := c.ReadOffset()
	if err != nil {
		return nil, err
	}
	lh, err := c.ReadOffset()
	if err != nil {
		return nil, err
	}
	return &SymbolTable{BTreeAddress: bt, LocalHeapAddress: lh}, nil
}

// LinkInfo locates the dense link storage of a new-style group.
type LinkInfo struct {
	Version              uint8
	Flags                uint8
	MaxCreationIndex     uint64
	FractalHeapAddress   uint64
	NameIndexAddress     uint64
	CreationOrderAddress uint64
}

func (m *LinkInfo) Type() Type { return TypeLinkInfo }

func parseLinkInfo(c *binpkg.Reader) (*LinkInfo, error) {
	li := &LinkInfo{}
	var err error
	if li.Version, err = c.ReadUint8(); err != nil {
		return nil, err
	}
	if li.Version != 0 {
		return nil, fmt.Errorf("link info version %d: %w", li.Version, h5err.ErrUnsupportedVersion)
	}
	if li.Flags, err = c.ReadUint8(); err != nil {
		return nil, err
	}
	if li.Flags&0x01 != 0 {
		if li.MaxCreationIndex, err = c.ReadUint64(); err != nil {
			return nil, err
		}
	}
	if li.FractalHeapAddress, err = c.ReadOffset(); err != nil {
		return nil, err
	}
	if li.NameIndexAddress, err = c.ReadOffset(); err != nil {
		return nil, err
	}
	if li.Flags&0x02 != 0 {
		if li.CreationOrderAddress, err = c.ReadOffset(); err != nil {
			return nil, err
		}
	}
	return li, nil
}

// GroupInfo carries storage hints for a new-style group.
type GroupInfo struct {
	MaxCompact    uint16
	MinDense      uint16
	EstNumEntries uint16
	EstNameLength uint16
}

func (m *GroupInfo) Type() Type { return TypeGroupInfo }

func parseGroupInfo(c *binpkg.Reader) (*GroupInfo, error) {
	hdr, err := c.ReadBytes(2)
	if err != nil {
		return nil, err
	}
	gi := &GroupInfo{}
	if hdr[1]&0x01 != 0 {
		if gi.MaxCompact, err = c.ReadUint16(); err != nil {
			return nil, err
		}
		if gi.MinDense, err = c.ReadUint16(); err != nil {
			return nil, err
		}
	}
	if hdr[1]&0x02 != 0 {
		if gi.EstNumEntries, err = c.ReadUint16(); err != nil {
			return nil, err
		}
		if gi.EstNameLength, err = c.ReadUint16(); err != nil {
			return nil, err
		}
	}
	return gi, nil
}

// AttributeInfo locates dense attribute storage.
type AttributeInfo struct {
	Flags                uint8
	MaxCreationIndex     uint16
	FractalHeapAddress   uint64
	NameIndexAddress     uint64
	CreationOrderAddress uint64
}

func (m *AttributeInfo) Type() Type { return TypeAttributeInfo }

func parseAttributeInfo(c *binpkg.Reader) (*AttributeInfo, error) {
	hdr, err := c.ReadBytes(2)
	if err != nil {
		return nil, err
	}
	if hdr[0] != 0 {
		return nil, fmt.Errorf("attribute info version %d: %w", hdr[0], h5err.ErrUnsupportedVersion)
	}
	ai := &AttributeInfo{Flags: hdr[1]}
	if ai.Flags&0x01 != 0 {
		if ai.MaxCreationIndex, err = c.ReadUint16(); err != nil {
			return nil, err
		}
	}
	if ai.FractalHeapAddress, err = c.ReadOffset(); err != nil {
		return nil, err
	}
	if ai.NameIndexAddress, err = c.ReadOffset(); err != nil {
		return nil, err
	}
	if ai.Flags&0x02 != 0 {
		if ai.CreationOrderAddress, err = c.ReadOffset(); err != nil {
			return nil, err
		}
	}
	return ai, nil
}

// readCString reads a NUL-terminated string occupying at most max bytes
// and advances past all max bytes.
func readCString(c *binpkg.Reader, max int) (string, error) {
	b, err := c.ReadBytes(max)
	if err != nil {
		return "", err
	}
	for i, ch := range b {
		if ch == 0 {
			return string(b[:i]), nil
		}
	}
	return string(b), nil
}

// readNulTerminated reads bytes up to and including a NUL.
func readNulTerminated(c *binpkg.Reader) (string, error) {
	var out []byte
	for {
		ch, err := c.ReadUint8()
		if err != nil {
			return "", err
		}
		if ch == 0 {
			return string(out), nil
		}
		out = append(out, ch)
	}
}

// pad8 rounds n up to a multiple of eight.
func pad8(n int) int {
	return (n + 7) &^ 7
}
