package heap

import (
	"fmt"
	"sync"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// Global is one global heap collection ("GCOL").
type Global struct {
	Address uint64
	Size    uint64
	objects map[uint16][]byte
}

// ReadGlobal reads the collection at addr and indexes its objects.
func ReadGlobal(r *binpkg.Reader, addr uint64) (*Global, error) {
	if addr == 0 || r.IsUndefinedOffset(addr) {
		return nil, fmt.Errorf("global heap at address 0x%x: %w", addr, h5err.ErrCorruptMetadata)
	}
	hr := r.At(int64(addr))
	if err := hr.ReadSignature("GCOL"); err != nil {
		return nil, err
	}
	version, err := hr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, fmt.Errorf("global heap version %d: %w", version, h5err.ErrUnsupportedVersion)
	}
	hr.Skip(3)
	size, err := hr.ReadLength()
	if err != nil {
		return nil, err
	}
	header := uint64(8 + r.LengthSize())
	if size < header || size > 1<<30 {
		return nil, fmt.Errorf("global heap collection size %d: %w", size, h5err.ErrCorruptMetadata)
	}

	// One request for the whole collection.
	w, err := r.At(int64(addr)).Window(int(size))
	if err != nil {
		return nil, err
	}
	w.Skip(int64(header))
	end := int64(addr + size)
	objHeader := int64(8 + r.LengthSize())

	g := &Global{Address: addr, Size: size, objects: make(map[uint16][]byte)}
	for end-w.Pos() >= objHeader {
		index, err := w.ReadUint16()
		if err != nil {
			return nil, err
		}
		if index == 0 {
			// Free space runs to the end of the collection.
			break
		}
		w.Skip(6) // reference count, reserved
		n, err := w.ReadLength()
		if err != nil {
			return nil, err
		}
		if n > uint64(end-w.Pos()) {
			return nil, fmt.Errorf("global heap object %d size %d overruns collection: %w", index, n, h5err.ErrCorruptMetadata)
		}
		data, err := w.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		g.objects[index] = data
		w.Align(int64(addr), 8)
	}
	return g, nil
}

// Object returns a copy of the object with the given index.
func (g *Global) Object(index uint32) ([]byte, error) {
	data, ok := g.objects[uint16(index)]
	if !ok || index > 0xFFFF {
		return nil, fmt.Errorf("object %d not in global heap at 0x%x: %w", index, g.Address, h5err.ErrCorruptMetadata)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of objects in the collection.
func (g *Global) Len() int { return len(g.objects) }

// VlenRef is the on-disk form of one variable-length element.
type VlenRef struct {
	Length     uint32
	Collection uint64
	Index      uint32
}

// ParseVlenRef decodes a variable-length element: a 4-byte length, the
// collection address and a 4-byte object index.
func ParseVlenRef(b []byte, offsetSize int) (VlenRef, error) {
	if len(b) < 8+offsetSize {
		return VlenRef{}, fmt.Errorf("variable-length element of %d bytes: %w", len(b), h5err.ErrCorruptMetadata)
	}
	return VlenRef{
		Length:     uint32(binpkg.DecodeUint(b, 4)),
		Collection: binpkg.DecodeUint(b[4:], offsetSize),
		Index:      uint32(binpkg.DecodeUint(b[4+offsetSize:], 4)),
	}, nil
}

// Collections memoizes global heap collections by address so a dataset of
// variable-length strings reads each collection once.
type Collections struct {
	r  *binpkg.Reader
	mu sync.Mutex
	m  map[uint64]*Global
}

// NewCollections returns an empty collection memo over r.
func NewCollections(r *binpkg.Reader) *Collections {
	return &Collections{r: r, m: make(map[uint64]*Global)}
}

// Resolve returns the bytes a variable-length element refers to. A zero
// length element with an undefined or zero collection is empty.
func (c *Collections) Resolve(ref VlenRef) ([]byte, error) {
	if ref.Length == 0 && (ref.Collection == 0 || c.r.IsUndefinedOffset(ref.Collection)) {
		return []byte{}, nil
	}
	c.mu.Lock()
	g, ok := c.m[ref.Collection]
	c.mu.Unlock()
	if !ok {
		var err error
		if g, err = ReadGlobal(c.r, ref.Collection); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.m[ref.Collection] = g
		c.mu.Unlock()
	}
	return g.Object(ref.Index)
}
