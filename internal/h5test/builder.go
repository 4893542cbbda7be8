// Package h5test builds synthetic HDF5 files in memory for tests.
//
// A Builder appends metadata and data blocks at eight-byte aligned
// addresses behind the space reserved for the superblock, then renders the
// whole file with Bytes. Offsets and lengths are eight bytes wide and all
// addresses handed out are relative to the superblock, so a file rendered
// with a user block exercises base address handling.
package h5test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
)

var signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// Builder lays out a synthetic file.
type Builder struct {
	version   uint8
	userBlock int
	data      []byte

	rootBTree, rootHeap uint64
}

// New returns a builder for a file with the given superblock version
// (0, 1, 2 or 3). Versions 0 and 1 get version 1 object headers.
func New(version uint8) *Builder {
	b := &Builder{version: version, rootBTree: Undef, rootHeap: Undef}
	switch version {
	case 0:
		b.data = make([]byte, 96)
	case 1:
		b.data = make([]byte, 104)
	default:
		b.data = make([]byte, 48)
	}
	return b
}

// WithUserBlock places the superblock n bytes into the file.
func (b *Builder) WithUserBlock(n int) *Builder {
	b.userBlock = n
	return b
}

// Next returns the address the next Append will use.
func (b *Builder) Next() uint64 {
	return uint64((len(b.data) + 7) &^ 7)
}

// Append stores block at the next aligned address and returns it.
func (b *Builder) Append(block []byte) uint64 {
	addr := b.Next()
	b.data = append(b.data, make([]byte, int(addr)-len(b.data))...)
	b.data = append(b.data, block...)
	return addr
}

// Reserve allocates n zero bytes to be filled later with Put.
func (b *Builder) Reserve(n int) uint64 {
	return b.Append(make([]byte, n))
}

// Put overwrites bytes at addr.
func (b *Builder) Put(addr uint64, block []byte) {
	copy(b.data[addr:], block)
}

// SetRootCache records the old-style root group B-tree and local heap in
// the version 0/1 superblock scratch pad.
func (b *Builder) SetRootCache(btree, heap uint64) {
	b.rootBTree, b.rootHeap = btree, heap
}

// Bytes renders the file with root as the root group object header.
func (b *Builder) Bytes(root uint64) []byte {
	eof := uint64(len(b.data))
	e := NewEnc().Raw(signature)
	switch b.version {
	case 0, 1:
		e.U8(b.version, 0, 0, 0, 0, 8, 8, 0)
		e.U16(4).U16(16).U32(0)
		if b.version == 1 {
			e.U16(32).U16(0)
		}
		e.Offset(uint64(b.userBlock)).Offset(Undef).Offset(eof).Offset(Undef)
		cache := uint32(0)
		if b.rootBTree != Undef {
			cache = 1
		}
		e.Offset(0).Offset(root).U32(cache).U32(0)
		e.Offset(b.rootBTree).Offset(b.rootHeap)
	default:
		e.U8(b.version, 8, 8, 0)
		e.Offset(uint64(b.userBlock)).Offset(Undef).Offset(eof).Offset(root)
		e.Checksum()
	}
	out := make([]byte, b.userBlock+len(b.data))
	copy(out[b.userBlock:], b.data)
	copy(out[b.userBlock:], e.Bytes())
	return out
}

// Reader returns a decoder over the rendered file, for tests of the
// metadata packages that never touch the superblock.
func (b *Builder) Reader() *binpkg.Reader {
	return binpkg.NewBytesReader(b.Bytes(Undef), 0, binpkg.DefaultConfig())
}

// WriteFile renders the file into a temporary directory and returns its
// path.
func (b *Builder) WriteFile(t testing.TB, root uint64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.h5")
	if err := os.WriteFile(path, b.Bytes(root), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Msg is one header message.
type Msg struct {
	Type  uint16
	Flags uint8
	Body  []byte
}

// ObjectHeader appends a header in the format matching the superblock.
func (b *Builder) ObjectHeader(msgs ...Msg) uint64 {
	if b.version < 2 {
		return b.Append(HeaderV1(msgs...))
	}
	return b.Append(HeaderV2(0, msgs...))
}

// HeaderV1 encodes a version 1 object header.
func HeaderV1(msgs ...Msg) []byte {
	body := encodeV1Messages(msgs)
	e := NewEnc().U8(1, 0).U16(uint16(len(msgs))).U32(1).U32(uint32(len(body))).Zeros(4)
	return e.Raw(body).Bytes()
}

func encodeV1Messages(msgs []Msg) []byte {
	e := NewEnc()
	for _, m := range msgs {
		n := (len(m.Body) + 7) &^ 7
		e.U16(m.Type).U16(uint16(n)).U8(m.Flags, 0, 0, 0).Raw(m.Body).Zeros(n - len(m.Body))
	}
	return e.Bytes()
}

// HeaderV2 encodes a version 2 object header. Flag bit 0x04 adds creation
// order fields and 0x20 adds timestamps; the chunk size width is always
// four bytes.
func HeaderV2(flags uint8, msgs ...Msg) []byte {
	flags = flags&^0x03 | 0x02
	body := encodeV2Messages(flags, msgs)
	e := NewEnc().Str("OHDR").U8(2, flags)
	if flags&0x20 != 0 {
		e.U32(1700000000).U32(1700000001).U32(1700000002).U32(1700000003)
	}
	if flags&0x10 != 0 {
		e.U16(8).U16(6)
	}
	e.U32(uint32(len(body))).Raw(body)
	return e.Checksum().Bytes()
}

func encodeV2Messages(flags uint8, msgs []Msg) []byte {
	e := NewEnc()
	for i, m := range msgs {
		e.U8(uint8(m.Type)).U16(uint16(len(m.Body))).U8(m.Flags)
		if flags&0x04 != 0 {
			e.U16(uint16(i))
		}
		e.Raw(m.Body)
	}
	return e.Bytes()
}

// ContinuationV1 appends a version 1 continuation block holding msgs and
// returns the message pointing at it.
func (b *Builder) ContinuationV1(msgs ...Msg) Msg {
	block := encodeV1Messages(msgs)
	return Continuation(b.Append(block), uint64(len(block)))
}

// ContinuationV2 appends an OCHK block holding msgs and returns the message
// pointing at it.
func (b *Builder) ContinuationV2(msgs ...Msg) Msg {
	block := OCHK(msgs...)
	return Continuation(b.Append(block), uint64(len(block)))
}

// OCHK encodes a version 2 continuation block.
func OCHK(msgs ...Msg) []byte {
	return NewEnc().Str("OCHK").Raw(encodeV2Messages(0, msgs)).Checksum().Bytes()
}

// Group appends a new-style group header holding links.
func (b *Builder) Group(links ...Msg) uint64 {
	if b.version < 2 {
		return b.ObjectHeader(links...)
	}
	msgs := append([]Msg{LinkInfo(Undef, Undef), GroupInfo()}, links...)
	return b.ObjectHeader(msgs...)
}

// Data appends raw dataset bytes and returns a contiguous layout message
// covering them.
func (b *Builder) Data(raw []byte) Msg {
	return Contiguous(b.Append(raw), uint64(len(raw)))
}

// Dataset appends a dataset header with the given type, shape and layout.
func (b *Builder) Dataset(dtype []byte, dims []uint64, layout Msg, extra ...Msg) uint64 {
	msgs := append([]Msg{Dataspace(dims...), Datatype(dtype), layout}, extra...)
	return b.ObjectHeader(msgs...)
}

// LE encodes values as little-endian bytes.
func LE[T uint8 | uint16 | uint32 | uint64 | int8 | int16 | int32 | int64 | float32 | float64](vals ...T) []byte {
	var out []byte
	for _, v := range vals {
		out, _ = binary.Append(out, binary.LittleEndian, v)
	}
	return out
}

// BE encodes values as big-endian bytes.
func BE[T uint8 | uint16 | uint32 | uint64 | int8 | int16 | int32 | int64 | float32 | float64](vals ...T) []byte {
	var out []byte
	for _, v := range vals {
		out, _ = binary.Append(out, binary.BigEndian, v)
	}
	return out
}

// Checksummed appends the lookup3 checksum of block.
func Checksummed(block []byte) []byte {
	return binary.LittleEndian.AppendUint32(block, binpkg.Lookup3Checksum(block))
}
