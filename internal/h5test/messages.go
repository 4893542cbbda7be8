package h5test

// Header message type codes.
const (
	TypeDataspace      = 0x01
	TypeLinkInfo       = 0x02
	TypeDatatype       = 0x03
	TypeFillValue      = 0x05
	TypeLink           = 0x06
	TypeDataLayout     = 0x08
	TypeGroupInfo      = 0x0A
	TypeFilterPipeline = 0x0B
	TypeAttribute      = 0x0C
	TypeContinuation   = 0x10
	TypeSymbolTable    = 0x11
	TypeModTime        = 0x12
	TypeAttributeInfo  = 0x15
)

// Chunk index types of version 4 layouts.
const (
	IndexSingle     = 1
	IndexImplicit   = 2
	IndexFixedArray = 3
	IndexExtensible = 4
	IndexBTreeV2    = 5
)

// Int is a little-endian integer type of size bytes.
func Int(size int, signed bool) []byte {
	bits := uint8(0)
	if signed {
		bits = 0x08
	}
	return NewEnc().U8(0x10, bits, 0, 0).U32(uint32(size)).U16(0).U16(uint16(size * 8)).Bytes()
}

// IntBE is a big-endian integer type.
func IntBE(size int, signed bool) []byte {
	t := Int(size, signed)
	t[1] |= 0x01
	return t
}

// Float32 is an IEEE little-endian single.
func Float32() []byte {
	return NewEnc().U8(0x11, 0x20, 31, 0).U32(4).U16(0).U16(32).U8(23, 8, 0, 23).U32(127).Bytes()
}

// Float64 is an IEEE little-endian double.
func Float64() []byte {
	return NewEnc().U8(0x11, 0x20, 63, 0).U32(8).U16(0).U16(64).U8(52, 11, 0, 52).U32(1023).Bytes()
}

// Float64BE is an IEEE big-endian double.
func Float64BE() []byte {
	t := Float64()
	t[1] |= 0x01
	return t
}

// FixedString is a string type of n bytes with the given padding.
func FixedString(n int, pad uint8) []byte {
	return NewEnc().U8(0x13, pad&0x0F, 0, 0).U32(uint32(n)).Bytes()
}

// VarString is a variable-length UTF-8 string type.
func VarString() []byte {
	return NewEnc().U8(0x19, 0x01, 0x01, 0).U32(16).Raw(Int(1, false)).Bytes()
}

// VarSeq is a variable-length sequence of base.
func VarSeq(base []byte) []byte {
	return NewEnc().U8(0x19, 0, 0, 0).U32(16).Raw(base).Bytes()
}

// Member is one compound member.
type Member struct {
	Name   string
	Offset uint32
	Type   []byte
}

// Compound is a version 3 compound type.
func Compound(size uint32, members ...Member) []byte {
	e := NewEnc().U8(0x36).U16(uint16(len(members))).U8(0).U32(size)
	width := 4
	switch {
	case size < 1<<8:
		width = 1
	case size < 1<<16:
		width = 2
	case size < 1<<24:
		width = 3
	}
	for _, m := range members {
		e.CStr(m.Name).UintN(uint64(m.Offset), width).Raw(m.Type)
	}
	return e.Bytes()
}

// Array is a version 3 array type over base.
func Array(base []byte, baseSize uint32, dims ...uint32) []byte {
	n := baseSize
	for _, d := range dims {
		n *= d
	}
	e := NewEnc().U8(0x3a, 0, 0, 0).U32(n).U8(uint8(len(dims)))
	for _, d := range dims {
		e.U32(d)
	}
	return e.Raw(base).Bytes()
}

// Enum is a version 3 enumeration over base.
func Enum(base []byte, names []string, values [][]byte) []byte {
	size := uint32(base[4]) | uint32(base[5])<<8
	e := NewEnc().U8(0x38).U16(uint16(len(names))).U8(0).U32(size).Raw(base)
	for _, n := range names {
		e.CStr(n)
	}
	for _, v := range values {
		e.Raw(v)
	}
	return e.Bytes()
}

// Opaque is an opaque type of size bytes.
func Opaque(size int, tag string) []byte {
	n := (len(tag) + 8) &^ 7
	e := NewEnc().U8(0x15, uint8(n), 0, 0).U32(uint32(size)).Str(tag)
	return e.Zeros(n - len(tag)).Bytes()
}

// Bitfield is a bitfield type of size bytes.
func Bitfield(size int) []byte {
	return NewEnc().U8(0x14, 0, 0, 0).U32(uint32(size)).U16(0).U16(uint16(size * 8)).Bytes()
}

// BitfieldBE is a big-endian bitfield type.
func BitfieldBE(size int) []byte {
	return NewEnc().U8(0x14, 0x01, 0, 0).U32(uint32(size)).U16(0).U16(uint16(size * 8)).Bytes()
}

// ObjectReference is an object reference type.
func ObjectReference() []byte {
	return NewEnc().U8(0x17, 0, 0, 0).U32(8).Bytes()
}

// Dataspace is a version 2 simple dataspace; no dims means scalar.
func Dataspace(dims ...uint64) Msg {
	return DataspaceMax(dims, nil)
}

// DataspaceMax is a simple dataspace with maximum dimensions.
func DataspaceMax(dims, max []uint64) Msg {
	kind := uint8(1)
	if len(dims) == 0 {
		kind = 0
	}
	flags := uint8(0)
	if max != nil {
		flags = 1
	}
	e := NewEnc().U8(2, uint8(len(dims)), flags, kind)
	for _, d := range dims {
		e.Length(d)
	}
	for _, d := range max {
		e.Length(d)
	}
	return Msg{Type: TypeDataspace, Body: e.Bytes()}
}

// NullDataspace has no elements.
func NullDataspace() Msg {
	return Msg{Type: TypeDataspace, Body: []byte{2, 0, 0, 2}}
}

// Datatype wraps an encoded type.
func Datatype(t []byte) Msg {
	return Msg{Type: TypeDatatype, Flags: 0x01, Body: t}
}

// SharedDatatype refers to a committed datatype header.
func SharedDatatype(addr uint64) Msg {
	return Msg{Type: TypeDatatype, Flags: 0x02, Body: NewEnc().U8(2, 0).Offset(addr).Bytes()}
}

// Contiguous is a version 3 contiguous layout.
func Contiguous(addr, size uint64) Msg {
	return Msg{Type: TypeDataLayout, Body: NewEnc().U8(3, 1).Offset(addr).Length(size).Bytes()}
}

// Compact is a version 3 compact layout holding data.
func Compact(data []byte) Msg {
	return Msg{Type: TypeDataLayout, Body: NewEnc().U8(3, 0).U16(uint16(len(data))).Raw(data).Bytes()}
}

// ChunkedV3 is a version 3 chunked layout indexed by a version 1 B-tree.
func ChunkedV3(btree uint64, chunk []uint64, elemSize uint32) Msg {
	e := NewEnc().U8(3, 2, uint8(len(chunk)+1)).Offset(btree)
	for _, d := range chunk {
		e.U32(uint32(d))
	}
	return Msg{Type: TypeDataLayout, Body: e.U32(elemSize).Bytes()}
}

// ChunkedV4 is a version 4 chunked layout. params are the index-specific
// fields that precede the index address.
func ChunkedV4(flags uint8, chunk []uint64, elemSize uint32, index uint8, params []byte, addr uint64) Msg {
	width := 1
	for _, d := range append([]uint64{uint64(elemSize)}, chunk...) {
		for d>>(8*width) != 0 {
			width++
		}
	}
	e := NewEnc().U8(4, 2, flags, uint8(len(chunk)+1), uint8(width))
	for _, d := range chunk {
		e.UintN(d, width)
	}
	e.UintN(uint64(elemSize), width).U8(index).Raw(params).Offset(addr)
	return Msg{Type: TypeDataLayout, Body: e.Bytes()}
}

// VirtualLayout is a version 4 virtual layout.
func VirtualLayout() Msg {
	return Msg{Type: TypeDataLayout, Body: NewEnc().U8(4, 3).Offset(Undef).U32(0).Bytes()}
}

// Filter is one pipeline entry.
type Filter struct {
	ID     uint16
	Flags  uint16
	Values []uint32
}

// Filters is a version 2 filter pipeline.
func Filters(fs ...Filter) Msg {
	e := NewEnc().U8(2, uint8(len(fs)))
	for _, f := range fs {
		e.U16(f.ID)
		if f.ID >= 256 {
			e.U16(0)
		}
		e.U16(f.Flags).U16(uint16(len(f.Values)))
		for _, v := range f.Values {
			e.U32(v)
		}
	}
	return Msg{Type: TypeFilterPipeline, Body: e.Bytes()}
}

// FillValue is a version 3 fill value message; nil means undefined.
func FillValue(v []byte) Msg {
	if v == nil {
		return Msg{Type: TypeFillValue, Body: []byte{3, 0x10 | 0x02}}
	}
	return Msg{Type: TypeFillValue, Body: NewEnc().U8(3, 0x20|0x02).U32(uint32(len(v))).Raw(v).Bytes()}
}

// LinkBody encodes a hard link record.
func LinkBody(name string, addr uint64) []byte {
	return NewEnc().U8(1, 0, uint8(len(name))).Str(name).Offset(addr).Bytes()
}

// HardLink links name to an object header.
func HardLink(name string, addr uint64) Msg {
	return Msg{Type: TypeLink, Body: LinkBody(name, addr)}
}

// SoftLink links name to a path.
func SoftLink(name, target string) Msg {
	e := NewEnc().U8(1, 0x08, 1, uint8(len(name))).Str(name).U16(uint16(len(target))).Str(target)
	return Msg{Type: TypeLink, Body: e.Bytes()}
}

// ExternalLink links name to an object in another file.
func ExternalLink(name, file, path string) Msg {
	v := NewEnc().U8(0).CStr(file).CStr(path).Bytes()
	e := NewEnc().U8(1, 0x08, 64, uint8(len(name))).Str(name).U16(uint16(len(v))).Raw(v)
	return Msg{Type: TypeLink, Body: e.Bytes()}
}

// LinkInfo points at dense link storage; Undef for compact groups.
func LinkInfo(heap, nameIndex uint64) Msg {
	return Msg{Type: TypeLinkInfo, Body: NewEnc().U8(0, 0).Offset(heap).Offset(nameIndex).Bytes()}
}

// GroupInfo carries default group storage hints.
func GroupInfo() Msg {
	return Msg{Type: TypeGroupInfo, Body: []byte{0, 0}}
}

// SymbolTable names an old-style group's B-tree and local heap.
func SymbolTable(btree, heap uint64) Msg {
	return Msg{Type: TypeSymbolTable, Body: NewEnc().Offset(btree).Offset(heap).Bytes()}
}

// AttributeBody encodes a version 3 attribute record.
func AttributeBody(name string, dtype []byte, dims []uint64, data []byte) []byte {
	space := Dataspace(dims...).Body
	e := NewEnc().U8(3, 0).U16(uint16(len(name) + 1)).U16(uint16(len(dtype))).U16(uint16(len(space))).U8(0)
	return e.CStr(name).Raw(dtype).Raw(space).Raw(data).Bytes()
}

// Attribute is a version 3 attribute message.
func Attribute(name string, dtype []byte, dims []uint64, data []byte) Msg {
	return Msg{Type: TypeAttribute, Body: AttributeBody(name, dtype, dims, data)}
}

// AttributeInfo points at dense attribute storage.
func AttributeInfo(heap, nameIndex uint64) Msg {
	return Msg{Type: TypeAttributeInfo, Body: NewEnc().U8(0, 0).Offset(heap).Offset(nameIndex).Bytes()}
}

// Continuation points at another header block.
func Continuation(addr, length uint64) Msg {
	return Msg{Type: TypeContinuation, Body: NewEnc().Offset(addr).Length(length).Bytes()}
}

// ModTime is a modification time message.
func ModTime(sec uint32) Msg {
	return Msg{Type: TypeModTime, Body: NewEnc().U8(1, 0, 0, 0).U32(sec).Bytes()}
}
