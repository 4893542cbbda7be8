package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

var cfg = binpkg.DefaultConfig()

// enc builds little-endian message bodies.
type enc struct{ bytes.Buffer }

func (e *enc) u8(v ...uint8) *enc { e.Write(v); return e }
func (e *enc) u16(v uint16) *enc  { binary.Write(&e.Buffer, binary.LittleEndian, v); return e }
func (e *enc) u32(v uint32) *enc  { binary.Write(&e.Buffer, binary.LittleEndian, v); return e }
func (e *enc) u64(v uint64) *enc  { binary.Write(&e.Buffer, binary.LittleEndian, v); return e }
func (e *enc) str(s string) *enc  { e.WriteString(s); return e }

func parse(t *testing.T, typ Type, data []byte) Message {
	t.Helper()
	msg, err := Parse(typ, data, 0, cfg)
	if err != nil {
		t.Fatalf("Parse(0x%x): %v", uint16(typ), err)
	}
	return msg
}

func i32Type() *enc {
	return new(enc).u8(0x10, 0x08, 0, 0).u32(4).u16(0).u16(32)
}

func f32Type() *enc {
	return new(enc).u8(0x11, 0x20, 0x1f, 0).u32(4).u16(0).u16(32).u8(23, 8, 0, 23).u32(127)
}

func TestDataspace(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		kind    DataspaceType
		dims    []uint64
		maxDims []uint64
		n       uint64
	}{
		{"v2 scalar", []byte{2, 0, 0, 0}, DataspaceScalar, nil, nil, 1},
		{"v2 null", []byte{2, 0, 0, 2}, DataspaceNull, nil, nil, 0},
		{"v2 2d", new(enc).u8(2, 2, 0, 1).u64(10).u64(3).Bytes(), DataspaceSimple, []uint64{10, 3}, nil, 30},
		{"v2 max dims", new(enc).u8(2, 1, 1, 1).u64(5).u64(^uint64(0)).Bytes(), DataspaceSimple, []uint64{5}, []uint64{^uint64(0)}, 5},
		{"v1 1d", new(enc).u8(1, 1, 0, 0).u32(0).u64(7).Bytes(), DataspaceSimple, []uint64{7}, nil, 7},
		{"v1 scalar", new(enc).u8(1, 0, 0, 0).u32(0).Bytes(), DataspaceScalar, nil, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := parse(t, TypeDataspace, tt.data).(*Dataspace)
			if ds.SpaceType != tt.kind {
				t.Errorf("type = %d, want %d", ds.SpaceType, tt.kind)
			}
			if !equalU64(ds.Dimensions, tt.dims) || !equalU64(ds.MaxDims, tt.maxDims) {
				t.Errorf("dims = %v max %v", ds.Dimensions, ds.MaxDims)
			}
			if ds.NumElements() != tt.n {
				t.Errorf("NumElements = %d, want %d", ds.NumElements(), tt.n)
			}
		})
	}

	_, err := Parse(TypeDataspace, []byte{2, 2, 0, 1, 1}, 0, cfg)
	if !errors.Is(err, h5err.ErrCorruptMetadata) {
		t.Errorf("truncated: %v", err)
	}
	_, err = Parse(TypeDataspace, []byte{9, 0, 0, 0}, 0, cfg)
	if !errors.Is(err, h5err.ErrUnsupportedVersion) {
		t.Errorf("bad version: %v", err)
	}
}

func equalU64(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDatatypeAtomic(t *testing.T) {
	dt := parse(t, TypeDatatype, i32Type().Bytes()).(*Datatype)
	if dt.Class != ClassFixedPoint || dt.Size != 4 || !dt.Signed || dt.ByteOrder != OrderLE || dt.BitPrecision != 32 {
		t.Errorf("int32: %+v", dt)
	}

	be := new(enc).u8(0x10, 0x01, 0, 0).u32(2).u16(0).u16(16).Bytes()
	dt = parse(t, TypeDatatype, be).(*Datatype)
	if dt.Signed || dt.ByteOrder != OrderBE {
		t.Errorf("uint16 BE: %+v", dt)
	}

	dt = parse(t, TypeDatatype, f32Type().Bytes()).(*Datatype)
	if dt.Class != ClassFloatPoint || dt.SignLocation != 31 || dt.ExpSize != 8 || dt.MantSize != 23 || dt.ExpBias != 127 {
		t.Errorf("float32: %+v", dt)
	}

	str := new(enc).u8(0x13, 0x12, 0, 0).u32(16).Bytes()
	dt = parse(t, TypeDatatype, str).(*Datatype)
	if dt.Class != ClassString || dt.StringPadding != PadSpacePad || dt.CharSet != CharsetUTF8 || dt.Size != 16 {
		t.Errorf("string: %+v", dt)
	}

	opaque := new(enc).u8(0x15, 8, 0, 0).u32(4).str("tag\x00\x00\x00\x00\x00").Bytes()
	dt = parse(t, TypeDatatype, opaque).(*Datatype)
	if dt.OpaqueTag != "tag" {
		t.Errorf("opaque tag %q", dt.OpaqueTag)
	}
}

func TestDatatypeCompound(t *testing.T) {
	// Version 3: unpadded names, one-byte offsets for size < 256.
	e := new(enc).u8(0x36, 2, 0, 0).u32(8)
	e.str("a\x00").u8(0)
	e.Write(i32Type().Bytes())
	e.str("b\x00").u8(4)
	e.Write(f32Type().Bytes())

	dt := parse(t, TypeDatatype, e.Bytes()).(*Datatype)
	if len(dt.Members) != 2 {
		t.Fatalf("members = %d", len(dt.Members))
	}
	if dt.Members[1].Name != "b" || dt.Members[1].ByteOffset != 4 || dt.Members[1].Type.Class != ClassFloatPoint {
		t.Errorf("member b: %+v", dt.Members[1])
	}

	// Version 1: names padded to eight bytes, four-byte offsets and the
	// legacy dimension block.
	e = new(enc).u8(0x16, 1, 0, 0).u32(4)
	e.str("value\x00\x00\x00").u32(0)
	e.Write(make([]byte, 28))
	e.Write(i32Type().Bytes())
	dt = parse(t, TypeDatatype, e.Bytes()).(*Datatype)
	if len(dt.Members) != 1 || dt.Members[0].Name != "value" {
		t.Errorf("v1 compound: %+v", dt.Members)
	}

	// Member past the end of the compound.
	e = new(enc).u8(0x36, 1, 0, 0).u32(4)
	e.str("x\x00").u8(2)
	e.Write(i32Type().Bytes())
	if _, err := Parse(TypeDatatype, e.Bytes(), 0, cfg); !errors.Is(err, h5err.ErrCorruptMetadata) {
		t.Errorf("overrun: %v", err)
	}
}

func TestDatatypeArrayEnumVarLen(t *testing.T) {
	e := new(enc).u8(0x3a, 0, 0, 0).u32(12).u8(1).u32(3)
	e.Write(i32Type().Bytes())
	dt := parse(t, TypeDatatype, e.Bytes()).(*Datatype)
	if len(dt.ArrayDims) != 1 || dt.ArrayDims[0] != 3 || dt.BaseType.Size != 4 {
		t.Errorf("array: %+v", dt)
	}

	e = new(enc).u8(0x38, 2, 0, 0).u32(4)
	e.Write(i32Type().Bytes())
	e.str("OFF\x00ON\x00").u32(0).u32(1)
	dt = parse(t, TypeDatatype, e.Bytes()).(*Datatype)
	if len(dt.EnumNames) != 2 || dt.EnumNames[1] != "ON" || dt.EnumValues[1][0] != 1 {
		t.Errorf("enum: %+v", dt)
	}

	e = new(enc).u8(0x19, 0x01, 0x01, 0).u32(16)
	e.u8(0x10, 0, 0, 0).u32(1).u16(0).u16(8)
	dt = parse(t, TypeDatatype, e.Bytes()).(*Datatype)
	if !dt.IsVarLenString || !dt.IsString() || dt.CharSet != CharsetUTF8 || dt.BaseType.Size != 1 {
		t.Errorf("vlen string: %+v", dt)
	}
	if !dt.HasVarLen() {
		t.Error("HasVarLen = false")
	}
}

func TestDataLayout(t *testing.T) {
	t.Run("v3 contiguous", func(t *testing.T) {
		l := parse(t, TypeDataLayout, new(enc).u8(3, 1).u64(2048).u64(400).Bytes()).(*DataLayout)
		if l.Class != LayoutContiguous || l.Address != 2048 || l.Size != 400 {
			t.Errorf("%+v", l)
		}
	})
	t.Run("v3 compact", func(t *testing.T) {
		l := parse(t, TypeDataLayout, new(enc).u8(3, 0).u16(3).u8(7, 8, 9).Bytes()).(*DataLayout)
		if l.Class != LayoutCompact || !bytes.Equal(l.CompactData, []byte{7, 8, 9}) {
			t.Errorf("%+v", l)
		}
	})
	t.Run("v3 chunked", func(t *testing.T) {
		l := parse(t, TypeDataLayout, new(enc).u8(3, 2, 3).u64(800).u32(10).u32(5).u32(4).Bytes()).(*DataLayout)
		if l.ChunkIndexType != ChunkIndexBTreeV1 || l.ChunkIndexAddr != 800 || l.ElementSize != 4 {
			t.Errorf("%+v", l)
		}
		if !equalU64(l.ChunkDims, []uint64{10, 5}) || l.ChunkBytes() != 200 {
			t.Errorf("dims %v bytes %d", l.ChunkDims, l.ChunkBytes())
		}
	})
	t.Run("v1 contiguous", func(t *testing.T) {
		l := parse(t, TypeDataLayout, new(enc).u8(1, 2, 1, 0).u32(0).u64(512).u32(25).u32(8).Bytes()).(*DataLayout)
		if l.Class != LayoutContiguous || l.Address != 512 || l.Size != 200 {
			t.Errorf("%+v", l)
		}
	})
	t.Run("v4 fixed array", func(t *testing.T) {
		l := parse(t, TypeDataLayout, new(enc).u8(4, 2, 0, 2, 2).u16(100).u16(8).u8(3, 10).u64(4096).Bytes()).(*DataLayout)
		if l.ChunkIndexType != ChunkIndexFixedArray || l.FAPageBits != 10 || l.ChunkIndexAddr != 4096 {
			t.Errorf("%+v", l)
		}
		if !equalU64(l.ChunkDims, []uint64{100}) || l.ElementSize != 8 {
			t.Errorf("dims %v", l.ChunkDims)
		}
	})
	t.Run("v4 extensible array", func(t *testing.T) {
		l := parse(t, TypeDataLayout, new(enc).u8(4, 2, 0, 2, 1).u8(64, 4).u8(4, 32, 4, 4, 16, 10).u64(5000).Bytes()).(*DataLayout)
		if l.ChunkIndexType != ChunkIndexExtensibleArray || l.EAMaxBits != 32 || l.EAPageBits != 10 || l.ChunkIndexAddr != 5000 {
			t.Errorf("%+v", l)
		}
	})
	t.Run("v4 single filtered", func(t *testing.T) {
		l := parse(t, TypeDataLayout, new(enc).u8(4, 2, ChunkSingleIndexWithFilter, 2, 1).u8(50, 4).u8(1).u64(123).u32(0).u64(6000).Bytes()).(*DataLayout)
		if l.ChunkIndexType != ChunkIndexSingleChunk || l.SingleFilteredSize != 123 || l.ChunkIndexAddr != 6000 {
			t.Errorf("%+v", l)
		}
	})
	t.Run("v4 unknown index", func(t *testing.T) {
		_, err := Parse(TypeDataLayout, new(enc).u8(4, 2, 0, 2, 1).u8(50, 4).u8(9).u64(1).Bytes(), 0, cfg)
		if !errors.Is(err, h5err.ErrUnsupportedChunkIndex) {
			t.Errorf("got %v", err)
		}
	})
	t.Run("v4 virtual", func(t *testing.T) {
		l := parse(t, TypeDataLayout, new(enc).u8(4, 3).u64(7000).u32(2).Bytes()).(*DataLayout)
		if l.Class != LayoutVirtual || l.VirtualHeapAddress != 7000 {
			t.Errorf("%+v", l)
		}
	})
	t.Run("bad version", func(t *testing.T) {
		_, err := Parse(TypeDataLayout, []byte{7, 1}, 0, cfg)
		if !errors.Is(err, h5err.ErrUnsupportedVersion) {
			t.Errorf("got %v", err)
		}
	})
}

func TestFilterPipeline(t *testing.T) {
	v2 := new(enc).u8(2, 2).
		u16(FilterShuffle).u16(0).u16(1).u32(4).
		u16(FilterDeflate).u16(1).u16(1).u32(6).Bytes()
	fp := parse(t, TypeFilterPipeline, v2).(*FilterPipeline)
	if len(fp.Filters) != 2 || fp.Filters[0].ID != FilterShuffle || fp.Filters[1].ClientData[0] != 6 {
		t.Errorf("v2: %+v", fp.Filters)
	}
	if !fp.Filters[1].IsOptional() || !fp.HasFilter(FilterDeflate) || fp.HasFilter(FilterNBit) {
		t.Errorf("flags: %+v", fp.Filters)
	}

	v1 := new(enc).u8(1, 1, 0, 0, 0, 0, 0, 0).
		u16(FilterFletcher32).u16(8).u16(0).u16(1).str("fletch\x00\x00").u32(0).u32(0).Bytes()
	fp = parse(t, TypeFilterPipeline, v1).(*FilterPipeline)
	if fp.Filters[0].Name != "fletch" || len(fp.Filters[0].ClientData) != 1 {
		t.Errorf("v1: %+v", fp.Filters[0])
	}
}

func TestFillValue(t *testing.T) {
	fv := parse(t, TypeFillValue, new(enc).u8(3, 0x20|0x02).u32(4).u8(0xff, 0xff, 0x7f, 0x7f).Bytes()).(*FillValue)
	if !fv.IsDefined || len(fv.Value) != 4 {
		t.Errorf("v3 defined: %+v", fv)
	}
	fv = parse(t, TypeFillValue, []byte{3, 0x10}).(*FillValue)
	if fv.IsDefined || fv.Value != nil {
		t.Errorf("v3 undefined: %+v", fv)
	}
	fv = parse(t, TypeFillValue, new(enc).u8(2, 1, 0, 1).u32(2).u8(1, 2).Bytes()).(*FillValue)
	if !bytes.Equal(fv.Value, []byte{1, 2}) {
		t.Errorf("v2: %+v", fv)
	}
	fv = parse(t, TypeFillValue, []byte{2, 1, 0, 0}).(*FillValue)
	if fv.Value != nil {
		t.Errorf("v2 undefined: %+v", fv)
	}
	fv = parse(t, TypeFillValueOld, new(enc).u32(1).u8(9).Bytes()).(*FillValue)
	if !bytes.Equal(fv.Value, []byte{9}) {
		t.Errorf("old: %+v", fv)
	}
}

func TestLink(t *testing.T) {
	hard := new(enc).u8(1, 0).u8(4).str("data").u64(1234).Bytes()
	l := parse(t, TypeLink, hard).(*Link)
	if !l.IsHard() || l.Name != "data" || l.ObjectAddress != 1234 {
		t.Errorf("hard: %+v", l)
	}

	soft := new(enc).u8(1, 0x08|0x04).u8(1).u64(3).u8(5).str("alias").u16(6).str("/x/y/z").Bytes()
	l = parse(t, TypeLink, soft).(*Link)
	if !l.IsSoft() || l.SoftLinkValue != "/x/y/z" || l.CreationOrder != 3 {
		t.Errorf("soft: %+v", l)
	}

	ext := new(enc).u8(1, 0x08).u8(64).u8(3).str("ext").u16(11).u8(0).str("f.h5\x00/grp\x00").Bytes()
	l = parse(t, TypeLink, ext).(*Link)
	if !l.IsExternal() || l.ExternalFile != "f.h5" || l.ExternalPath != "/grp" {
		t.Errorf("external: %+v", l)
	}
}

func TestLinkAndAttributeInfo(t *testing.T) {
	li := parse(t, TypeLinkInfo, new(enc).u8(0, 0x01).u64(9).u64(100).u64(200).Bytes()).(*LinkInfo)
	if li.MaxCreationIndex != 9 || li.FractalHeapAddress != 100 || li.NameIndexAddress != 200 {
		t.Errorf("link info: %+v", li)
	}
	ai := parse(t, TypeAttributeInfo, new(enc).u8(0, 0x02).u64(300).u64(400).u64(500).Bytes()).(*AttributeInfo)
	if ai.FractalHeapAddress != 300 || ai.NameIndexAddress != 400 || ai.CreationOrderAddress != 500 {
		t.Errorf("attribute info: %+v", ai)
	}
	gi := parse(t, TypeGroupInfo, new(enc).u8(0, 0x01).u16(8).u16(6).Bytes()).(*GroupInfo)
	if gi.MaxCompact != 8 || gi.MinDense != 6 {
		t.Errorf("group info: %+v", gi)
	}
	st := parse(t, TypeSymbolTable, new(enc).u64(136).u64(680).Bytes()).(*SymbolTable)
	if st.BTreeAddress != 136 || st.LocalHeapAddress != 680 {
		t.Errorf("symbol table: %+v", st)
	}
}

func TestAttribute(t *testing.T) {
	dt := f32Type().Bytes()
	ds := new(enc).u8(1, 0, 0, 0).u32(0).Bytes()

	v1 := new(enc).u8(1, 0).u16(5).u16(uint16(len(dt))).u16(uint16(len(ds)))
	v1.str("rate\x00\x00\x00\x00")
	v1.Write(dt)
	v1.Write(make([]byte, pad8(len(dt))-len(dt)))
	v1.Write(ds)
	v1.u32(0x42c80000)
	a := parse(t, TypeAttribute, v1.Bytes()).(*Attribute)
	if a.Name != "rate" || a.Datatype.Class != ClassFloatPoint || !a.Dataspace.IsScalar() {
		t.Errorf("v1: %+v", a)
	}
	if !bytes.Equal(a.Data, []byte{0, 0, 0xc8, 0x42}) {
		t.Errorf("v1 data: %x", a.Data)
	}

	v3 := new(enc).u8(3, 0).u16(5).u16(uint16(len(dt))).u16(uint16(len(ds))).u8(0)
	v3.str("rate\x00")
	v3.Write(dt)
	v3.Write(ds)
	v3.u32(0x42c80000)
	a, err := ParseAttribute(v3.Bytes(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != "rate" || len(a.Data) != 4 {
		t.Errorf("v3: %+v", a)
	}
}

func TestSharedMessage(t *testing.T) {
	data := new(enc).u8(2, 2).u64(4242).Bytes()
	msg, err := Parse(TypeDatatype, data, FlagShared, cfg)
	if err != nil {
		t.Fatal(err)
	}
	s, ok := msg.(*Shared)
	if !ok || s.Type() != TypeDatatype || s.Address != 4242 || s.InHeap() {
		t.Errorf("shared: %#v", msg)
	}
}

func TestUnknownAndContinuation(t *testing.T) {
	u := parse(t, TypeObjectComment, []byte("hello")).(*Unknown)
	if u.Type() != TypeObjectComment || string(u.Data()) != "hello" {
		t.Errorf("unknown: %+v", u)
	}
	c := parse(t, TypeObjectHeaderContinuation, new(enc).u64(900).u64(120).Bytes()).(*Continuation)
	if c.Offset != 900 || c.Length != 120 {
		t.Errorf("continuation: %+v", c)
	}
}
