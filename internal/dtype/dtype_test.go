package dtype

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/h5test"
	"github.com/robert-malhotra/h5coro/internal/heap"
	"github.com/robert-malhotra/h5coro/internal/message"
)

func parseType(t *testing.T, raw []byte) *message.Datatype {
	t.Helper()
	m, err := message.Parse(message.TypeDatatype, raw, 0, binpkg.DefaultConfig())
	require.NoError(t, err)
	return m.(*message.Datatype)
}

func TestName(t *testing.T) {
	tests := []struct {
		raw  []byte
		want string
	}{
		{h5test.Int(1, true), NameInt8},
		{h5test.Int(2, false), NameUint16},
		{h5test.Int(4, true), NameInt32},
		{h5test.IntBE(8, false), NameUint64},
		{h5test.Float32(), NameFloat},
		{h5test.Float64BE(), NameDouble},
		{h5test.FixedString(8, 0), NameString},
		{h5test.VarString(), NameString},
		{h5test.VarSeq(h5test.Int(4, true)), NameVlen},
		{h5test.Compound(4, h5test.Member{Name: "a", Type: h5test.Int(4, true)}), NameCompound},
		{h5test.Array(h5test.Int(2, true), 2, 3), NameArray},
		{h5test.Opaque(4, "x"), NameOpaque},
		{h5test.Bitfield(1), NameBitfield},
		{h5test.ObjectReference(), NameReference},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(parseType(t, tt.raw)))
		})
	}
	assert.Equal(t, NameUnknown, Name(nil))
}

func TestToHostSwapsBigEndian(t *testing.T) {
	dt := parseType(t, h5test.Float64BE())
	data := h5test.BE(1.5, -2.25)
	require.NoError(t, ToHost(dt, data))

	v, ok := Float64(dt, data, 1)
	require.True(t, ok)
	assert.Equal(t, -2.25, v)
	assert.Equal(t, []any{1.5, -2.25}, []any{Value(dt, data, 0), Value(dt, data, 1)})
}

func TestToHostKeepsBitfieldBytes(t *testing.T) {
	dt := parseType(t, h5test.BitfieldBE(2))
	require.Equal(t, message.OrderBE, dt.ByteOrder)
	data := []byte{0x01, 0x02, 0xA0, 0x0B}
	require.NoError(t, ToHost(dt, data))
	assert.Equal(t, []byte{0x01, 0x02, 0xA0, 0x0B}, data)
}

func TestToHostCompound(t *testing.T) {
	raw := h5test.Compound(12,
		h5test.Member{Name: "id", Offset: 0, Type: h5test.IntBE(4, true)},
		h5test.Member{Name: "tag", Offset: 4, Type: h5test.FixedString(2, 1)},
		h5test.Member{Name: "v", Offset: 6, Type: h5test.IntBE(2, false)},
		h5test.Member{Name: "w", Offset: 8, Type: h5test.Int(4, false)},
	)
	dt := parseType(t, raw)

	elem := append(h5test.BE[int32](-7), 'o', 'k')
	elem = append(elem, h5test.BE[uint16](513)...)
	elem = append(elem, h5test.LE[uint32](99)...)
	require.NoError(t, ToHost(dt, elem))

	id, err := Member(dt, "id")
	require.NoError(t, err)
	got, ok := Int64(id.Type, elem[id.ByteOffset:], 0)
	require.True(t, ok)
	assert.Equal(t, int64(-7), got)
	assert.Equal(t, "ok", string(elem[4:6]))

	v, _ := Member(dt, "v")
	u, ok := Uint64(v.Type, elem[v.ByteOffset:], 0)
	require.True(t, ok)
	assert.Equal(t, uint64(513), u)

	_, err = Member(dt, "missing")
	assert.Error(t, err)
}

func TestToHostArray(t *testing.T) {
	dt := parseType(t, h5test.Array(h5test.IntBE(2, true), 2, 3))
	data := h5test.BE[int16](1, -2, 3, 4, 5, -6)
	require.NoError(t, ToHost(dt, data))
	base := dt.BaseType
	var vals []int64
	for i := 0; i < 6; i++ {
		v, _ := Int64(base, data, i)
		vals = append(vals, v)
	}
	assert.Equal(t, []int64{1, -2, 3, 4, 5, -6}, vals)
}

func TestToHostRejectsZeroSize(t *testing.T) {
	err := ToHost(&message.Datatype{Class: message.ClassFixedPoint}, []byte{1})
	assert.ErrorIs(t, err, h5err.ErrCorruptMetadata)
}

func TestIntegerViews(t *testing.T) {
	dt := parseType(t, h5test.Int(1, true))
	v, ok := Int64(dt, []byte{0xff}, 0)
	require.True(t, ok)
	assert.Equal(t, int64(-1), v)

	dt = parseType(t, h5test.Int(8, false))
	data := h5test.LE[uint64](math.MaxUint64)
	assert.Equal(t, uint64(math.MaxUint64), Value(dt, data, 0))
	f, ok := Float64(dt, data, 0)
	require.True(t, ok)
	assert.Equal(t, float64(math.MaxUint64), f)

	dt = parseType(t, h5test.Float32())
	assert.Equal(t, float32(0.5), Value(dt, h5test.LE[float32](0.5), 0))

	_, ok = Int64(parseType(t, h5test.Float32()), h5test.LE[float32](1), 0)
	assert.False(t, ok)
}

func TestStrings(t *testing.T) {
	tests := []struct {
		pad  uint8
		raw  string
		want string
	}{
		{0, "abc\x00\x00", "abc"},
		{1, "ab\x00\x00\x00", "ab"},
		{2, "xy   ", "xy"},
	}
	for _, tt := range tests {
		dt := parseType(t, h5test.FixedString(5, tt.pad))
		s, ok := String(dt, []byte(tt.raw), 0)
		require.True(t, ok)
		assert.Equal(t, tt.raw, s)
		assert.Equal(t, tt.want, TrimString(dt, s))
		assert.Equal(t, tt.want, Value(dt, []byte(tt.raw), 0))
	}
}

func TestEnum(t *testing.T) {
	raw := h5test.Enum(h5test.Int(1, false), []string{"RED", "GREEN"}, [][]byte{{0}, {1}})
	dt := parseType(t, raw)
	assert.Equal(t, "GREEN", Value(dt, []byte{0, 1}, 1))
	v, ok := Int64(dt, []byte{0, 1}, 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, []byte{7}, Value(dt, []byte{7}, 0))
}

func TestOpaqueIsRaw(t *testing.T) {
	dt := parseType(t, h5test.Opaque(2, "blob"))
	assert.Equal(t, []byte{3, 4}, Value(dt, []byte{1, 2, 3, 4}, 1))
}

func TestResolveVlen(t *testing.T) {
	b := h5test.New(0)
	coll := b.GlobalHeap([]byte("hello"), h5test.BE[int32](5, -6))
	r := b.Reader()
	colls := heap.NewCollections(r)

	str := parseType(t, h5test.VarString())
	data := append(h5test.VlenRef(5, coll, 1), h5test.VlenRef(0, h5test.Undef, 0)...)
	out, err := ResolveVlen(str, data, colls, 8)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "hello", string(out[0]))
	assert.Empty(t, out[1])

	seq := parseType(t, h5test.VarSeq(h5test.IntBE(4, true)))
	out, err = ResolveVlen(seq, h5test.VlenRef(2, coll, 2), colls, 8)
	require.NoError(t, err)
	v, _ := Int64(seq.BaseType, out[0], 1)
	assert.Equal(t, int64(-6), v)

	_, err = ResolveVlen(str, h5test.VlenRef(50, coll, 1), colls, 8)
	assert.ErrorIs(t, err, h5err.ErrCorruptMetadata)

	_, err = ResolveVlen(str, h5test.VlenRef(1, coll, 9), colls, 8)
	assert.ErrorIs(t, err, h5err.ErrCorruptMetadata)
}
