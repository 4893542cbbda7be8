package heap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/h5test"
)

func TestLocalHeap(t *testing.T) {
	b := h5test.New(0)
	addr, offs := b.LocalHeap("alpha", "beta", "a-much-longer-member-name")
	h, err := ReadLocal(b.Reader(), addr)
	require.NoError(t, err)

	for i, want := range []string{"alpha", "beta", "a-much-longer-member-name"} {
		got, err := h.String(offs[i])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := h.String(0)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = h.String(uint64(h.Size()))
	assert.ErrorIs(t, err, h5err.ErrCorruptMetadata)
}

func TestLocalHeapBadSignature(t *testing.T) {
	b := h5test.New(0)
	addr := b.Append([]byte("HEAX\x00\x00\x00\x00"))
	_, err := ReadLocal(b.Reader(), addr)
	assert.ErrorIs(t, err, h5err.ErrCorruptMetadata)

	addr = b.Append(h5test.NewEnc().Str("HEAP").U8(1, 0, 0, 0).Zeros(24).Bytes())
	_, err = ReadLocal(b.Reader(), addr)
	assert.ErrorIs(t, err, h5err.ErrUnsupportedVersion)
}

func TestGlobalHeap(t *testing.T) {
	b := h5test.New(2)
	addr := b.GlobalHeap([]byte("hello"), []byte("a string of exactly 24 b"), nil)
	g, err := ReadGlobal(b.Reader(), addr)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, uint64(4096), g.Size)

	obj, err := g.Object(1)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(obj))
	obj, err = g.Object(2)
	require.NoError(t, err)
	assert.Equal(t, "a string of exactly 24 b", string(obj))
	obj, err = g.Object(3)
	require.NoError(t, err)
	assert.Empty(t, obj)

	_, err = g.Object(9)
	assert.ErrorIs(t, err, h5err.ErrCorruptMetadata)
}

func TestGlobalHeapObjectIsCopied(t *testing.T) {
	b := h5test.New(2)
	g, err := ReadGlobal(b.Reader(), b.GlobalHeap([]byte("abc")))
	require.NoError(t, err)
	obj, _ := g.Object(1)
	obj[0] = 'X'
	again, _ := g.Object(1)
	assert.Equal(t, "abc", string(again))
}

func TestCollectionsResolve(t *testing.T) {
	b := h5test.New(2)
	c1 := b.GlobalHeap([]byte("one"), []byte("two"))
	c2 := b.GlobalHeap([]byte("three"))
	coll := NewCollections(b.Reader())

	cases := []struct {
		raw  []byte
		want string
	}{
		{h5test.VlenRef(3, c1, 1), "one"},
		{h5test.VlenRef(3, c1, 2), "two"},
		{h5test.VlenRef(5, c2, 1), "three"},
		{h5test.VlenRef(0, 0, 0), ""},
		{h5test.VlenRef(0, h5test.Undef, 0), ""},
	}
	for _, tc := range cases {
		ref, err := ParseVlenRef(tc.raw, 8)
		require.NoError(t, err)
		got, err := coll.Resolve(ref)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(got))
	}

	_, err := ParseVlenRef([]byte{1, 2, 3}, 8)
	assert.ErrorIs(t, err, h5err.ErrCorruptMetadata)
}

func TestFractalHeapRootDirect(t *testing.T) {
	b := h5test.New(2)
	objs := [][]byte{[]byte("first"), []byte("second object"), bytes.Repeat([]byte{0xAB}, 100)}
	addr, ids := b.FractalHeap(0, objs...)

	h, err := ReadFractal(b.Reader(), addr)
	require.NoError(t, err)
	assert.Equal(t, h5test.FHeapIDLen, h.IDLength)
	assert.Equal(t, 0, h.RootRows)
	assert.Equal(t, uint64(3), h.ManagedCount)

	for i, id := range ids {
		got, err := h.Get(id)
		require.NoError(t, err)
		assert.Equal(t, objs[i], got)
	}
}

func TestFractalHeapIndirect(t *testing.T) {
	b := h5test.New(2)
	var objs [][]byte
	for i := 0; i < 40; i++ {
		objs = append(objs, bytes.Repeat([]byte{byte(i)}, 60))
	}
	addr, ids := b.FractalHeap(512, objs...)

	h, err := ReadFractal(b.Reader(), addr)
	require.NoError(t, err)
	require.Greater(t, h.RootRows, 0)
	for i, id := range ids {
		got, err := h.Get(id)
		require.NoError(t, err, "object %d", i)
		assert.Equal(t, objs[i], got)
	}
}

func TestFractalHeapTinyAndHuge(t *testing.T) {
	b := h5test.New(2)
	addr, _ := b.FractalHeap(0, []byte("x"))
	h, err := ReadFractal(b.Reader(), addr)
	require.NoError(t, err)

	got, err := h.Get([]byte{0x20 | 2, 'a', 'b', 'c', 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	_, err = h.Get([]byte{0x10, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, h5err.ErrCorruptMetadata)

	_, err = h.Get([]byte{0x40, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, h5err.ErrUnsupportedVersion)
}

func TestFractalHeapObjectOutOfRange(t *testing.T) {
	b := h5test.New(2)
	addr, ids := b.FractalHeap(0, []byte("abc"))
	h, err := ReadFractal(b.Reader(), addr)
	require.NoError(t, err)

	id := append([]byte(nil), ids[0]...)
	id[5], id[6] = 0xFF, 0xFF
	_, err = h.Get(id)
	assert.ErrorIs(t, err, h5err.ErrCorruptMetadata)
}

func TestFractalHeapChecksums(t *testing.T) {
	b := h5test.New(2)
	addr, ids := b.FractalHeap(0, []byte("payload"))
	raw := b.Bytes(h5test.Undef)

	// Corrupt the object inside the direct block.
	bad := append([]byte(nil), raw...)
	i := bytes.Index(bad, []byte("payload"))
	require.Positive(t, i)
	bad[i] = 'P'
	h, err := ReadFractal(readerOver(bad), addr)
	require.NoError(t, err)
	_, err = h.Get(ids[0])
	assert.ErrorIs(t, err, h5err.ErrChecksumFailure)

	// Corrupt the header.
	bad = append([]byte(nil), raw...)
	bad[addr+20] ^= 0xFF
	_, err = ReadFractal(readerOver(bad), addr)
	assert.ErrorIs(t, err, h5err.ErrChecksumFailure)
}

func readerOver(b []byte) *binpkg.Reader {
	return binpkg.NewBytesReader(b, 0, binpkg.DefaultConfig())
}
