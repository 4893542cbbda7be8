package hdf5

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5coro/internal/h5test"
)

func TestOpenInvalidSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.h5")
	require.NoError(t, os.WriteFile(path, []byte("This is not an HDF5 file, only some text."), 0o644))
	_, err := Open(ctx, path)
	assert.ErrorIs(t, err, ErrCorruptMetadata)
}

func TestOpenTruncatedFile(t *testing.T) {
	b := h5test.New(2)
	full := b.Bytes(sample(b))
	path := filepath.Join(t.TempDir(), "short.h5")
	require.NoError(t, os.WriteFile(path, full[:40], 0o644))
	_, err := Open(ctx, path)
	assert.Error(t, err)
}

func TestOpenNonExistentFile(t *testing.T) {
	_, err := Open(ctx, filepath.Join(t.TempDir(), "missing.h5"))
	assert.ErrorIs(t, err, ErrResourceNotFound)
	assert.Equal(t, "ResourceNotFound", ErrorKind(err))
}

func TestOpenDirectory(t *testing.T) {
	_, err := Open(ctx, t.TempDir())
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestOpenUnsupportedScheme(t *testing.T) {
	_, err := Open(ctx, "gopher://bucket/key.h5")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestRootIsNotADataset(t *testing.T) {
	f := openSample(t)
	for _, p := range []string{"/", "", "."} {
		_, _, err := f.Read(ctx, p, 0, 0, 1)
		assert.ErrorIs(t, err, ErrPathNotFound, p)
	}
}

func TestPathNormalization(t *testing.T) {
	f := openSample(t)
	for _, p := range []string{"grp/scalar", "/grp//scalar/", "./grp/./scalar"} {
		arr, _, err := f.Read(ctx, p, 0, 0, -1)
		require.NoError(t, err, p)
		assert.Equal(t, 2.5, arr.Value(0), p)
	}
}

func TestDeepPath(t *testing.T) {
	b := h5test.New(2)
	leaf := b.Dataset(h5test.Int(1, true), []uint64{1}, b.Data([]byte{0xFF}))
	node := leaf
	for _, name := range []string{"e", "d", "c", "b", "a"} {
		node = b.Group(h5test.HardLink(name, node))
	}
	f := openFile(t, b.WriteFile(t, node))

	arr, _, err := f.Read(ctx, "/a/b/c/d/e", 0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), arr.Value(0))

	_, _, err = f.Read(ctx, "/a/b/x/d/e", 0, 0, 1)
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestUnsupportedLayout(t *testing.T) {
	b := h5test.New(2)
	virt := b.Dataset(h5test.Int(4, true), []uint64{4}, h5test.VirtualLayout())
	f := openFile(t, b.WriteFile(t, b.Group(h5test.HardLink("v", virt))))

	_, err := f.Meta(ctx, "/v")
	require.NoError(t, err)
	_, _, err = f.Read(ctx, "/v", 0, 0, -1)
	assert.ErrorIs(t, err, ErrUnsupportedLayout)
	assert.Equal(t, "UnsupportedLayout", ErrorKind(err))
}

func TestUnsupportedFilter(t *testing.T) {
	b := h5test.New(2)
	c := b.Append([]byte{1, 2, 3, 4})
	tree := b.ChunkBTreeV1(1, 0, h5test.Chunk{Offset: []uint64{0}, Addr: c, Size: 4})
	ds := b.Dataset(h5test.Int(1, false), []uint64{4}, h5test.ChunkedV3(tree, []uint64{4}, 1),
		h5test.Filters(h5test.Filter{ID: 32001}))
	f := openFile(t, b.WriteFile(t, b.Group(h5test.HardLink("blosc", ds))))

	_, _, err := f.Read(ctx, "/blosc", 0, 0, -1)
	assert.ErrorIs(t, err, ErrUnsupportedFilter)

	// Zero rows never reach the filter.
	arr, _, err := f.Read(ctx, "/blosc", 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, arr.Len())
}

func TestArrayTypeErrors(t *testing.T) {
	f := openSample(t)
	arr, _, err := f.Read(ctx, "/values", 0, 0, 2)
	require.NoError(t, err)

	_, err = arr.Strings()
	assert.Error(t, err)
	_, err = arr.Int64s()
	assert.Error(t, err)
	_, err = arr.Field("x")
	assert.Error(t, err)

	f64, err := arr.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1.5}, f64)
	assert.Equal(t, []any{float32(0), float32(1.5)}, arr.Values())
	assert.Equal(t, 4, arr.ElemSize())
}
