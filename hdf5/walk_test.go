package hdf5

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/h5coro/internal/h5test"
)

func TestParseAttrPath(t *testing.T) {
	tests := []struct {
		path       string
		wantObject string
		wantAttr   string
		wantOK     bool
		wantErr    bool
	}{
		{"/@root_attr", "/", "root_attr", true, false},
		{"/data/@units", "/data", "units", true, false},
		{"/group/dataset/@attr", "/group/dataset", "attr", true, false},
		{"data/@attr", "/data", "attr", true, false},
		{"//a//b/@c/", "/a/b", "c", true, false},
		{"/path/no/attr", "/path/no/attr", "", false, false},
		{"", "/", "", false, false},
		{"/data/@", "", "", false, true},
		{"/a/@b/@c", "", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			obj, attr, ok, err := ParseAttrPath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPathNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantObject, obj)
			assert.Equal(t, tt.wantAttr, attr)
		})
	}
}

func TestJoinAttrPath(t *testing.T) {
	assert.Equal(t, "/@attr", JoinAttrPath("/", "attr"))
	assert.Equal(t, "/data/@units", JoinAttrPath("/data", "units"))
	assert.Equal(t, "/group/dataset/@cal", JoinAttrPath("group/dataset/", "cal"))

	obj, attr, ok, err := ParseAttrPath(JoinAttrPath("/a/b", "c"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/a/b", obj)
	assert.Equal(t, "c", attr)
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/", []string{}},
		{"", []string{}},
		{"/foo", []string{"foo"}},
		{"/foo//bar/", []string{"foo", "bar"}},
		{"./foo/./bar", []string{"foo", "bar"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitPath(tt.path), tt.path)
	}
	assert.Equal(t, "/foo/bar", CleanPath("foo//bar/"))
	assert.Equal(t, "/", CleanPath(""))
}

func TestWalk(t *testing.T) {
	f := openSample(t)

	got := map[string]Object{}
	var order []string
	err := f.Walk(ctx, func(obj Object, err error) error {
		require.NoError(t, err, obj.Path)
		got[obj.Path] = obj
		order = append(order, obj.Path)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "/", order[0])
	assert.Equal(t, KindGroup, got["/"].Kind)
	assert.Equal(t, []string{"title"}, got["/"].Attrs)
	assert.Equal(t, KindGroup, got["/grp"].Kind)
	assert.Equal(t, KindDataset, got["/grp/chunked"].Kind)
	assert.Equal(t, KindSoftLink, got["/alias"].Kind)
	assert.Equal(t, "/grp/chunked", got["/alias"].Target)
	assert.Equal(t, KindExternal, got["/ext"].Kind)
	assert.Equal(t, "other.h5:/data", got["/ext"].Target)

	values := got["/values"]
	require.NotNil(t, values.Meta)
	assert.Equal(t, uint64(10), values.Meta.NumRows)
	assert.Equal(t, []string{"units"}, values.Attrs)

	assert.Len(t, got, 11)
}

func TestWalkFrom(t *testing.T) {
	f := openSample(t)
	var paths []string
	require.NoError(t, f.WalkFrom(ctx, "/grp", func(obj Object, err error) error {
		paths = append(paths, obj.Path)
		return err
	}))
	assert.Equal(t, []string{"/grp", "/grp/chunked", "/grp/scalar"}, paths)

	err := f.WalkFrom(ctx, "/missing", func(Object, error) error { return nil })
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestWalkStop(t *testing.T) {
	f := openSample(t)
	n := 0
	err := f.Walk(ctx, func(Object, error) error {
		n++
		if n == 3 {
			return ErrStopWalk
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	boom := assert.AnError
	err = f.Walk(ctx, func(Object, error) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWalkCancelled(t *testing.T) {
	f := openSample(t)
	c, cancel := context.WithCancel(ctx)
	cancel()
	err := f.Walk(c, func(Object, error) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalkSharedGroup(t *testing.T) {
	b := h5test.New(2)
	data := b.Dataset(h5test.Int(1, false), []uint64{1}, b.Data([]byte{1}))
	shared := b.Group(h5test.HardLink("d", data))
	root := b.Group(h5test.HardLink("a", shared), h5test.HardLink("b", shared))
	f := openFile(t, b.WriteFile(t, root))

	var paths []string
	require.NoError(t, f.Walk(ctx, func(obj Object, err error) error {
		paths = append(paths, obj.Path)
		return err
	}))
	// The second path to the group is reported but not descended.
	assert.Equal(t, []string{"/", "/a", "/a/d", "/b"}, paths)
}

func TestWalkAttrs(t *testing.T) {
	f := openSample(t)

	found := map[string]AttrInfo{}
	require.NoError(t, f.WalkAttrs(ctx, func(info AttrInfo) error {
		found[info.Path] = info
		return nil
	}))
	require.Len(t, found, 2)

	title := found["/@title"]
	require.NoError(t, title.Err)
	assert.Equal(t, "/", title.ObjectPath)
	assert.Equal(t, KindGroup, title.ObjectType)
	assert.Equal(t, "title", title.Name)
	assert.Equal(t, "ATL06", title.Value.Value(0))

	units := found["/values/@units"]
	require.NoError(t, units.Err)
	assert.Equal(t, KindDataset, units.ObjectType)
	assert.Equal(t, "m", units.Value.Value(0))
	assert.Equal(t, "STRING", units.Meta.DatatypeName)
}

func TestWalkAttrsStop(t *testing.T) {
	f := openSample(t)
	n := 0
	require.NoError(t, f.WalkAttrs(ctx, func(AttrInfo) error {
		n++
		return ErrStopWalk
	}))
	assert.Equal(t, 1, n)
}

func TestWalkAttrsDense(t *testing.T) {
	f := denseFile(t)
	var names []string
	require.NoError(t, f.WalkAttrs(ctx, func(info AttrInfo) error {
		if info.ObjectPath == "/dense" {
			require.NoError(t, info.Err)
			names = append(names, info.Name)
		}
		return nil
	}))
	assert.ElementsMatch(t, []string{"compact", "alpha", "beta", "gamma"}, names)
}
