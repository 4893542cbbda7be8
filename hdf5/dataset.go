package hdf5

import (
	"context"
	"fmt"
	"time"

	"github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/dtype"
	"github.com/robert-malhotra/h5coro/internal/heap"
	"github.com/robert-malhotra/h5coro/internal/layout"
	"github.com/robert-malhotra/h5coro/internal/message"
	"github.com/robert-malhotra/h5coro/internal/metrics"
	"github.com/robert-malhotra/h5coro/internal/object"
)

// Meta describes a dataset or a read of one.
type Meta struct {
	// Elements is the number of elements in the dataset, or in the
	// returned array for a read.
	Elements uint64 `yaml:"elements" json:"elements"`
	// TypeSize is the size of one element in bytes.
	TypeSize int `yaml:"typesize" json:"typesize"`
	// DataSize is Elements * TypeSize.
	DataSize uint64 `yaml:"datasize" json:"datasize"`
	// DatatypeName is "FLOAT", "INT32", "STRING" and so on.
	DatatypeName string `yaml:"datatype" json:"datatype"`
	// NumRows is dimension 0 of the dataspace, 1 for scalars.
	NumRows uint64 `yaml:"numrows" json:"numrows"`
	// NumCols is dimension 1 of the dataspace, 1 below rank 2.
	NumCols uint64 `yaml:"numcols" json:"numcols"`
	// Shape is the full dataspace shape; empty for scalars.
	Shape []uint64 `yaml:"shape,flow" json:"shape"`
}

// dataset is the decoded description of one dataset object.
type dataset struct {
	path  string
	space *message.Dataspace
	dt    *message.Datatype
	store layout.Dataset
}

func newDataset(n *node) (*dataset, error) {
	h := n.header
	switch kind := h.Kind(); {
	case kind == object.KindUnknown && (h.Dataspace() != nil || h.Datatype() != nil):
		return nil, fmt.Errorf("%s: dataset has no data layout message: %w", n.path, ErrCorruptMetadata)
	case kind != object.KindDataset:
		return nil, fmt.Errorf("%s is a %s, not a dataset: %w", n.path, kind, ErrPathNotFound)
	}
	space := h.Dataspace()
	if space == nil {
		return nil, fmt.Errorf("%s: no dataspace message: %w", n.path, ErrCorruptMetadata)
	}
	dt := h.Datatype()
	if dt == nil {
		return nil, fmt.Errorf("%s: no datatype message: %w", n.path, ErrCorruptMetadata)
	}
	store := layout.Dataset{
		Layout:   h.DataLayout(),
		Dims:     space.Dimensions,
		MaxDims:  space.MaxDims,
		ElemSize: int(dt.Size),
		Filters:  h.FilterPipeline(),
	}
	if space.IsScalar() {
		store.Dims = nil
		store.MaxDims = nil
	}
	if fv := h.FillValue(); fv != nil && fv.IsDefined && len(fv.Value) > 0 {
		store.Fill = fv.Value
	}
	return &dataset{path: n.path, space: space, dt: dt, store: store}, nil
}

func (d *dataset) meta() Meta { return metaFor(d.space, d.dt) }

func metaFor(space *message.Dataspace, dt *message.Datatype) Meta {
	m := Meta{
		TypeSize:     int(dt.Size),
		DatatypeName: dtype.Name(dt),
		NumCols:      1,
	}
	switch {
	case space == nil || space.IsScalar():
		m.Elements, m.NumRows = 1, 1
	case space.IsNull():
		m.NumCols = 0
	default:
		m.Elements = space.NumElements()
		m.Shape = append([]uint64{}, space.Dimensions...)
		if len(space.Dimensions) > 0 {
			m.NumRows = space.Dimensions[0]
		}
		if len(space.Dimensions) > 1 {
			m.NumCols = space.Dimensions[1]
		}
	}
	m.DataSize = m.Elements * uint64(m.TypeSize)
	return m
}

// selection maps a row slice and column choice onto the dataspace. It
// returns the hyperslab and the shape of the result.
func (d *dataset) selection(col, startRow, numRows int64) (layout.Selection, []uint64, error) {
	if d.space.IsNull() {
		if startRow != 0 || numRows > 0 {
			return layout.Selection{}, nil, fmt.Errorf("%s: slice of empty dataset: %w", d.path, ErrInvalidSlice)
		}
		return layout.Selection{}, []uint64{0}, nil
	}
	dims := d.store.Dims
	if len(dims) == 0 {
		dims = []uint64{1}
	}
	rows := dims[0]
	if startRow < 0 || numRows < -1 {
		return layout.Selection{}, nil, fmt.Errorf("%s: start %d count %d: %w", d.path, startRow, numRows, ErrInvalidSlice)
	}
	if uint64(startRow) > rows {
		return layout.Selection{}, nil, fmt.Errorf("%s: start row %d past %d rows: %w", d.path, startRow, rows, ErrInvalidSlice)
	}
	n := uint64(numRows)
	if numRows == -1 {
		n = rows - uint64(startRow)
	}
	if uint64(startRow)+n > rows {
		return layout.Selection{}, nil, fmt.Errorf("%s: rows [%d,%d) past %d rows: %w",
			d.path, startRow, uint64(startRow)+n, rows, ErrInvalidSlice)
	}

	sel := layout.All(dims)
	sel.Start[0], sel.Count[0] = uint64(startRow), n
	shape := append([]uint64{}, sel.Count...)
	if len(dims) >= 2 && col >= 0 {
		if uint64(col) >= dims[1] {
			return layout.Selection{}, nil, fmt.Errorf("%s: column %d of %d: %w", d.path, col, dims[1], ErrInvalidSlice)
		}
		sel.Start[1], sel.Count[1] = uint64(col), 1
		shape = append(shape[:1], shape[2:]...)
	}
	return sel, shape, nil
}

// Meta describes the dataset at path without reading its data.
func (f *File) Meta(ctx context.Context, path string) (Meta, error) {
	if err := f.check(); err != nil {
		return Meta{}, err
	}
	r := f.reader(ctx)
	if obj, attr, ok, err := ParseAttrPath(path); err != nil {
		return Meta{}, err
	} else if ok {
		a, err := f.attribute(r, obj, attr)
		if err != nil {
			return Meta{}, err
		}
		return metaFor(a.Dataspace, a.Datatype), nil
	}
	n, err := f.resolve(r, path)
	if err != nil {
		return Meta{}, err
	}
	d, err := newDataset(n)
	if err != nil {
		return Meta{}, err
	}
	return d.meta(), nil
}

// Read returns numRows rows of the dataset at path starting at startRow.
// For datasets of rank 2 and above, col selects one column; a negative col
// selects all of them. numRows -1 reads to the last row and numRows 0
// returns an empty array without touching the data.
//
// A path whose last component starts with '@' names an attribute, whose
// whole value is returned regardless of the slice.
//
// The returned Meta has Elements and DataSize of the returned array and
// the dataset's NumRows and NumCols.
func (f *File) Read(ctx context.Context, path string, col, startRow, numRows int64) (*Array, Meta, error) {
	start := time.Now()
	arr, meta, err := f.read(ctx, path, col, startRow, numRows)
	n := 0
	if arr != nil {
		n = arr.Size()
	}
	metrics.ObserveRead("read", time.Since(start), n, err)
	if err != nil {
		f.log.Debug("read failed", "path", path, "kind", ErrorKind(err), "err", err)
		return nil, Meta{}, err
	}
	f.log.Debug("read", "path", path, "start", startRow, "rows", numRows, "elements", meta.Elements,
		"elapsed", time.Since(start))
	return arr, meta, nil
}

func (f *File) read(ctx context.Context, path string, col, startRow, numRows int64) (*Array, Meta, error) {
	if err := f.check(); err != nil {
		return nil, Meta{}, err
	}
	r := f.reader(ctx)
	if obj, attr, ok, err := ParseAttrPath(path); err != nil {
		return nil, Meta{}, err
	} else if ok {
		return f.readAttribute(r, obj, attr)
	}

	n, err := f.resolve(r, path)
	if err != nil {
		return nil, Meta{}, err
	}
	d, err := newDataset(n)
	if err != nil {
		return nil, Meta{}, err
	}
	sel, shape, err := d.selection(col, startRow, numRows)
	if err != nil {
		return nil, Meta{}, err
	}
	meta := d.meta()
	meta.Elements = sel.Elements()
	if len(sel.Count) == 0 {
		meta.Elements = 0
	}
	meta.DataSize = meta.Elements * uint64(meta.TypeSize)
	if meta.Elements == 0 {
		return newArray(d.dt, shape, []byte{}), meta, nil
	}

	lay, err := layout.New(r, d.store)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("%s: %w", d.path, err)
	}
	raw, err := lay.Read(sel)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("%s: %w", d.path, err)
	}
	arr, err := decode(r, d.dt, shape, raw)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("%s: %w", d.path, err)
	}
	return arr, meta, nil
}

// plan returns the absolute file ranges a read would fetch.
func (f *File) plan(ctx context.Context, req Request) ([]layout.Extent, error) {
	r := f.reader(ctx)
	if _, _, ok, err := ParseAttrPath(req.Path); ok || err != nil {
		return nil, err
	}
	n, err := f.resolve(r, req.Path)
	if err != nil {
		return nil, err
	}
	d, err := newDataset(n)
	if err != nil {
		return nil, err
	}
	sel, _, err := d.selection(req.Col, req.StartRow, req.NumRows)
	if err != nil || len(sel.Count) == 0 {
		return nil, err
	}
	lay, err := layout.New(r, d.store)
	if err != nil {
		return nil, err
	}
	exts, err := lay.Plan(sel)
	if err != nil {
		return nil, err
	}
	for i := range exts {
		exts[i].Addr += uint64(f.base)
	}
	return exts, nil
}

// decode converts raw stored elements to host order and resolves
// variable-length elements into owned byte slices.
func decode(r *binary.Reader, dt *message.Datatype, shape []uint64, raw []byte) (*Array, error) {
	if dt.Class == message.ClassVarLen {
		vals, err := dtype.ResolveVlen(dt, raw, heap.NewCollections(r), r.OffsetSize())
		if err != nil {
			return nil, err
		}
		arr := newArray(dt, shape, nil)
		arr.VarData = vals
		return arr, nil
	}
	if err := dtype.ToHost(dt, raw); err != nil {
		return nil, err
	}
	return newArray(dt, shape, raw), nil
}
