// Package layout plans and performs reads of dataset raw data.
//
// A Layout binds a dataset's storage description to a reader. Plan lists
// the file ranges a selection touches without reading them, so callers can
// prefetch; Read returns the selected elements in row-major order, in the
// dataset's stored byte order. Three storage classes are supported:
//
//   - Compact: data lives in the object header; no I/O.
//   - Contiguous: one range covering the selected rows.
//   - Chunked: one range per stored chunk intersecting the selection, each
//     decoded through the filter pipeline and copied into place. Chunks
//     that were never written read as the fill value.
//
// Virtual datasets fail with ErrUnsupportedLayout.
package layout

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// Unlimited is the maximum dimension size of an extendible dimension.
const Unlimited = ^uint64(0)

// Dataset is the stored form of one dataset.
type Dataset struct {
	Layout *message.DataLayout
	// Dims is the current shape; empty for a scalar.
	Dims []uint64
	// MaxDims is the maximum shape, nil when it equals Dims.
	MaxDims  []uint64
	ElemSize int
	Filters  *message.FilterPipeline
	// Fill is one element of fill value, nil for zeros.
	Fill []byte
}

// Selection is a hyperslab: Count elements from Start in each dimension.
type Selection struct {
	Start []uint64
	Count []uint64
}

// All selects every element of a dataset with the given shape.
func All(dims []uint64) Selection {
	return Selection{Start: make([]uint64, len(dims)), Count: append([]uint64(nil), dims...)}
}

// Elements returns the number of selected elements.
func (s Selection) Elements() uint64 {
	n := uint64(1)
	for _, c := range s.Count {
		n *= c
	}
	return n
}

// Extent is a file range a read touches.
type Extent struct {
	Addr uint64
	Size uint64
}

type storage interface {
	plan(sel Selection) ([]Extent, error)
	read(sel Selection) ([]byte, error)
}

// Layout reads the raw data of one dataset.
type Layout struct {
	ds   Dataset
	dims []uint64
	st   storage
}

// New validates ds and prepares a Layout reading through r.
func New(r *binpkg.Reader, ds Dataset) (*Layout, error) {
	if ds.Layout == nil {
		return nil, fmt.Errorf("dataset without layout message: %w", h5err.ErrCorruptMetadata)
	}
	if ds.ElemSize <= 0 {
		return nil, fmt.Errorf("element size %d: %w", ds.ElemSize, h5err.ErrCorruptMetadata)
	}
	if ds.Fill != nil && len(ds.Fill) != ds.ElemSize {
		// A fill value of the wrong size cannot be replicated; use zeros.
		ds.Fill = nil
	}
	dims := ds.Dims
	if len(dims) == 0 {
		dims = []uint64{1}
	}
	l := &Layout{ds: ds, dims: dims}

	var err error
	switch ds.Layout.Class {
	case message.LayoutCompact:
		l.st = &compact{l: l}
	case message.LayoutContiguous:
		l.st = &contiguous{l: l, r: r}
	case message.LayoutChunked:
		l.st, err = newChunked(l, r)
	case message.LayoutVirtual:
		err = fmt.Errorf("virtual dataset: %w", h5err.ErrUnsupportedLayout)
	default:
		err = fmt.Errorf("layout class %d: %w", ds.Layout.Class, h5err.ErrUnsupportedLayout)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Dims returns the shape reads are planned against. Scalars have shape [1].
func (l *Layout) Dims() []uint64 { return l.dims }

// Class returns the storage class.
func (l *Layout) Class() message.LayoutClass { return l.ds.Layout.Class }

// Plan returns the file ranges Read(sel) will fetch.
func (l *Layout) Plan(sel Selection) ([]Extent, error) {
	if err := l.check(sel); err != nil {
		return nil, err
	}
	if sel.Elements() == 0 {
		return nil, nil
	}
	return l.st.plan(sel)
}

// Read returns the selected elements, row major, in stored byte order.
func (l *Layout) Read(sel Selection) ([]byte, error) {
	if err := l.check(sel); err != nil {
		return nil, err
	}
	if sel.Elements() == 0 {
		return []byte{}, nil
	}
	return l.st.read(sel)
}

func (l *Layout) check(sel Selection) error {
	if len(sel.Start) != len(l.dims) || len(sel.Count) != len(l.dims) {
		return fmt.Errorf("selection of rank %d for rank %d data: %w", len(sel.Start), len(l.dims), h5err.ErrInvalidSlice)
	}
	for d, n := range l.dims {
		if sel.Start[d] > n || sel.Count[d] > n-sel.Start[d] {
			return fmt.Errorf("dimension %d: [%d, +%d) outside [0, %d): %w",
				d, sel.Start[d], sel.Count[d], n, h5err.ErrInvalidSlice)
		}
	}
	return nil
}

// filled returns a buffer of n elements holding the fill value.
func (l *Layout) filled(n uint64) []byte {
	out := make([]byte, n*uint64(l.ds.ElemSize))
	if l.ds.Fill == nil || allZero(l.ds.Fill) {
		return out
	}
	for off := 0; off < len(out); off += len(l.ds.Fill) {
		copy(out[off:], l.ds.Fill)
	}
	return out
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// strides returns the row-major byte strides of an array of shape dims.
func strides(dims []uint64, elemSize uint64) []uint64 {
	s := make([]uint64, len(dims))
	s[len(dims)-1] = elemSize
	for d := len(dims) - 2; d >= 0; d-- {
		s[d] = s[d+1] * dims[d+1]
	}
	return s
}

// copyBox copies the box [lo, hi) of global coordinates from src, an array
// of shape srcDims whose first element sits at srcOrigin, to dst, an array
// of shape dstDims whose first element sits at dstOrigin.
func copyBox(dst []byte, dstDims, dstOrigin []uint64, src []byte, srcDims, srcOrigin []uint64, lo, hi []uint64, elemSize uint64) {
	ds := strides(dstDims, elemSize)
	ss := strides(srcDims, elemSize)
	copyBoxDim(dst, ds, dstOrigin, src, ss, srcOrigin, lo, hi, 0, 0, 0)
}

func copyBoxDim(dst []byte, ds, dstOrigin []uint64, src []byte, ss, srcOrigin []uint64,
	lo, hi []uint64, dim int, dstIdx, srcIdx uint64) {
	last := len(lo) - 1
	if dim == last {
		n := (hi[dim] - lo[dim]) * ss[dim]
		so := srcIdx + (lo[dim]-srcOrigin[dim])*ss[dim]
		do := dstIdx + (lo[dim]-dstOrigin[dim])*ds[dim]
		if so+n <= uint64(len(src)) && do+n <= uint64(len(dst)) {
			copy(dst[do:do+n], src[so:so+n])
		}
		return
	}
	for i := lo[dim]; i < hi[dim]; i++ {
		copyBoxDim(dst, ds, dstOrigin, src, ss, srcOrigin, lo, hi, dim+1,
			dstIdx+(i-dstOrigin[dim])*ds[dim], srcIdx+(i-srcOrigin[dim])*ss[dim])
	}
}
