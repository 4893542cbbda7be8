package layout

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// contiguous storage is one block in row-major order. A selection is read
// as the single range spanning its rows.
type contiguous struct {
	l *Layout
	r *binpkg.Reader
}

func (c *contiguous) allocated() bool {
	return !c.r.IsUndefinedOffset(c.l.ds.Layout.Address)
}

func (c *contiguous) rowBytes() uint64 {
	return product(c.l.dims[1:]) * uint64(c.l.ds.ElemSize)
}

func (c *contiguous) plan(sel Selection) ([]Extent, error) {
	if !c.allocated() {
		return nil, nil
	}
	total := product(c.l.dims) * uint64(c.l.ds.ElemSize)
	if size := c.l.ds.Layout.Size; size != 0 && size < total {
		return nil, fmt.Errorf("contiguous block of %d bytes, shape needs %d: %w", size, total, h5err.ErrCorruptMetadata)
	}
	row := c.rowBytes()
	return []Extent{{Addr: c.l.ds.Layout.Address + sel.Start[0]*row, Size: sel.Count[0] * row}}, nil
}

func (c *contiguous) read(sel Selection) ([]byte, error) {
	if !c.allocated() {
		return c.l.filled(sel.Elements()), nil
	}
	ext, err := c.plan(sel)
	if err != nil {
		return nil, err
	}
	buf, err := c.r.At(int64(ext[0].Addr)).ReadBytes(int(ext[0].Size))
	if err != nil {
		return nil, fmt.Errorf("reading contiguous data: %w", err)
	}
	if fullRows(sel, c.l.dims) {
		return buf, nil
	}

	elem := uint64(c.l.ds.ElemSize)
	spanDims := append([]uint64{sel.Count[0]}, c.l.dims[1:]...)
	spanOrigin := make([]uint64, len(c.l.dims))
	spanOrigin[0] = sel.Start[0]
	out := make([]byte, sel.Elements()*elem)
	copyBox(out, sel.Count, sel.Start, buf, spanDims, spanOrigin, sel.Start, selEnd(sel), elem)
	return out, nil
}

// fullRows reports whether sel covers every trailing dimension entirely.
func fullRows(sel Selection, dims []uint64) bool {
	for d := 1; d < len(dims); d++ {
		if sel.Start[d] != 0 || sel.Count[d] != dims[d] {
			return false
		}
	}
	return true
}
