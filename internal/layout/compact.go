package layout

import (
	"fmt"

	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// compact storage keeps the data in the layout message itself.
type compact struct {
	l *Layout
}

func (c *compact) plan(Selection) ([]Extent, error) { return nil, nil }

func (c *compact) read(sel Selection) ([]byte, error) {
	data := c.l.ds.Layout.CompactData
	elem := uint64(c.l.ds.ElemSize)
	if need := product(c.l.dims) * elem; uint64(len(data)) < need {
		return nil, fmt.Errorf("compact data holds %d bytes, shape needs %d: %w", len(data), need, h5err.ErrCorruptMetadata)
	}
	out := make([]byte, sel.Elements()*elem)
	copyBox(out, sel.Count, sel.Start, data, c.l.dims, make([]uint64, len(c.l.dims)), sel.Start, selEnd(sel), elem)
	return out, nil
}

func product(dims []uint64) uint64 {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

func selEnd(sel Selection) []uint64 {
	end := make([]uint64, len(sel.Start))
	for d := range end {
		end[d] = sel.Start[d] + sel.Count[d]
	}
	return end
}
