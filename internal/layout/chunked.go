package layout

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/btree"
	"github.com/robert-malhotra/h5coro/internal/filter"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

const maxChunkBytes = 1 << 31

type chunked struct {
	l          *Layout
	r          *binpkg.Reader
	chunk      []uint64
	chunkBytes uint64
	pipeline   *filter.Pipeline
	index      chunkIndex
}

func newChunked(l *Layout, r *binpkg.Reader) (*chunked, error) {
	msg := l.ds.Layout
	if len(msg.ChunkDims) != len(l.dims) {
		return nil, fmt.Errorf("chunk rank %d for data of rank %d: %w", len(msg.ChunkDims), len(l.dims), h5err.ErrCorruptMetadata)
	}
	c := &chunked{l: l, r: r, chunk: msg.ChunkDims}
	c.chunkBytes = product(c.chunk) * uint64(l.ds.ElemSize)
	if c.chunkBytes == 0 || c.chunkBytes > maxChunkBytes {
		return nil, fmt.Errorf("chunk of %d bytes: %w", c.chunkBytes, h5err.ErrCorruptMetadata)
	}
	c.pipeline = filter.NewPipeline(l.ds.Filters, int(c.chunkBytes))

	g := newGrid(l.dims, l.ds.MaxDims, c.chunk)
	addr := msg.ChunkIndexAddr
	switch msg.ChunkIndexType {
	case message.ChunkIndexBTreeV1:
		c.index = &btreeV1Index{r: r, addr: addr, rank: len(c.chunk)}
	case message.ChunkIndexSingleChunk:
		c.index = &singleIndex{r: r, msg: msg, chunkBytes: c.chunkBytes}
	case message.ChunkIndexImplicit:
		c.index = &implicitIndex{r: r, addr: addr, grid: g, chunkBytes: c.chunkBytes}
	case message.ChunkIndexFixedArray:
		c.index = &fixedArray{arrayIndex: newArrayIndex(r, addr, g, c.chunkBytes)}
	case message.ChunkIndexExtensibleArray:
		c.index = &extensibleArray{arrayIndex: newArrayIndex(r, addr, g, c.chunkBytes)}
	case message.ChunkIndexBTreeV2:
		c.index = &btreeV2Index{r: r, addr: addr, chunk: c.chunk, chunkBytes: c.chunkBytes}
	default:
		return nil, fmt.Errorf("chunk index %s: %w", msg.ChunkIndexType, h5err.ErrUnsupportedChunkIndex)
	}
	return c, nil
}

// entries returns the stored chunks that intersect sel.
func (c *chunked) entries(sel Selection) ([]btree.ChunkEntry, error) {
	all, err := c.index.chunks(sel)
	if err != nil {
		return nil, fmt.Errorf("%s chunk index: %w", c.l.ds.Layout.ChunkIndexType, err)
	}
	end := selEnd(sel)
	out := all[:0]
	for _, e := range all {
		if c.r.IsUndefinedOffset(e.Address) || len(e.Offset) != len(c.chunk) {
			continue
		}
		if intersects(e.Offset, c.chunk, sel.Start, end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func intersects(origin, chunk, lo, hi []uint64) bool {
	for d := range origin {
		if origin[d] >= hi[d] || origin[d]+chunk[d] <= lo[d] {
			return false
		}
	}
	return true
}

func (c *chunked) plan(sel Selection) ([]Extent, error) {
	entries, err := c.entries(sel)
	if err != nil {
		return nil, err
	}
	ext := make([]Extent, 0, len(entries))
	for _, e := range entries {
		ext = append(ext, Extent{Addr: e.Address, Size: e.Size})
	}
	return ext, nil
}

func (c *chunked) read(sel Selection) ([]byte, error) {
	entries, err := c.entries(sel)
	if err != nil {
		return nil, err
	}
	out := c.l.filled(sel.Elements())
	end := selEnd(sel)
	lo := make([]uint64, len(c.chunk))
	hi := make([]uint64, len(c.chunk))
	for _, e := range entries {
		data, err := c.chunkData(e)
		if err != nil {
			return nil, fmt.Errorf("chunk at %v: %w", e.Offset, err)
		}
		for d := range lo {
			lo[d] = max(e.Offset[d], sel.Start[d])
			hi[d] = min(e.Offset[d]+c.chunk[d], end[d])
		}
		copyBox(out, sel.Count, sel.Start, data, c.chunk, e.Offset, lo, hi, uint64(c.l.ds.ElemSize))
	}
	return out, nil
}

// chunkData reads and decodes one chunk.
func (c *chunked) chunkData(e btree.ChunkEntry) ([]byte, error) {
	if e.Size == 0 || e.Size > maxChunkBytes {
		return nil, fmt.Errorf("stored size %d: %w", e.Size, h5err.ErrCorruptMetadata)
	}
	raw, err := c.r.At(int64(e.Address)).ReadBytes(int(e.Size))
	if err != nil {
		return nil, err
	}
	data := raw
	if !c.pipeline.Empty() && !c.unfilteredEdge(e) {
		if data, err = c.pipeline.Decode(raw, e.FilterMask); err != nil {
			return nil, err
		}
	}
	if uint64(len(data)) < c.chunkBytes {
		return nil, fmt.Errorf("decoded %d bytes, chunk holds %d: %w", len(data), c.chunkBytes, h5err.ErrCorruptMetadata)
	}
	return data, nil
}

// unfilteredEdge reports whether e is a partial edge chunk stored without
// filters.
func (c *chunked) unfilteredEdge(e btree.ChunkEntry) bool {
	if c.l.ds.Layout.ChunkFlags&message.ChunkDontFilterPartialEdge == 0 {
		return false
	}
	for d, o := range e.Offset {
		if o+c.chunk[d] > c.l.dims[d] {
			return true
		}
	}
	return false
}
