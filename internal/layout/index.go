package layout

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/btree"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// chunkIndex locates stored chunks. chunks may return entries outside
// sel; the caller filters them.
type chunkIndex interface {
	chunks(sel Selection) ([]btree.ChunkEntry, error)
}

// grid linearizes chunk coordinates the way array and implicit indexes
// number their elements: row major over the maximum extent, with an
// unlimited dimension moved to the front.
type grid struct {
	chunk []uint64
	down  []uint64
}

func newGrid(dims, maxDims, chunk []uint64) grid {
	rank := len(chunk)
	nmax := make([]uint64, rank)
	order := make([]int, 0, rank)
	unlimited := -1
	for d := 0; d < rank; d++ {
		m := dims[d]
		if d < len(maxDims) {
			if maxDims[d] == Unlimited && unlimited < 0 {
				unlimited = d
				continue
			}
			if maxDims[d] != Unlimited {
				m = max(maxDims[d], dims[d])
			}
		}
		nmax[d] = (m + chunk[d] - 1) / chunk[d]
		order = append(order, d)
	}
	if unlimited >= 0 {
		order = append([]int{unlimited}, order...)
	}
	g := grid{chunk: chunk, down: make([]uint64, rank)}
	acc := uint64(1)
	for k := rank - 1; k >= 0; k-- {
		d := order[k]
		g.down[d] = acc
		acc *= max(nmax[d], 1)
	}
	return g
}

// each calls fn with the linear index and element offset of every chunk
// intersecting sel, in row-major order.
func (g grid) each(sel Selection, fn func(idx uint64, offset []uint64) error) error {
	rank := len(g.chunk)
	lo := make([]uint64, rank)
	hi := make([]uint64, rank)
	for d := 0; d < rank; d++ {
		if sel.Count[d] == 0 {
			return nil
		}
		lo[d] = sel.Start[d] / g.chunk[d]
		hi[d] = (sel.Start[d] + sel.Count[d] - 1) / g.chunk[d]
	}
	cur := append([]uint64(nil), lo...)
	for {
		idx := uint64(0)
		offset := make([]uint64, rank)
		for d := range cur {
			idx += cur[d] * g.down[d]
			offset[d] = cur[d] * g.chunk[d]
		}
		if err := fn(idx, offset); err != nil {
			return err
		}
		d := rank - 1
		for ; d >= 0; d-- {
			if cur[d] < hi[d] {
				cur[d]++
				break
			}
			cur[d] = lo[d]
		}
		if d < 0 {
			return nil
		}
	}
}

type btreeV1Index struct {
	r    *binpkg.Reader
	addr uint64
	rank int
}

func (x *btreeV1Index) chunks(sel Selection) ([]btree.ChunkEntry, error) {
	if x.r.IsUndefinedOffset(x.addr) {
		return nil, nil
	}
	return btree.ReadChunks(x.r, x.addr, x.rank, sel.Start[0]+sel.Count[0])
}

type btreeV2Index struct {
	r          *binpkg.Reader
	addr       uint64
	chunk      []uint64
	chunkBytes uint64
}

func (x *btreeV2Index) chunks(Selection) ([]btree.ChunkEntry, error) {
	if x.r.IsUndefinedOffset(x.addr) {
		return nil, nil
	}
	t, err := btree.ReadV2(x.r, x.addr)
	if err != nil {
		return nil, err
	}
	if t.Type != btree.TypeChunk && t.Type != btree.TypeChunkFiltered {
		return nil, fmt.Errorf("B-tree of record type %d: %w", t.Type, h5err.ErrCorruptMetadata)
	}
	filtered := t.Type == btree.TypeChunkFiltered
	var out []btree.ChunkEntry
	err = t.Records(func(rec []byte) error {
		e, err := btree.ParseChunk(rec, filtered, x.r.OffsetSize(), x.chunk, x.chunkBytes)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// singleIndex is a dataset stored as exactly one chunk at the index
// address.
type singleIndex struct {
	r          *binpkg.Reader
	msg        *message.DataLayout
	chunkBytes uint64
}

func (x *singleIndex) chunks(Selection) ([]btree.ChunkEntry, error) {
	if x.r.IsUndefinedOffset(x.msg.ChunkIndexAddr) {
		return nil, nil
	}
	e := btree.ChunkEntry{
		Offset:  make([]uint64, len(x.msg.ChunkDims)),
		Address: x.msg.ChunkIndexAddr,
		Size:    x.chunkBytes,
	}
	if x.msg.ChunkFlags&message.ChunkSingleIndexWithFilter != 0 {
		e.Size = x.msg.SingleFilteredSize
		e.FilterMask = x.msg.SingleFilterMask
	}
	return []btree.ChunkEntry{e}, nil
}

// implicitIndex stores every chunk, unfiltered, back to back from the
// index address.
type implicitIndex struct {
	r          *binpkg.Reader
	addr       uint64
	grid       grid
	chunkBytes uint64
}

func (x *implicitIndex) chunks(sel Selection) ([]btree.ChunkEntry, error) {
	if x.r.IsUndefinedOffset(x.addr) {
		return nil, nil
	}
	var out []btree.ChunkEntry
	err := x.grid.each(sel, func(idx uint64, offset []uint64) error {
		out = append(out, btree.ChunkEntry{Offset: offset, Address: x.addr + idx*x.chunkBytes, Size: x.chunkBytes})
		return nil
	})
	return out, err
}
