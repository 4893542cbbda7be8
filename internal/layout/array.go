package layout

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/btree"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// arrayIndex holds what fixed and extensible array indexes share: element
// decoding and a memo of checksum-verified blocks.
type arrayIndex struct {
	r          *binpkg.Reader
	addr       uint64
	grid       grid
	chunkBytes uint64

	entrySize int
	blocks    map[uint64][]byte
}

func newArrayIndex(r *binpkg.Reader, addr uint64, g grid, chunkBytes uint64) arrayIndex {
	return arrayIndex{r: r, addr: addr, grid: g, chunkBytes: chunkBytes, blocks: make(map[uint64][]byte)}
}

// block returns the size bytes at addr after checking the signature (when
// sig is non-empty) and the trailing checksum.
func (a *arrayIndex) block(addr uint64, size int, sig string) ([]byte, error) {
	if b, ok := a.blocks[addr]; ok && len(b) == size {
		return b, nil
	}
	b, err := a.r.At(int64(addr)).Peek(size)
	if err != nil {
		return nil, err
	}
	if sig != "" && string(b[:4]) != sig {
		return nil, fmt.Errorf("expected %s signature at 0x%x, got %q: %w", sig, addr, b[:4], h5err.ErrCorruptMetadata)
	}
	if err := binpkg.VerifyBlock(b, int64(addr)); err != nil {
		return nil, err
	}
	a.blocks[addr] = b
	return b, nil
}

// entry decodes one array element: a chunk address, then for filtered
// arrays the stored size and filter mask.
func (a *arrayIndex) entry(b []byte) (btree.ChunkEntry, error) {
	if len(b) < a.entrySize {
		return btree.ChunkEntry{}, fmt.Errorf("array element truncated: %w", h5err.ErrCorruptMetadata)
	}
	offSize := a.r.OffsetSize()
	e := btree.ChunkEntry{Address: binpkg.DecodeUint(b, offSize), Size: a.chunkBytes}
	if a.entrySize > offSize {
		sizeLen := a.entrySize - offSize - 4
		if sizeLen < 1 || sizeLen > 8 {
			return btree.ChunkEntry{}, fmt.Errorf("array element of %d bytes: %w", a.entrySize, h5err.ErrCorruptMetadata)
		}
		e.Size = binpkg.DecodeUint(b[offSize:], sizeLen)
		e.FilterMask = uint32(binpkg.DecodeUint(b[offSize+sizeLen:], 4))
	}
	return e, nil
}

// pagedEntry returns element i of a data block whose elements are split
// into checksummed pages of pageN elements starting at pagesAddr. Only
// the page holding i is read.
func (a *arrayIndex) pagedEntry(pagesAddr, i, n, pageN uint64) (btree.ChunkEntry, error) {
	p := i / pageN
	inPage := min(pageN, n-p*pageN)
	stride := pageN*uint64(a.entrySize) + 4
	page, err := a.block(pagesAddr+p*stride, int(inPage)*a.entrySize+4, "")
	if err != nil {
		return btree.ChunkEntry{}, err
	}
	return a.entry(page[(i-p*pageN)*uint64(a.entrySize):])
}

func bitSet(bitmap []byte, i uint64) bool {
	return bitmap[i/8]&(0x80>>(i%8)) != 0
}

// fixedArray is a fixed array chunk index (FAHD header, FADB data block).
type fixedArray struct {
	arrayIndex

	loaded   bool
	n        uint64
	pageBits uint8
	dblk     uint64
}

func (x *fixedArray) load() error {
	if x.loaded {
		return nil
	}
	offSize, ls := x.r.OffsetSize(), x.r.LengthSize()
	hdr, err := x.block(x.addr, 4+4+ls+offSize+4, "FAHD")
	if err != nil {
		return err
	}
	if hdr[4] != 0 {
		return fmt.Errorf("fixed array version %d: %w", hdr[4], h5err.ErrUnsupportedVersion)
	}
	x.entrySize = int(hdr[6])
	x.pageBits = hdr[7]
	x.n = binpkg.DecodeUint(hdr[8:], ls)
	x.dblk = binpkg.DecodeUint(hdr[8+ls:], offSize)
	if x.entrySize < offSize || x.pageBits > 32 {
		return fmt.Errorf("fixed array element size %d, page bits %d: %w", x.entrySize, x.pageBits, h5err.ErrCorruptMetadata)
	}
	x.loaded = true
	return nil
}

func (x *fixedArray) chunks(sel Selection) ([]btree.ChunkEntry, error) {
	if x.r.IsUndefinedOffset(x.addr) {
		return nil, nil
	}
	if err := x.load(); err != nil {
		return nil, err
	}
	if x.r.IsUndefinedOffset(x.dblk) {
		return nil, nil
	}
	var out []btree.ChunkEntry
	err := x.grid.each(sel, func(idx uint64, offset []uint64) error {
		if idx >= x.n {
			return nil
		}
		e, ok, err := x.lookup(idx)
		if err != nil || !ok {
			return err
		}
		e.Offset = offset
		out = append(out, e)
		return nil
	})
	return out, err
}

func (x *fixedArray) lookup(i uint64) (btree.ChunkEntry, bool, error) {
	prefix := 4 + 1 + 1 + x.r.OffsetSize()
	pageN := uint64(1) << x.pageBits
	if x.n <= pageN {
		b, err := x.block(x.dblk, prefix+int(x.n)*x.entrySize+4, "FADB")
		if err != nil {
			return btree.ChunkEntry{}, false, err
		}
		e, err := x.entry(b[prefix+int(i)*x.entrySize:])
		return e, err == nil, err
	}

	npages := (x.n + pageN - 1) / pageN
	bitmapLen := int((npages + 7) / 8)
	b, err := x.block(x.dblk, prefix+bitmapLen+4, "FADB")
	if err != nil {
		return btree.ChunkEntry{}, false, err
	}
	if !bitSet(b[prefix:], i/pageN) {
		return btree.ChunkEntry{}, false, nil
	}
	pages := x.dblk + uint64(prefix+bitmapLen+4)
	e, err := x.pagedEntry(pages, i, x.n, pageN)
	return e, err == nil, err
}
