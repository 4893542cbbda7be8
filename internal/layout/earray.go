package layout

import (
	"fmt"
	"math/bits"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/btree"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// extensibleArray is an extensible array chunk index: a header (EAHD), an
// index block (EAIB) holding the first elements and the addresses of the
// first data blocks, super blocks (EASB) addressing further data blocks,
// and data blocks (EADB) holding elements.
type extensibleArray struct {
	arrayIndex

	loaded      bool
	idxElems    uint64
	pageN       uint64
	maxIdx      uint64
	blockOffLen int
	sblks       []sblkInfo
	ibSblks     int
	iblockElems []byte
	dblkAddrs   []uint64
	sblkAddrs   []uint64
}

type sblkInfo struct {
	ndblks, nelmts, start uint64
	// firstDblk indexes dblkAddrs for super blocks held in the index block.
	firstDblk int
}

func isPow2(v uint8) bool { return v != 0 && v&(v-1) == 0 }

func (x *extensibleArray) load() error {
	if x.loaded {
		return nil
	}
	offSize, ls := x.r.OffsetSize(), x.r.LengthSize()
	hdr, err := x.block(x.addr, 12+6*ls+offSize+4, "EAHD")
	if err != nil {
		return err
	}
	if hdr[4] != 0 {
		return fmt.Errorf("extensible array version %d: %w", hdr[4], h5err.ErrUnsupportedVersion)
	}
	x.entrySize = int(hdr[6])
	maxBits, idxElems, dataMin, secMin, pageBits := hdr[7], hdr[8], hdr[9], hdr[10], hdr[11]
	if x.entrySize < offSize || maxBits == 0 || maxBits > 64 || !isPow2(dataMin) || !isPow2(secMin) || pageBits > 32 {
		return fmt.Errorf("extensible array parameters %v: %w", hdr[6:12], h5err.ErrCorruptMetadata)
	}
	x.idxElems = uint64(idxElems)
	x.pageN = uint64(1) << pageBits
	x.maxIdx = binpkg.DecodeUint(hdr[12+4*ls:], ls)
	iblock := binpkg.DecodeUint(hdr[12+6*ls:], offSize)
	x.blockOffLen = int(maxBits+7) / 8

	nsblks := 1 + int(maxBits) - (bits.Len8(dataMin) - 1)
	x.sblks = make([]sblkInfo, nsblks)
	x.ibSblks = 2 * (bits.Len8(secMin) - 1)
	var start uint64
	dblk := 0
	for u := range x.sblks {
		s := sblkInfo{
			ndblks:    uint64(1) << (u / 2),
			nelmts:    (uint64(1) << ((u + 1) / 2)) * uint64(dataMin),
			start:     start,
			firstDblk: dblk,
		}
		if u < x.ibSblks {
			dblk += int(s.ndblks)
		}
		start += s.ndblks * s.nelmts
		x.sblks[u] = s
	}

	x.loaded = true
	if x.r.IsUndefinedOffset(iblock) {
		x.maxIdx = 0
		return nil
	}
	ndblk := 2 * (int(secMin) - 1)
	nsblk := max(nsblks-x.ibSblks, 0)
	prefix := 4 + 1 + 1 + offSize
	elems := int(idxElems) * x.entrySize
	ib, err := x.block(iblock, prefix+elems+(ndblk+nsblk)*offSize+4, "EAIB")
	if err != nil {
		x.loaded = false
		return err
	}
	x.iblockElems = ib[prefix : prefix+elems]
	pos := prefix + elems
	for i := 0; i < ndblk; i++ {
		x.dblkAddrs = append(x.dblkAddrs, binpkg.DecodeUint(ib[pos:], offSize))
		pos += offSize
	}
	for i := 0; i < nsblk; i++ {
		x.sblkAddrs = append(x.sblkAddrs, binpkg.DecodeUint(ib[pos:], offSize))
		pos += offSize
	}
	return nil
}

func (x *extensibleArray) chunks(sel Selection) ([]btree.ChunkEntry, error) {
	if x.r.IsUndefinedOffset(x.addr) {
		return nil, nil
	}
	if err := x.load(); err != nil {
		return nil, err
	}
	var out []btree.ChunkEntry
	err := x.grid.each(sel, func(idx uint64, offset []uint64) error {
		if idx >= x.maxIdx {
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

func (x *extensibleArray) lookup(i uint64) (btree.ChunkEntry, bool, error) {
	if i < x.idxElems {
		e, err := x.entry(x.iblockElems[i*uint64(x.entrySize):])
		return e, err == nil, err
	}
	j := i - x.idxElems
	u := 0
	for u < len(x.sblks)-1 && j >= x.sblks[u+1].start {
		u++
	}
	s := x.sblks[u]
	if j >= s.start+s.ndblks*s.nelmts {
		return btree.ChunkEntry{}, false, nil
	}
	k := (j - s.start) / s.nelmts
	elem := (j - s.start) % s.nelmts

	var dblk uint64
	var bitmap []byte
	if u < x.ibSblks {
		dblk = x.dblkAddrs[s.firstDblk+int(k)]
	} else {
		var err error
		if dblk, bitmap, err = x.superBlock(u, k); err != nil {
			return btree.ChunkEntry{}, false, err
		}
	}
	if x.r.IsUndefinedOffset(dblk) {
		return btree.ChunkEntry{}, false, nil
	}
	return x.dataBlockEntry(dblk, s.nelmts, elem, bitmap)
}

// superBlock returns the address of data block k of super block u and,
// when its data blocks are paged, that block's page bitmap.
func (x *extensibleArray) superBlock(u int, k uint64) (uint64, []byte, error) {
	addr := x.sblkAddrs[u-x.ibSblks]
	if x.r.IsUndefinedOffset(addr) {
		return addr, nil, nil
	}
	s := x.sblks[u]
	offSize := x.r.OffsetSize()
	prefix := 4 + 1 + 1 + offSize + x.blockOffLen
	bitmapLen := 0
	if s.nelmts > x.pageN {
		bitmapLen = int((s.nelmts/x.pageN + 7) / 8)
	}
	size := prefix + int(s.ndblks)*bitmapLen + int(s.ndblks)*offSize + 4
	b, err := x.block(addr, size, "EASB")
	if err != nil {
		return 0, nil, err
	}
	pos := prefix + int(s.ndblks)*bitmapLen + int(k)*offSize
	dblk := binpkg.DecodeUint(b[pos:], offSize)
	var bitmap []byte
	if bitmapLen > 0 {
		bitmap = b[prefix+int(k)*bitmapLen : prefix+int(k+1)*bitmapLen]
	}
	return dblk, bitmap, nil
}

func (x *extensibleArray) dataBlockEntry(dblk, nelmts, elem uint64, bitmap []byte) (btree.ChunkEntry, bool, error) {
	prefix := 4 + 1 + 1 + x.r.OffsetSize() + x.blockOffLen
	if nelmts <= x.pageN {
		b, err := x.block(dblk, prefix+int(nelmts)*x.entrySize+4, "EADB")
		if err != nil {
			return btree.ChunkEntry{}, false, err
		}
		e, err := x.entry(b[prefix+int(elem)*x.entrySize:])
		return e, err == nil, err
	}
	if _, err := x.block(dblk, prefix+4, "EADB"); err != nil {
		return btree.ChunkEntry{}, false, err
	}
	if bitmap != nil && !bitSet(bitmap, elem/x.pageN) {
		return btree.ChunkEntry{}, false, nil
	}
	e, err := x.pagedEntry(dblk+uint64(prefix+4), elem, nelmts, x.pageN)
	return e, err == nil, err
}
