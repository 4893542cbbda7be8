package h5test

import "math/bits"

// Chunk locates one stored chunk.
type Chunk struct {
	// Offset is the element offset of the chunk's first element, one
	// value per dataset dimension.
	Offset []uint64
	Addr   uint64
	Size   uint32
	Mask   uint32
}

// ChunkBTreeV1 appends a version 1 chunk B-tree over chunks. With fanout
// above zero and fewer leaves than chunks, a level 1 root is added over
// leaves of fanout entries.
func (b *Builder) ChunkBTreeV1(rank int, fanout int, chunks ...Chunk) uint64 {
	key := func(e *Enc, c Chunk) {
		e.U32(c.Size).U32(c.Mask)
		for _, o := range c.Offset {
			e.U64(o)
		}
		e.U64(0)
	}
	endKey := func(e *Enc) {
		e.U32(0).U32(0)
		for i := 0; i <= rank; i++ {
			e.U64(0)
		}
	}
	node := func(level uint8, keys []Chunk, children []uint64) uint64 {
		e := NewEnc().Str("TREE").U8(1, level).U16(uint16(len(children))).Offset(Undef).Offset(Undef)
		for i, c := range children {
			key(e, keys[i])
			e.Offset(c)
		}
		endKey(e)
		return b.Append(e.Bytes())
	}

	addrs := make([]uint64, len(chunks))
	for i, c := range chunks {
		addrs[i] = c.Addr
	}
	if fanout <= 0 || len(chunks) <= fanout {
		return node(0, chunks, addrs)
	}
	var leaves []uint64
	var firsts []Chunk
	for i := 0; i < len(chunks); i += fanout {
		end := min(i+fanout, len(chunks))
		leaves = append(leaves, node(0, chunks[i:end], addrs[i:end]))
		firsts = append(firsts, chunks[i])
	}
	return node(1, firsts, leaves)
}

// ArrayEntry is one fixed or extensible array element. Size and Mask are
// written only for filtered arrays.
type ArrayEntry struct {
	Addr uint64
	Size uint64
	Mask uint32
}

func arrayEntry(e *Enc, a ArrayEntry, filtered bool, sizeLen int) {
	e.Offset(a.Addr)
	if filtered {
		e.UintN(a.Size, sizeLen).U32(a.Mask)
	}
}

// FilteredSizeLen is the chunk size width the builder uses in filtered
// array entries.
const FilteredSizeLen = 4

// FixedArray appends a fixed array chunk index over entries. Pages hold
// 1<<pageBits entries; the data block is paged when entries exceed one
// page.
func (b *Builder) FixedArray(pageBits uint8, filtered bool, entries ...ArrayEntry) uint64 {
	entrySize := 8
	client := uint8(0)
	if filtered {
		entrySize += FilteredSizeLen + 4
		client = 1
	}
	hdr := b.Reserve(4 + 1 + 1 + 1 + 1 + 8 + 8 + 4)

	pageN := 1 << pageBits
	d := NewEnc().Str("FADB").U8(0, client).Offset(hdr)
	if len(entries) <= pageN {
		for _, a := range entries {
			arrayEntry(d, a, filtered, FilteredSizeLen)
		}
		d.Checksum()
	} else {
		npages := (len(entries) + pageN - 1) / pageN
		bitmap := make([]byte, (npages+7)/8)
		for i := 0; i < npages; i++ {
			bitmap[i/8] |= 0x80 >> (i % 8)
		}
		d.Raw(bitmap).Checksum()
		for p := 0; p < npages; p++ {
			page := NewEnc()
			for i := p * pageN; i < min((p+1)*pageN, len(entries)); i++ {
				arrayEntry(page, entries[i], filtered, FilteredSizeLen)
			}
			d.Raw(page.Checksum().Bytes())
		}
	}
	dblk := b.Append(d.Bytes())

	h := NewEnc().Str("FAHD").U8(0, client, uint8(entrySize), pageBits).Length(uint64(len(entries))).Offset(dblk)
	b.Put(hdr, h.Checksum().Bytes())
	return hdr
}

// EAParams are the creation parameters of an extensible array.
type EAParams struct {
	MaxBits        uint8
	IndexElements  uint8
	DataMinElems   uint8
	SecMinPointers uint8
	PageBits       uint8
}

// DefaultEA matches the library defaults for chunk indexes.
var DefaultEA = EAParams{MaxBits: 32, IndexElements: 4, DataMinElems: 16, SecMinPointers: 4, PageBits: 10}

// Params encodes p as layout message index parameters.
func (p EAParams) Params() []byte {
	return []byte{p.MaxBits, p.IndexElements, p.SecMinPointers, p.DataMinElems, p.PageBits}
}

// ExtensibleArray appends an extensible array chunk index over entries.
// Data blocks are never paged.
func (b *Builder) ExtensibleArray(p EAParams, filtered bool, entries ...ArrayEntry) uint64 {
	entrySize := 8
	client := uint8(0)
	if filtered {
		entrySize += FilteredSizeLen + 4
		client = 1
	}
	offSize := int(p.MaxBits+7) / 8
	hdr := b.Reserve(4 + 1 + 1 + 6 + 6*8 + 8 + 4)

	// Super block layout.
	nsblks := 1 + int(p.MaxBits) - bits.Len(uint(p.DataMinElems)) + 1
	type sblk struct{ ndblks, nelmts, start int }
	info := make([]sblk, nsblks)
	start := 0
	for u := range info {
		info[u] = sblk{ndblks: 1 << (u / 2), nelmts: (1 << ((u + 1) / 2)) * int(p.DataMinElems), start: start}
		start += info[u].ndblks * info[u].nelmts
	}
	ibSblks := 2 * (bits.Len(uint(p.SecMinPointers)) - 1)
	ndblkAddrs := 2 * (int(p.SecMinPointers) - 1)
	nsblkAddrs := nsblks - ibSblks

	entry := func(i int) ArrayEntry {
		if i < len(entries) {
			return entries[i]
		}
		return ArrayEntry{Addr: Undef}
	}
	dataBlock := func(off, n int) uint64 {
		d := NewEnc().Str("EADB").U8(0, client).Offset(hdr).UintN(uint64(off), offSize)
		for i := 0; i < n; i++ {
			arrayEntry(d, entry(int(p.IndexElements)+off+i), filtered, FilteredSizeLen)
		}
		return b.Append(d.Checksum().Bytes())
	}

	rest := len(entries) - int(p.IndexElements)
	dblkAddrs := make([]uint64, ndblkAddrs)
	sblkAddrs := make([]uint64, nsblkAddrs)
	for i := range dblkAddrs {
		dblkAddrs[i] = Undef
	}
	for i := range sblkAddrs {
		sblkAddrs[i] = Undef
	}
	dblk := 0
	for u := 0; u < nsblks && info[u].start < rest; u++ {
		if u < ibSblks {
			for j := 0; j < info[u].ndblks; j++ {
				off := info[u].start + j*info[u].nelmts
				if off < rest {
					dblkAddrs[dblk] = dataBlock(off, info[u].nelmts)
				}
				dblk++
			}
			continue
		}
		s := NewEnc().Str("EASB").U8(0, client).Offset(hdr).UintN(uint64(info[u].start), offSize)
		for j := 0; j < info[u].ndblks; j++ {
			off := info[u].start + j*info[u].nelmts
			if off < rest {
				s.Offset(dataBlock(off, info[u].nelmts))
			} else {
				s.Offset(Undef)
			}
		}
		sblkAddrs[u-ibSblks] = b.Append(s.Checksum().Bytes())
	}

	ib := NewEnc().Str("EAIB").U8(0, client).Offset(hdr)
	for i := 0; i < int(p.IndexElements); i++ {
		arrayEntry(ib, entry(i), filtered, FilteredSizeLen)
	}
	for _, a := range dblkAddrs {
		ib.Offset(a)
	}
	for _, a := range sblkAddrs {
		ib.Offset(a)
	}
	iblk := b.Append(ib.Checksum().Bytes())

	h := NewEnc().Str("EAHD").U8(0, client, uint8(entrySize), p.MaxBits, p.IndexElements, p.DataMinElems, p.SecMinPointers, p.PageBits)
	h.Length(0).Length(0).Length(0).Length(0).Length(uint64(len(entries))).Length(uint64(len(entries)))
	h.Offset(iblk)
	b.Put(hdr, h.Checksum().Bytes())
	return hdr
}

// BTreeV2 appends a version 2 B-tree holding records, each recSize bytes.
// With perLeaf above zero and more records than that, the root is an
// internal node over leaves of perLeaf records separated by the records in
// between.
func (b *Builder) BTreeV2(typ uint8, recSize int, perLeaf int, records ...[]byte) uint64 {
	const nodeSize = 512
	hdr := b.Reserve(4 + 1 + 1 + 4 + 2 + 2 + 1 + 1 + 8 + 2 + 8 + 4)
	leaf := func(recs [][]byte) uint64 {
		e := NewEnc().Str("BTLF").U8(0, typ)
		for _, r := range recs {
			e.Raw(r)
		}
		e.Checksum()
		return b.Append(e.Zeros(nodeSize - e.Len()).Bytes())
	}

	depth := 0
	var root uint64
	rootN := len(records)
	if perLeaf <= 0 || len(records) <= perLeaf {
		root = leaf(records)
	} else {
		depth = 1
		maxLeaf := (nodeSize - 10) / recSize
		nrecSize := (bits.Len(uint(maxLeaf))-1)/8 + 1
		var seps [][]byte
		var kids []uint64
		var counts []int
		for i := 0; i < len(records); {
			end := min(i+perLeaf, len(records))
			kids = append(kids, leaf(records[i:end]))
			counts = append(counts, end-i)
			i = end
			if i < len(records) {
				seps = append(seps, records[i])
				i++
			}
		}
		if len(kids) == len(seps) {
			// A trailing separator needs a right child.
			kids = append(kids, leaf(nil))
			counts = append(counts, 0)
		}
		e := NewEnc().Str("BTIN").U8(0, typ)
		for _, s := range seps {
			e.Raw(s)
		}
		for i, k := range kids {
			e.Offset(k).UintN(uint64(counts[i]), nrecSize)
		}
		root = b.Append(e.Checksum().Bytes())
		rootN = len(seps)
	}

	h := NewEnc().Str("BTHD").U8(0, typ).U32(nodeSize).U16(uint16(recSize)).U16(uint16(depth)).U8(100, 40)
	h.Offset(root).U16(uint16(rootN)).Length(uint64(len(records)))
	b.Put(hdr, h.Checksum().Bytes())
	return hdr
}
