package h5test

import (
	"encoding/binary"
	"sort"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
)

// LocalHeap appends a local heap whose data segment holds strs, each
// NUL-terminated and padded to eight bytes, after an empty string at
// offset zero. It returns the heap address and the offset of each string.
func (b *Builder) LocalHeap(strs ...string) (uint64, []uint64) {
	seg := NewEnc().Zeros(8)
	offs := make([]uint64, len(strs))
	for i, s := range strs {
		offs[i] = uint64(seg.Len())
		seg.CStr(s).Pad(8)
	}
	data := b.Append(seg.Bytes())
	hdr := NewEnc().Str("HEAP").U8(0, 0, 0, 0).Length(uint64(seg.Len())).Length(Undef).Offset(data)
	return b.Append(hdr.Bytes()), offs
}

// Entry is one member of an old-style group.
type Entry struct {
	Name   string
	Header uint64
	// SoftTarget makes the entry a soft link.
	SoftTarget string
}

// OldGroup appends the local heap, symbol table nodes and group B-tree of
// an old-style group, perNode entries to a node (all in one node when
// perNode is zero). It returns the B-tree and heap addresses.
func (b *Builder) OldGroup(perNode int, entries ...Entry) (uint64, uint64) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	var strs []string
	for _, e := range entries {
		strs = append(strs, e.Name)
		if e.SoftTarget != "" {
			strs = append(strs, e.SoftTarget)
		}
	}
	heap, offs := b.LocalHeap(strs...)

	if perNode <= 0 {
		perNode = max(len(entries), 1)
	}
	// Name offsets in heap order, skipping soft link values.
	nameOff := make([]uint64, len(entries))
	softOff := make([]uint64, len(entries))
	k := 0
	for i, e := range entries {
		nameOff[i] = offs[k]
		k++
		if e.SoftTarget != "" {
			softOff[i] = offs[k]
			k++
		}
	}

	var nodes []uint64
	keys := []uint64{0}
	for start := 0; start == 0 || start < len(entries); start += perNode {
		end := min(start+perNode, len(entries))
		e := NewEnc().Str("SNOD").U8(1, 0).U16(uint16(end - start))
		for i := start; i < end; i++ {
			if entries[i].SoftTarget != "" {
				e.Offset(nameOff[i]).Offset(Undef).U32(2).U32(0).U32(uint32(softOff[i])).Zeros(12)
			} else {
				e.Offset(nameOff[i]).Offset(entries[i].Header).U32(0).U32(0).Zeros(16)
			}
		}
		nodes = append(nodes, b.Append(e.Bytes()))
		if end > start {
			keys = append(keys, nameOff[end-1])
		} else {
			keys = append(keys, 0)
		}
	}

	t := NewEnc().Str("TREE").U8(0, 0).U16(uint16(len(nodes))).Offset(Undef).Offset(Undef)
	for i, n := range nodes {
		t.Length(keys[i]).Offset(n)
	}
	t.Length(keys[len(nodes)])
	return b.Append(t.Bytes()), heap
}

// GlobalHeap appends a global heap collection holding objs at indices
// 1..len(objs).
func (b *Builder) GlobalHeap(objs ...[]byte) uint64 {
	e := NewEnc()
	for i, o := range objs {
		e.U16(uint16(i + 1)).U16(1).U32(0).Length(uint64(len(o))).Raw(o).Pad(8)
	}
	size := 16 + e.Len() + 16
	if size < 4096 {
		size = 4096
	}
	free := size - 16 - e.Len()
	e.U16(0).U16(0).U32(0).Length(uint64(free))
	block := NewEnc().Str("GCOL").U8(1, 0, 0, 0).Length(uint64(size)).Raw(e.Bytes())
	block.Zeros(size - block.Len())
	return b.Append(block.Bytes())
}

// VlenRef encodes one variable-length element pointing into a global heap.
func VlenRef(length uint32, collection uint64, index uint32) []byte {
	return NewEnc().U32(length).Offset(collection).U32(index).Bytes()
}

// Fractal heap parameters used by the builder.
const (
	FHeapIDLen      = 7
	fheapWidth      = 4
	fheapMaxDirect  = 65536
	fheapMaxSizeLog = 32
	fheapMaxManaged = 4096
)

// FractalHeap appends a fractal heap holding objs as managed objects and
// returns the header address and each object's heap ID. With blockSize
// zero the root is a single direct block; otherwise objects are packed into
// direct blocks of at least blockSize under a root indirect block.
func (b *Builder) FractalHeap(blockSize int, objs ...[]byte) (uint64, [][]byte) {
	const offSize = fheapMaxSizeLog / 8
	prefix := 4 + 1 + 8 + offSize + 4

	hdr := b.Reserve(fheapHeaderSize)
	ids := make([][]byte, len(objs))

	type dblock struct {
		off  uint64
		size int
		objs []int
	}
	var blocks []dblock
	indirect := blockSize > 0
	start := blockSize
	if !indirect {
		need := prefix
		for _, o := range objs {
			need += len(o)
		}
		start = 512
		for start < need {
			start *= 2
		}
	}

	rowSize := func(row int) int {
		if row == 0 {
			return start
		}
		return start << (row - 1)
	}
	var heapOff uint64
	cur := dblock{size: rowSize(0)}
	used := prefix
	for i, o := range objs {
		if used+len(o) > cur.size {
			blocks = append(blocks, cur)
			heapOff += uint64(cur.size)
			cur = dblock{off: heapOff, size: rowSize(len(blocks) / fheapWidth)}
			used = prefix
		}
		id := NewEnc().U8(0).UintN(cur.off+uint64(used), offSize).UintN(uint64(len(o)), 2).Bytes()
		ids[i] = id
		cur.objs = append(cur.objs, i)
		used += len(o)
	}
	blocks = append(blocks, cur)

	addrs := make([]uint64, len(blocks))
	for i, blk := range blocks {
		e := NewEnc().Str("FHDB").U8(0).Offset(hdr).UintN(blk.off, offSize).U32(0)
		for _, oi := range blk.objs {
			e.Raw(objs[oi])
		}
		e.Zeros(blk.size - e.Len())
		// The direct block checksum covers the whole block with the
		// checksum field zeroed.
		raw := e.Bytes()
		binary.LittleEndian.PutUint32(raw[prefix-4:], binpkg.Lookup3Checksum(raw))
		addrs[i] = b.Append(raw)
	}

	root := addrs[0]
	rows := 0
	if indirect {
		rows = (len(blocks) + fheapWidth - 1) / fheapWidth
		e := NewEnc().Str("FHIB").U8(0).Offset(hdr).UintN(0, offSize)
		for i := 0; i < rows*fheapWidth; i++ {
			if i < len(addrs) {
				e.Offset(addrs[i])
			} else {
				e.Offset(Undef)
			}
		}
		root = b.Append(e.Checksum().Bytes())
	}

	var total uint64
	for _, blk := range blocks {
		total += uint64(blk.size)
	}
	h := NewEnc().Str("FRHP").U8(0).U16(FHeapIDLen).U16(0).U8(0x02).U32(fheapMaxManaged)
	h.Length(0).Offset(Undef).Length(0).Offset(Undef)
	h.Length(total).Length(total).Length(total).Length(uint64(len(objs)))
	h.Length(0).Length(0).Length(0).Length(0)
	h.U16(fheapWidth).Length(uint64(start)).Length(fheapMaxDirect).U16(fheapMaxSizeLog).U16(0)
	h.Offset(root).U16(uint16(rows))
	b.Put(hdr, h.Checksum().Bytes())
	return hdr, ids
}

const fheapHeaderSize = 4 + 1 + 2 + 2 + 1 + 4 + 8*15 + 2*4 + 4
