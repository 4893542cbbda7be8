package btree

import (
	"fmt"
	"math/bits"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// Version 2 B-tree record types read by this package.
const (
	TypeLinkName      = 5
	TypeAttributeName = 8
	TypeChunk         = 10
	TypeChunkFiltered = 11
)

// node prefix: signature, version, type; leaves and internal nodes also
// end with a checksum.
const v2Prefix = 4 + 1 + 1

// V2 is a version 2 B-tree header.
type V2 struct {
	Address      uint64
	Type         uint8
	NodeSize     uint32
	RecordSize   uint16
	Depth        uint16
	Root         uint64
	RootRecords  uint16
	TotalRecords uint64

	r *binpkg.Reader
	// Per depth: max records in a node, width of its record count, and
	// width of its total record count when stored by a parent.
	maxNrec     []uint64
	nrecSize    []int
	cumNrecSize []int
}

// ReadV2 reads and verifies the header at addr.
func ReadV2(r *binpkg.Reader, addr uint64) (*V2, error) {
	if r.IsUndefinedOffset(addr) {
		return nil, fmt.Errorf("B-tree v2 at undefined address: %w", h5err.ErrCorruptMetadata)
	}
	size := v2Prefix + 4 + 2 + 2 + 1 + 1 + r.OffsetSize() + 2 + r.LengthSize()
	w, err := r.At(int64(addr)).Window(size + 4)
	if err != nil {
		return nil, err
	}
	if err := w.ReadSignature("BTHD"); err != nil {
		return nil, err
	}
	version, err := w.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("B-tree v2 version %d: %w", version, h5err.ErrUnsupportedVersion)
	}
	t := &V2{Address: addr, r: r}
	if t.Type, err = w.ReadUint8(); err != nil {
		return nil, err
	}
	if t.NodeSize, err = w.ReadUint32(); err != nil {
		return nil, err
	}
	if t.RecordSize, err = w.ReadUint16(); err != nil {
		return nil, err
	}
	if t.Depth, err = w.ReadUint16(); err != nil {
		return nil, err
	}
	w.Skip(2) // split and merge percent
	if t.Root, err = w.ReadOffset(); err != nil {
		return nil, err
	}
	if t.RootRecords, err = w.ReadUint16(); err != nil {
		return nil, err
	}
	if t.TotalRecords, err = w.ReadLength(); err != nil {
		return nil, err
	}
	if err := w.VerifyChecksum(int64(addr), size); err != nil {
		return nil, err
	}
	if t.RecordSize == 0 || t.NodeSize <= v2Prefix+4 || t.Depth > maxLevel {
		return nil, fmt.Errorf("B-tree v2 at 0x%x: node size %d, record size %d, depth %d: %w",
			addr, t.NodeSize, t.RecordSize, t.Depth, h5err.ErrCorruptMetadata)
	}
	t.sizeNodes()
	return t, nil
}

// sizeNodes derives the per-depth field widths the file does not store.
func (t *V2) sizeNodes() {
	n := int(t.Depth) + 1
	t.maxNrec = make([]uint64, n)
	t.nrecSize = make([]int, n)
	t.cumNrecSize = make([]int, n)
	cum := make([]uint64, n)

	overhead := uint64(v2Prefix + 4)
	t.maxNrec[0] = (uint64(t.NodeSize) - overhead) / uint64(t.RecordSize)
	t.nrecSize[0] = encSize(t.maxNrec[0])
	cum[0] = t.maxNrec[0]
	t.cumNrecSize[0] = t.nrecSize[0]
	for u := 1; u < n; u++ {
		ptr := uint64(t.r.OffsetSize() + t.nrecSize[u-1])
		if u > 1 {
			ptr += uint64(t.cumNrecSize[u-1])
		}
		if uint64(t.NodeSize) > overhead+ptr {
			t.maxNrec[u] = (uint64(t.NodeSize) - overhead - ptr) / (uint64(t.RecordSize) + ptr)
		}
		t.nrecSize[u] = encSize(t.maxNrec[u])
		cum[u] = (t.maxNrec[u]+1)*cum[u-1] + t.maxNrec[u]
		t.cumNrecSize[u] = encSize(cum[u])
	}
}

// encSize is the byte width needed to encode counts up to v.
func encSize(v uint64) int {
	if v == 0 {
		return 1
	}
	return (bits.Len64(v)-1)/8 + 1
}

// Records calls fn with every record in key order. The slice passed to fn
// is only valid during the call.
func (t *V2) Records(fn func(rec []byte) error) error {
	if t.TotalRecords == 0 || t.r.IsUndefinedOffset(t.Root) {
		return nil
	}
	return t.visit(t.Root, int(t.Depth), uint64(t.RootRecords), fn)
}

func (t *V2) visit(addr uint64, depth int, nrec uint64, fn func([]byte) error) error {
	if nrec > t.maxNrec[depth] {
		return fmt.Errorf("B-tree v2 node at 0x%x holds %d records, max %d: %w",
			addr, nrec, t.maxNrec[depth], h5err.ErrCorruptMetadata)
	}
	recs := int(nrec) * int(t.RecordSize)
	sig := "BTLF"
	size := v2Prefix + recs
	var ptrSize int
	if depth > 0 {
		sig = "BTIN"
		ptrSize = t.r.OffsetSize() + t.nrecSize[depth-1]
		if depth > 1 {
			ptrSize += t.cumNrecSize[depth-1]
		}
		size += (int(nrec) + 1) * ptrSize
	}
	w, err := t.r.At(int64(addr)).Window(size + 4)
	if err != nil {
		return err
	}
	if err := w.ReadSignature(sig); err != nil {
		return err
	}
	version, err := w.ReadUint8()
	if err != nil {
		return err
	}
	typ, err := w.ReadUint8()
	if err != nil {
		return err
	}
	if version != 0 || typ != t.Type {
		return fmt.Errorf("%s at 0x%x: version %d type %d: %w", sig, addr, version, typ, h5err.ErrCorruptMetadata)
	}
	if err := w.VerifyChecksum(int64(addr), size); err != nil {
		return err
	}
	records, err := w.ReadBytes(recs)
	if err != nil {
		return err
	}
	rec := func(i int) []byte {
		return records[i*int(t.RecordSize) : (i+1)*int(t.RecordSize)]
	}

	if depth == 0 {
		for i := 0; i < int(nrec); i++ {
			if err := fn(rec(i)); err != nil {
				return err
			}
		}
		return nil
	}

	for i := 0; i <= int(nrec); i++ {
		child, err := w.ReadOffset()
		if err != nil {
			return err
		}
		childN, err := w.ReadUintN(t.nrecSize[depth-1])
		if err != nil {
			return err
		}
		if depth > 1 {
			w.Skip(int64(t.cumNrecSize[depth-1]))
		}
		if err := t.visit(child, depth-1, childN, fn); err != nil {
			return err
		}
		if i < int(nrec) {
			if err := fn(rec(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// LinkNameRecord is a type 5 record: a name hash and the fractal heap ID
// of the link message.
type LinkNameRecord struct {
	Hash   uint32
	HeapID []byte
}

// ParseLinkName decodes a type 5 record.
func ParseLinkName(rec []byte) (LinkNameRecord, error) {
	if len(rec) < 5 {
		return LinkNameRecord{}, fmt.Errorf("link name record of %d bytes: %w", len(rec), h5err.ErrCorruptMetadata)
	}
	return LinkNameRecord{
		Hash:   uint32(binpkg.DecodeUint(rec, 4)),
		HeapID: append([]byte(nil), rec[4:]...),
	}, nil
}

// AttributeNameRecord is a type 8 record.
type AttributeNameRecord struct {
	HeapID        []byte
	Flags         uint8
	CreationOrder uint32
	Hash          uint32
}

// ParseAttributeName decodes a type 8 record: an 8-byte heap ID, message
// flags, creation order and name hash.
func ParseAttributeName(rec []byte) (AttributeNameRecord, error) {
	if len(rec) < 17 {
		return AttributeNameRecord{}, fmt.Errorf("attribute name record of %d bytes: %w", len(rec), h5err.ErrCorruptMetadata)
	}
	return AttributeNameRecord{
		HeapID:        append([]byte(nil), rec[:8]...),
		Flags:         rec[8],
		CreationOrder: uint32(binpkg.DecodeUint(rec[9:], 4)),
		Hash:          uint32(binpkg.DecodeUint(rec[13:], 4)),
	}, nil
}

// ParseChunk decodes a type 10 or 11 record for a dataset of the given
// rank. The offsets in the record are scaled (in units of chunks); they are
// multiplied by chunkDims to give element offsets. Unfiltered records take
// their size from unfilteredSize.
func ParseChunk(rec []byte, filtered bool, offsetSize int, chunkDims []uint64, unfilteredSize uint64) (ChunkEntry, error) {
	rank := len(chunkDims)
	sizeLen := 0
	if filtered {
		sizeLen = len(rec) - offsetSize - 4 - 8*rank
		if sizeLen < 1 || sizeLen > 8 {
			return ChunkEntry{}, fmt.Errorf("chunk record of %d bytes for rank %d: %w", len(rec), rank, h5err.ErrCorruptMetadata)
		}
	} else if len(rec) < offsetSize+8*rank {
		return ChunkEntry{}, fmt.Errorf("chunk record of %d bytes for rank %d: %w", len(rec), rank, h5err.ErrCorruptMetadata)
	}

	e := ChunkEntry{Address: binpkg.DecodeUint(rec, offsetSize), Size: unfilteredSize, Offset: make([]uint64, rank)}
	pos := offsetSize
	if filtered {
		e.Size = binpkg.DecodeUint(rec[pos:], sizeLen)
		pos += sizeLen
		e.FilterMask = uint32(binpkg.DecodeUint(rec[pos:], 4))
		pos += 4
	}
	for d := range e.Offset {
		e.Offset[d] = binpkg.DecodeUint(rec[pos:], 8) * chunkDims[d]
		pos += 8
	}
	return e, nil
}
