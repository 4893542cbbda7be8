package heap

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// Heap ID types, from bits 4-5 of the first ID byte.
const (
	idManaged = 0
	idHuge    = 1
	idTiny    = 2
)

const fheapChecksummedBlocks = 0x02

// Fractal is a fractal heap ("FRHP"), the object store behind dense links
// and dense attributes.
type Fractal struct {
	Address      uint64
	IDLength     int
	MaxManaged   uint32
	TableWidth   int
	StartBlock   uint64
	MaxDirect    uint64
	MaxHeapBits  int
	RootAddress  uint64
	RootRows     int
	ManagedCount uint64

	checksummed   bool
	offBytes      int // heap offset width in IDs and block headers
	lenBytes      int // managed object length width in IDs
	maxDirectRows int

	r      *binpkg.Reader
	mu     sync.Mutex
	blocks map[uint64][]byte // direct blocks by address
}

// ReadFractal reads and verifies the fractal heap header at addr.
func ReadFractal(r *binpkg.Reader, addr uint64) (*Fractal, error) {
	if r.IsUndefinedOffset(addr) {
		return nil, fmt.Errorf("fractal heap at undefined address: %w", h5err.ErrCorruptMetadata)
	}
	os, ls := r.OffsetSize(), r.LengthSize()
	size := 4 + 1 + 2 + 2 + 1 + 4 + // prefix through max managed size
		ls + os + ls + os + // huge id, huge btree, free space, free space manager
		8*ls + // space and object statistics
		2 + ls + ls + 2 + 2 + os + 2 // doubling table
	w, err := r.At(int64(addr)).Window(size + 4)
	if err != nil {
		return nil, err
	}
	if err := w.ReadSignature("FRHP"); err != nil {
		return nil, err
	}
	version, err := w.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("fractal heap version %d: %w", version, h5err.ErrUnsupportedVersion)
	}
	h := &Fractal{Address: addr, r: r, blocks: make(map[uint64][]byte)}

	idLen, err := w.ReadUint16()
	if err != nil {
		return nil, err
	}
	filterLen, err := w.ReadUint16()
	if err != nil {
		return nil, err
	}
	if filterLen > 0 {
		return nil, fmt.Errorf("filtered fractal heap at 0x%x: %w", addr, h5err.ErrUnsupportedFilter)
	}
	flags, err := w.ReadUint8()
	if err != nil {
		return nil, err
	}
	if h.MaxManaged, err = w.ReadUint32(); err != nil {
		return nil, err
	}
	h.IDLength = int(idLen)
	h.checksummed = flags&fheapChecksummedBlocks != 0

	// Huge object bookkeeping and free space are not needed for reads.
	w.Skip(int64(ls + os + ls + os))
	w.Skip(int64(3 * ls)) // managed space, allocated, iterator offset
	if h.ManagedCount, err = w.ReadLength(); err != nil {
		return nil, err
	}
	w.Skip(int64(4 * ls)) // huge and tiny statistics

	width, err := w.ReadUint16()
	if err != nil {
		return nil, err
	}
	if h.StartBlock, err = w.ReadLength(); err != nil {
		return nil, err
	}
	if h.MaxDirect, err = w.ReadLength(); err != nil {
		return nil, err
	}
	maxBits, err := w.ReadUint16()
	if err != nil {
		return nil, err
	}
	if _, err := w.ReadUint16(); err != nil { // starting rows
		return nil, err
	}
	if h.RootAddress, err = w.ReadOffset(); err != nil {
		return nil, err
	}
	rows, err := w.ReadUint16()
	if err != nil {
		return nil, err
	}
	if err := w.VerifyChecksum(int64(addr), size); err != nil {
		return nil, err
	}

	h.TableWidth = int(width)
	h.MaxHeapBits = int(maxBits)
	h.RootRows = int(rows)
	if width == 0 || !isPow2(h.StartBlock) || !isPow2(h.MaxDirect) || h.MaxDirect < h.StartBlock ||
		maxBits == 0 || maxBits > 64 || h.MaxManaged == 0 {
		return nil, fmt.Errorf("fractal heap at 0x%x has invalid doubling table: %w", addr, h5err.ErrCorruptMetadata)
	}
	h.offBytes = (h.MaxHeapBits + 7) / 8
	h.lenBytes = min((log2(h.MaxDirect)+7)/8, log2(uint64(h.MaxManaged))/8+1)
	h.maxDirectRows = log2(h.MaxDirect) - log2(h.StartBlock) + 2
	if 1+h.offBytes+h.lenBytes > h.IDLength {
		return nil, fmt.Errorf("fractal heap id length %d too small: %w", h.IDLength, h5err.ErrCorruptMetadata)
	}
	return h, nil
}

// Get returns the object a heap ID refers to.
func (h *Fractal) Get(id []byte) ([]byte, error) {
	if len(id) == 0 {
		return nil, fmt.Errorf("empty heap id: %w", h5err.ErrCorruptMetadata)
	}
	if id[0]>>6 != 0 {
		return nil, fmt.Errorf("heap id version %d: %w", id[0]>>6, h5err.ErrUnsupportedVersion)
	}
	switch (id[0] >> 4) & 0x03 {
	case idManaged:
		if len(id) < 1+h.offBytes+h.lenBytes {
			return nil, fmt.Errorf("managed heap id of %d bytes: %w", len(id), h5err.ErrCorruptMetadata)
		}
		off := binpkg.DecodeUint(id[1:], h.offBytes)
		n := binpkg.DecodeUint(id[1+h.offBytes:], h.lenBytes)
		return h.managed(off, n)
	case idTiny:
		n := int(id[0]&0x0F) + 1
		if 1+n > len(id) {
			return nil, fmt.Errorf("tiny heap object of %d bytes in %d byte id: %w", n, len(id), h5err.ErrCorruptMetadata)
		}
		return append([]byte(nil), id[1:1+n]...), nil
	case idHuge:
		return nil, fmt.Errorf("huge fractal heap objects not supported: %w", h5err.ErrCorruptMetadata)
	}
	return nil, fmt.Errorf("heap id type %d: %w", (id[0]>>4)&0x03, h5err.ErrCorruptMetadata)
}

// managed locates the direct block holding heap offset off and copies n
// bytes from it.
func (h *Fractal) managed(off, n uint64) ([]byte, error) {
	if h.r.IsUndefinedOffset(h.RootAddress) {
		return nil, fmt.Errorf("managed object in empty fractal heap: %w", h5err.ErrCorruptMetadata)
	}
	blockAddr, blockOff, blockSize := h.RootAddress, uint64(0), h.StartBlock
	if h.RootRows > 0 {
		var err error
		blockAddr, blockOff, blockSize, err = h.findDirect(h.RootAddress, h.RootRows, 0, off, 0)
		if err != nil {
			return nil, err
		}
	}
	block, err := h.direct(blockAddr, blockSize, blockOff)
	if err != nil {
		return nil, err
	}
	rel := off - blockOff
	if rel < uint64(h.directPrefix()) || rel+n > uint64(len(block)) {
		return nil, fmt.Errorf("heap object [%d,+%d) outside direct block at 0x%x: %w", off, n, blockAddr, h5err.ErrCorruptMetadata)
	}
	return append([]byte(nil), block[rel:rel+n]...), nil
}

func (h *Fractal) rowSize(row int) uint64 {
	if row == 0 {
		return h.StartBlock
	}
	return h.StartBlock << (row - 1)
}

// findDirect walks indirect blocks from the one at addr, which covers heap
// offsets starting at base, down to the direct block containing off.
func (h *Fractal) findDirect(addr uint64, rows int, base, off uint64, depth int) (uint64, uint64, uint64, error) {
	if depth > 16 {
		return 0, 0, 0, fmt.Errorf("fractal heap indirect blocks nested too deep: %w", h5err.ErrCorruptMetadata)
	}
	children, err := h.indirect(addr, rows, base)
	if err != nil {
		return 0, 0, 0, err
	}
	pos := base
	for row := 0; row < rows; row++ {
		size := h.rowSize(row)
		for col := 0; col < h.TableWidth; col++ {
			if off >= pos && off < pos+size {
				child := children[row*h.TableWidth+col]
				if h.r.IsUndefinedOffset(child) {
					return 0, 0, 0, fmt.Errorf("heap offset %d in unallocated block: %w", off, h5err.ErrCorruptMetadata)
				}
				if row < h.maxDirectRows {
					return child, pos, size, nil
				}
				childRows := log2(size) - log2(h.StartBlock*uint64(h.TableWidth)) + 1
				return h.findDirect(child, childRows, pos, off, depth+1)
			}
			pos += size
		}
	}
	return 0, 0, 0, fmt.Errorf("heap offset %d beyond indirect block at 0x%x: %w", off, addr, h5err.ErrCorruptMetadata)
}

// indirect reads the child addresses of an indirect block with rows rows.
func (h *Fractal) indirect(addr uint64, rows int, base uint64) ([]uint64, error) {
	os := h.r.OffsetSize()
	n := rows * h.TableWidth
	size := 4 + 1 + os + h.offBytes + n*os
	w, err := h.r.At(int64(addr)).Window(size + 4)
	if err != nil {
		return nil, err
	}
	if err := h.blockHeader(w, "FHIB", base); err != nil {
		return nil, err
	}
	children := make([]uint64, n)
	for i := range children {
		if children[i], err = w.ReadOffset(); err != nil {
			return nil, err
		}
	}
	if err := w.VerifyChecksum(int64(addr), size); err != nil {
		return nil, err
	}
	return children, nil
}

func (h *Fractal) directPrefix() int {
	n := 4 + 1 + h.r.OffsetSize() + h.offBytes
	if h.checksummed {
		n += 4
	}
	return n
}

// direct returns the direct block at addr, verifying its checksum on first
// use.
func (h *Fractal) direct(addr, size, base uint64) ([]byte, error) {
	h.mu.Lock()
	block, ok := h.blocks[addr]
	h.mu.Unlock()
	if ok {
		return block, nil
	}
	if size > 1<<30 {
		return nil, fmt.Errorf("direct block size %d: %w", size, h5err.ErrCorruptMetadata)
	}
	w, err := h.r.At(int64(addr)).Window(int(size))
	if err != nil {
		return nil, err
	}
	if err := h.blockHeader(w, "FHDB", base); err != nil {
		return nil, err
	}
	block, err = w.At(int64(addr)).ReadBytes(int(size))
	if err != nil {
		return nil, err
	}
	if h.checksummed {
		at := h.directPrefix() - 4
		stored := binary.LittleEndian.Uint32(block[at:])
		zeroed := append([]byte(nil), block...)
		copy(zeroed[at:at+4], []byte{0, 0, 0, 0})
		if got := binpkg.Lookup3Checksum(zeroed); got != stored {
			return nil, fmt.Errorf("direct block at 0x%x: stored 0x%08x, computed 0x%08x: %w",
				addr, stored, got, h5err.ErrChecksumFailure)
		}
	}
	h.mu.Lock()
	h.blocks[addr] = block
	h.mu.Unlock()
	return block, nil
}

// blockHeader checks the signature, version, owning heap and block offset
// shared by direct and indirect blocks.
func (h *Fractal) blockHeader(w *binpkg.Reader, sig string, base uint64) error {
	if err := w.ReadSignature(sig); err != nil {
		return err
	}
	version, err := w.ReadUint8()
	if err != nil {
		return err
	}
	if version != 0 {
		return fmt.Errorf("%s version %d: %w", sig, version, h5err.ErrUnsupportedVersion)
	}
	owner, err := w.ReadOffset()
	if err != nil {
		return err
	}
	if owner != h.Address {
		return fmt.Errorf("%s owned by heap 0x%x, expected 0x%x: %w", sig, owner, h.Address, h5err.ErrCorruptMetadata)
	}
	off, err := w.ReadUintN(h.offBytes)
	if err != nil {
		return err
	}
	if off != base {
		return fmt.Errorf("%s block offset %d, expected %d: %w", sig, off, base, h5err.ErrCorruptMetadata)
	}
	return nil
}

func isPow2(v uint64) bool { return v != 0 && v&(v-1) == 0 }

// log2 returns floor(log2(v)) for v > 0.
func log2(v uint64) int { return bits.Len64(v) - 1 }
