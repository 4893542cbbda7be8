package message

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// LayoutClass represents the storage layout class.
type LayoutClass uint8

const (
	LayoutCompact    LayoutClass = 0
	LayoutContiguous LayoutClass = 1
	LayoutChunked    LayoutClass = 2
	LayoutVirtual    LayoutClass = 3
)

// ChunkIndexType identifies how chunk addresses are indexed. Layout
// versions 1 to 3 always use a v1 B-tree.
type ChunkIndexType uint8

const (
	ChunkIndexBTreeV1         ChunkIndexType = 0
	ChunkIndexSingleChunk     ChunkIndexType = 1
	ChunkIndexImplicit        ChunkIndexType = 2
	ChunkIndexFixedArray      ChunkIndexType = 3
	ChunkIndexExtensibleArray ChunkIndexType = 4
	ChunkIndexBTreeV2         ChunkIndexType = 5
)

func (t ChunkIndexType) String() string {
	switch t {
	case ChunkIndexBTreeV1:
		return "btree-v1"
	case ChunkIndexSingleChunk:
		return "single"
	case ChunkIndexImplicit:
		return "implicit"
	case ChunkIndexFixedArray:
		return "fixed-array"
	case ChunkIndexExtensibleArray:
		return "extensible-array"
	case ChunkIndexBTreeV2:
		return "btree-v2"
	}
	return fmt.Sprintf("index-%d", uint8(t))
}

// Chunked layout flags (version 4).
const (
	ChunkDontFilterPartialEdge = 0x01
	ChunkSingleIndexWithFilter = 0x02
)

// DataLayout is a decoded data layout message.
type DataLayout struct {
	Version uint8
	Class   LayoutClass

	CompactData []byte

	// Contiguous: data address and size. Address is undefined when the
	// dataset has never been written.
	Address uint64
	Size    uint64

	// Chunked. ChunkDims has one entry per dataspace dimension;
	// ElementSize is the trailing dimension stored with them.
	ChunkDims      []uint64
	ElementSize    uint32
	ChunkIndexType ChunkIndexType
	ChunkIndexAddr uint64
	ChunkFlags     uint8

	// Single chunk index with filters.
	SingleFilteredSize uint64
	SingleFilterMask   uint32

	// Fixed array: log2 of data block page size.
	FAPageBits uint8

	// Extensible array parameters.
	EAMaxBits       uint8
	EAIndexElements uint8
	EAMinPointers   uint8
	EAMinElements   uint8
	EAPageBits      uint8

	// B-tree v2 parameters.
	BT2NodeSize     uint32
	BT2SplitPercent uint8
	BT2MergePercent uint8

	// Virtual: global heap collection holding the mapping.
	VirtualHeapAddress uint64
	VirtualHeapIndex   uint32
}

func (m *DataLayout) Type() Type { return TypeDataLayout }

// ChunkBytes returns the uncompressed size of one chunk.
func (m *DataLayout) ChunkBytes() uint64 {
	n := uint64(m.ElementSize)
	for _, d := range m.ChunkDims {
		n *= d
	}
	return n
}

func parseDataLayout(c *binpkg.Reader) (*DataLayout, error) {
	hdr, err := c.ReadBytes(2)
	if err != nil {
		return nil, err
	}
	l := &DataLayout{Version: hdr[0]}
	switch l.Version {
	case 1, 2:
		err = parseLayoutV1(c, l, hdr[1])
	case 3, 4:
		l.Class = LayoutClass(hdr[1])
		err = parseLayoutV3(c, l)
	default:
		return nil, fmt.Errorf("data layout version %d: %w", l.Version, h5err.ErrUnsupportedVersion)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// parseLayoutV1 decodes versions 1 and 2, which store the class after the
// dimensionality and carry dimension sizes for every class.
func parseLayoutV1(c *binpkg.Reader, l *DataLayout, ndims uint8) error {
	class, err := c.ReadUint8()
	if err != nil {
		return err
	}
	l.Class = LayoutClass(class)
	c.Skip(5)

	if l.Class != LayoutCompact {
		if l.Address, err = c.ReadOffset(); err != nil {
			return err
		}
	}
	dims := make([]uint64, ndims)
	for i := range dims {
		d, err := c.ReadUint32()
		if err != nil {
			return err
		}
		dims[i] = uint64(d)
	}

	switch l.Class {
	case LayoutCompact:
		n, err := c.ReadUint32()
		if err != nil {
			return err
		}
		l.CompactData, err = c.ReadBytes(int(n))
		return err
	case LayoutContiguous:
		l.Size = 1
		for _, d := range dims {
			l.Size *= d
		}
		return nil
	case LayoutChunked:
		return l.setChunkDims(dims, ChunkIndexBTreeV1, l.Address)
	}
	return corrupt("layout class %d", l.Class)
}

func parseLayoutV3(c *binpkg.Reader, l *DataLayout) error {
	var err error
	switch l.Class {
	case LayoutCompact:
		n, err := c.ReadUint16()
		if err != nil {
			return err
		}
		l.CompactData, err = c.ReadBytes(int(n))
		return err

	case LayoutContiguous:
		if l.Address, err = c.ReadOffset(); err != nil {
			return err
		}
		l.Size, err = c.ReadLength()
		return err

	case LayoutChunked:
		if l.Version == 3 {
			return parseChunkedV3(c, l)
		}
		return parseChunkedV4(c, l)

	case LayoutVirtual:
		if l.Version < 4 {
			return corrupt("virtual layout in version %d message", l.Version)
		}
		if l.VirtualHeapAddress, err = c.ReadOffset(); err != nil {
			return err
		}
		l.VirtualHeapIndex, err = c.ReadUint32()
		return err
	}
	return corrupt("layout class %d", l.Class)
}

func parseChunkedV3(c *binpkg.Reader, l *DataLayout) error {
	ndims, err := c.ReadUint8()
	if err != nil {
		return err
	}
	addr, err := c.ReadOffset()
	if err != nil {
		return err
	}
	dims := make([]uint64, ndims)
	for i := range dims {
		d, err := c.ReadUint32()
		if err != nil {
			return err
		}
		dims[i] = uint64(d)
	}
	return l.setChunkDims(dims, ChunkIndexBTreeV1, addr)
}

func parseChunkedV4(c *binpkg.Reader, l *DataLayout) error {
	hdr, err := c.ReadBytes(3)
	if err != nil {
		return err
	}
	l.ChunkFlags = hdr[0]
	ndims, width := int(hdr[1]), int(hdr[2])
	if width < 1 || width > 8 {
		return corrupt("chunk dimension width %d", width)
	}
	dims := make([]uint64, ndims)
	for i := range dims {
		if dims[i], err = c.ReadUintN(width); err != nil {
			return err
		}
	}

	kind, err := c.ReadUint8()
	if err != nil {
		return err
	}
	idx := ChunkIndexType(kind)
	switch idx {
	case ChunkIndexSingleChunk:
		if l.ChunkFlags&ChunkSingleIndexWithFilter != 0 {
			if l.SingleFilteredSize, err = c.ReadLength(); err != nil {
				return err
			}
			if l.SingleFilterMask, err = c.ReadUint32(); err != nil {
				return err
			}
		}
	case ChunkIndexImplicit:
	case ChunkIndexFixedArray:
		if l.FAPageBits, err = c.ReadUint8(); err != nil {
			return err
		}
	case ChunkIndexExtensibleArray:
		p, err := c.ReadBytes(5)
		if err != nil {
			return err
		}
		l.EAMaxBits, l.EAIndexElements, l.EAMinPointers, l.EAMinElements, l.EAPageBits = p[0], p[1], p[2], p[3], p[4]
	case ChunkIndexBTreeV2:
		if l.BT2NodeSize, err = c.ReadUint32(); err != nil {
			return err
		}
		p, err := c.ReadBytes(2)
		if err != nil {
			return err
		}
		l.BT2SplitPercent, l.BT2MergePercent = p[0], p[1]
	default:
		return fmt.Errorf("chunk index type %d: %w", kind, h5err.ErrUnsupportedChunkIndex)
	}

	addr, err := c.ReadOffset()
	if err != nil {
		return err
	}
	return l.setChunkDims(dims, idx, addr)
}

// setChunkDims splits the stored dimension list into the chunk shape and
// the trailing element size.
func (l *DataLayout) setChunkDims(dims []uint64, idx ChunkIndexType, addr uint64) error {
	if len(dims) < 2 {
		return corrupt("chunked layout with %d dimensions", len(dims))
	}
	for _, d := range dims {
		if d == 0 {
			return corrupt("zero chunk dimension")
		}
	}
	l.ChunkDims = dims[:len(dims)-1]
	l.ElementSize = uint32(dims[len(dims)-1])
	l.ChunkIndexType = idx
	l.ChunkIndexAddr = addr
	return nil
}
