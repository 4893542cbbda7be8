package btree

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/heap"
)

// Node types of a version 1 B-tree.
const (
	NodeGroup = 0
	NodeChunk = 1
)

// maxLevel bounds tree height so a corrupt level byte cannot recurse far.
const maxLevel = 32

// GroupEntry is one member of an old-style group.
type GroupEntry struct {
	Name          string
	ObjectAddress uint64
	// SoftLinkValue is set for soft links, whose object address is
	// undefined.
	SoftLinkValue string
}

// IsSoft reports whether the entry is a soft link.
func (e GroupEntry) IsSoft() bool { return e.SoftLinkValue != "" }

// Symbol table entry cache types.
const (
	cacheNone     = 0
	cacheHeader   = 1
	cacheSoftLink = 2
)

// ChunkEntry is one stored chunk of a chunked dataset.
type ChunkEntry struct {
	// Offset is the element offset of the chunk's first element in each
	// dataset dimension.
	Offset []uint64
	// FilterMask has bit i set when filter i was skipped for this chunk.
	FilterMask uint32
	// Size is the stored, possibly filtered, size in bytes.
	Size    uint64
	Address uint64
}

// nodeV1 is a decoded version 1 node: len(keys) == len(children)+1.
type nodeV1 struct {
	level    int
	keys     [][]byte
	children []uint64
}

func readNodeV1(r *binpkg.Reader, addr uint64, typ uint8, keySize int) (*nodeV1, error) {
	if r.IsUndefinedOffset(addr) {
		return nil, fmt.Errorf("B-tree node at undefined address: %w", h5err.ErrCorruptMetadata)
	}
	nr := r.At(int64(addr))
	if err := nr.ReadSignature("TREE"); err != nil {
		return nil, err
	}
	nodeType, err := nr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if nodeType != typ {
		return nil, fmt.Errorf("B-tree node type %d at 0x%x, expected %d: %w", nodeType, addr, typ, h5err.ErrCorruptMetadata)
	}
	level, err := nr.ReadUint8()
	if err != nil {
		return nil, err
	}
	used, err := nr.ReadUint16()
	if err != nil {
		return nil, err
	}
	nr.Skip(int64(2 * r.OffsetSize())) // siblings

	// Keys and children interleave, with one more key than children.
	n := int(used)
	w, err := nr.Window((n+1)*keySize + n*r.OffsetSize())
	if err != nil {
		return nil, err
	}
	node := &nodeV1{level: int(level), children: make([]uint64, n)}
	for i := 0; i <= n; i++ {
		key, err := w.ReadBytes(keySize)
		if err != nil {
			return nil, err
		}
		node.keys = append(node.keys, key)
		if i == n {
			break
		}
		if node.children[i], err = w.ReadOffset(); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// ReadGroup lists the members of an old-style group from its B-tree and
// local heap, in B-tree (name) order.
func ReadGroup(r *binpkg.Reader, btreeAddr uint64, names *heap.Local) ([]GroupEntry, error) {
	var entries []GroupEntry
	err := walkV1(r, btreeAddr, NodeGroup, r.LengthSize(), -1, nil, func(snod uint64, _ []byte) error {
		got, err := readSymbolNode(r, snod, names)
		if err != nil {
			return fmt.Errorf("symbol table node at 0x%x: %w", snod, err)
		}
		entries = append(entries, got...)
		return nil
	})
	return entries, err
}

// walkV1 calls leaf for every child of every level 0 node, in key order.
// skip, when set, prunes a subtree given its left key. wantLevel is the
// expected level of the node at addr, or -1 for the root.
func walkV1(r *binpkg.Reader, addr uint64, typ uint8, keySize, wantLevel int,
	skip func(left []byte) bool, leaf func(child uint64, left []byte) error) error {
	node, err := readNodeV1(r, addr, typ, keySize)
	if err != nil {
		return err
	}
	if node.level > maxLevel || (wantLevel >= 0 && node.level != wantLevel) {
		return fmt.Errorf("B-tree node at 0x%x has level %d: %w", addr, node.level, h5err.ErrCorruptMetadata)
	}
	for i, child := range node.children {
		if skip != nil && skip(node.keys[i]) {
			continue
		}
		if node.level == 0 {
			err = leaf(child, node.keys[i])
		} else {
			err = walkV1(r, child, typ, keySize, node.level-1, skip, leaf)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readSymbolNode(r *binpkg.Reader, addr uint64, names *heap.Local) ([]GroupEntry, error) {
	nr := r.At(int64(addr))
	if err := nr.ReadSignature("SNOD"); err != nil {
		return nil, err
	}
	version, err := nr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, fmt.Errorf("symbol table node version %d: %w", version, h5err.ErrUnsupportedVersion)
	}
	nr.Skip(1)
	count, err := nr.ReadUint16()
	if err != nil {
		return nil, err
	}

	entrySize := 2*r.OffsetSize() + 4 + 4 + 16
	w, err := nr.Window(int(count) * entrySize)
	if err != nil {
		return nil, err
	}
	entries := make([]GroupEntry, 0, count)
	for i := 0; i < int(count); i++ {
		nameOff, err := w.ReadOffset()
		if err != nil {
			return nil, err
		}
		objAddr, err := w.ReadOffset()
		if err != nil {
			return nil, err
		}
		cacheType, err := w.ReadUint32()
		if err != nil {
			return nil, err
		}
		w.Skip(4)
		scratch, err := w.ReadBytes(16)
		if err != nil {
			return nil, err
		}

		e := GroupEntry{ObjectAddress: objAddr}
		if e.Name, err = names.String(nameOff); err != nil {
			return nil, err
		}
		switch cacheType {
		case cacheNone, cacheHeader:
		case cacheSoftLink:
			if e.SoftLinkValue, err = names.String(binpkg.DecodeUint(scratch, 4)); err != nil {
				return nil, err
			}
			if e.SoftLinkValue == "" {
				return nil, fmt.Errorf("soft link %q has empty value: %w", e.Name, h5err.ErrCorruptMetadata)
			}
		default:
			return nil, fmt.Errorf("symbol table entry %q cache type %d: %w", e.Name, cacheType, h5err.ErrCorruptMetadata)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ReadChunks lists the chunks of a version 1 chunk B-tree for a dataset of
// the given rank. Subtrees whose first chunk starts at or beyond row
// stopRow in dimension 0 are not read; pass ^uint64(0) for all chunks.
func ReadChunks(r *binpkg.Reader, btreeAddr uint64, rank int, stopRow uint64) ([]ChunkEntry, error) {
	// Key: size, filter mask, then rank+1 offsets (the last is the
	// element byte offset, always zero).
	keySize := 4 + 4 + 8*(rank+1)
	skip := func(left []byte) bool {
		return binpkg.DecodeUint(left[8:], 8) >= stopRow
	}
	var chunks []ChunkEntry
	err := walkV1(r, btreeAddr, NodeChunk, keySize, -1, skip, func(child uint64, key []byte) error {
		if r.IsUndefinedOffset(child) {
			return nil
		}
		e := ChunkEntry{
			Size:       binpkg.DecodeUint(key, 4),
			FilterMask: uint32(binpkg.DecodeUint(key[4:], 4)),
			Address:    child,
			Offset:     make([]uint64, rank),
		}
		for d := range e.Offset {
			e.Offset[d] = binpkg.DecodeUint(key[8+8*d:], 8)
		}
		chunks = append(chunks, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// FindChunk returns the entry whose chunk of size chunkDims contains the
// element at offset, or nil.
func FindChunk(entries []ChunkEntry, offset []uint64, chunkDims []uint64) *ChunkEntry {
	for i := range entries {
		e := &entries[i]
		match := true
		for d := 0; d < len(offset) && d < len(e.Offset); d++ {
			if offset[d] < e.Offset[d] || offset[d] >= e.Offset[d]+chunkDims[d] {
				match = false
				break
			}
		}
		if match {
			return e
		}
	}
	return nil
}
