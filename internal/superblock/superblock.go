package superblock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// Signature is the 8-byte format signature that starts every superblock.
var Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// HeadSize is how much of the file head is read in one request to find
// and decode the superblock.
const HeadSize = 4096

// superblockOffsets are searched in order within the head.
var superblockOffsets = []int{0, 512, 1024, 2048}

// ErrNotHDF5 is returned when no signature is found in the head.
var ErrNotHDF5 = fmt.Errorf("not an HDF5 file: %w", h5err.ErrCorruptMetadata)

// Superblock holds the fields of the file superblock a reader needs.
type Superblock struct {
	Version    uint8
	OffsetSize uint8
	LengthSize uint8

	// FileConsistencyFlags (v2/v3 only).
	FileConsistencyFlags uint8

	// BaseAddress is added to every stored address.
	BaseAddress uint64

	// SuperblockExtensionAddress is undefined when no extension exists.
	SuperblockExtensionAddress uint64

	EOFAddress       uint64
	RootGroupAddress uint64

	GroupLeafNodeK     uint16
	GroupInternalNodeK uint16
	IndexedStorageK    uint16

	// Root group symbol table addresses cached in the v0/v1 root entry
	// scratch pad. Zero when the entry carries no cache.
	RootGroupBTreeAddress     uint64
	RootGroupLocalHeapAddress uint64

	// FileOffset is where the signature was found.
	FileOffset int64

	// Checksummed reports whether a stored checksum was verified.
	Checksummed bool
}

// Read locates and decodes the superblock. The head of the file is fetched
// with a single ReadAt of HeadSize bytes; shorter files are fine.
func Read(r io.ReaderAt) (*Superblock, error) {
	head := make([]byte, HeadSize)
	n, err := r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("reading file head: %w", err)
	}
	return Parse(head[:n])
}

// Parse decodes the superblock from the head of a file.
func Parse(head []byte) (*Superblock, error) {
	for _, off := range superblockOffsets {
		if off+len(Signature)+1 > len(head) {
			break
		}
		if !bytes.Equal(head[off:off+len(Signature)], Signature) {
			continue
		}

		version := head[off+len(Signature)]
		var sb *Superblock
		var err error
		switch version {
		case 0, 1:
			sb, err = parseV0(head, off, version)
		case 2, 3:
			sb, err = parseV2(head, off)
		default:
			return nil, fmt.Errorf("superblock version %d: %w", version, h5err.ErrUnsupportedVersion)
		}
		if err != nil {
			return nil, fmt.Errorf("superblock v%d at %d: %w", version, off, err)
		}
		sb.FileOffset = int64(off)
		return sb, nil
	}
	return nil, ErrNotHDF5
}

// ReaderConfig returns the decoding configuration for the rest of the file.
func (sb *Superblock) ReaderConfig() binpkg.Config {
	return binpkg.Config{
		ByteOrder:  binary.LittleEndian,
		OffsetSize: int(sb.OffsetSize),
		LengthSize: int(sb.LengthSize),
	}
}

// HasRootCache reports whether the root entry scratch pad named the root
// group's symbol table.
func (sb *Superblock) HasRootCache() bool {
	return sb.RootGroupBTreeAddress != 0 && sb.RootGroupLocalHeapAddress != 0
}
