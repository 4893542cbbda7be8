package superblock

import (
	"encoding/binary"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
)

/*
Version 0 and 1 layout (O = size of offsets):

	0     8   signature
	8     1   version
	9     1   free-space storage version
	10    1   root group symbol table entry version
	11    1   reserved
	12    1   shared header message format version
	13    1   size of offsets
	14    1   size of lengths
	15    1   reserved
	16    2   group leaf node K
	18    2   group internal node K
	20    4   file consistency flags
	24    2   indexed storage K (v1 only, then 2 reserved bytes)
	..    O   base address
	..    O   free-space info address
	..    O   EOF address
	..    O   driver info block address
	..    var root group symbol table entry

Root group symbol table entry:

	0     O   link name offset
	O     O   object header address
	2O    4   cache type
	2O+4  4   reserved
	2O+8  16  scratch pad; cache type 1 holds B-tree and local heap addresses
*/

func parseV0(head []byte, off int, version uint8) (*Superblock, error) {
	cfg := binpkg.DefaultConfig()
	r := binpkg.NewBytesReader(head, 0, cfg).At(int64(off) + 9)

	fixed, err := r.ReadBytes(15)
	if err != nil {
		return nil, err
	}
	sb := &Superblock{
		Version:            version,
		OffsetSize:         fixed[4],
		LengthSize:         fixed[5],
		GroupLeafNodeK:     binary.LittleEndian.Uint16(fixed[7:9]),
		GroupInternalNodeK: binary.LittleEndian.Uint16(fixed[9:11]),
	}
	if err := sb.ReaderConfig().Validate(); err != nil {
		return nil, err
	}
	r = r.WithSizes(int(sb.OffsetSize), int(sb.LengthSize))

	if version == 1 {
		k, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		sb.IndexedStorageK = k
		r.Skip(2)
	}

	if sb.BaseAddress, err = r.ReadOffset(); err != nil {
		return nil, err
	}
	r.Skip(int64(sb.OffsetSize)) // free-space info
	if sb.EOFAddress, err = r.ReadOffset(); err != nil {
		return nil, err
	}
	r.Skip(int64(sb.OffsetSize)) // driver info
	r.Skip(int64(sb.OffsetSize)) // link name offset

	if sb.RootGroupAddress, err = r.ReadOffset(); err != nil {
		return nil, err
	}
	cacheType, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	r.Skip(4)
	if cacheType == 1 {
		if sb.RootGroupBTreeAddress, err = r.ReadOffset(); err != nil {
			return nil, err
		}
		if sb.RootGroupLocalHeapAddress, err = r.ReadOffset(); err != nil {
			return nil, err
		}
	}
	return sb, nil
}
