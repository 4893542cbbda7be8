package superblock

import (
	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
)

/*
Version 2 and 3 layout (O = size of offsets):

	0     8   signature
	8     1   version
	9     1   size of offsets
	10    1   size of lengths
	11    1   file consistency flags
	12    O   base address
	12+O  O   superblock extension address
	12+2O O   EOF address
	12+3O O   root group object header address
	12+4O 4   lookup3 checksum of all preceding bytes
*/

func parseV2(head []byte, off int) (*Superblock, error) {
	r := binpkg.NewBytesReader(head, 0, binpkg.DefaultConfig()).At(int64(off) + 8)
	fixed, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	sb := &Superblock{
		Version:              fixed[0],
		OffsetSize:           fixed[1],
		LengthSize:           fixed[2],
		FileConsistencyFlags: fixed[3],
	}
	if err := sb.ReaderConfig().Validate(); err != nil {
		return nil, err
	}
	r = r.WithSizes(int(sb.OffsetSize), int(sb.LengthSize))

	for _, dst := range []*uint64{&sb.BaseAddress, &sb.SuperblockExtensionAddress, &sb.EOFAddress, &sb.RootGroupAddress} {
		if *dst, err = r.ReadOffset(); err != nil {
			return nil, err
		}
	}

	end := int(r.Pos())
	if end+4 > len(head) {
		// Truncated before the checksum; nothing to verify.
		return sb, nil
	}
	if err := binpkg.VerifyBlock(head[off:end+4], int64(off)); err != nil {
		return nil, err
	}
	sb.Checksummed = true
	return sb, nil
}
