package binary

import (
	"encoding/binary"
	"math/bits"
)

// Lookup3Checksum computes the Jenkins lookup3 "hashlittle" hash with a
// zero seed, as stored after v2/v3 superblocks, v2 object headers, heap and
// B-tree v2 blocks, and fixed and extensible array blocks. Link and
// attribute name hashes in dense storage use it too.
func Lookup3Checksum(data []byte) uint32 {
	seed := uint32(0xdeadbeef) + uint32(len(data))
	v := [3]uint32{seed, seed, seed}

	// The last 1..12 bytes, zero padded, always go through the final round.
	for ; len(data) > 12; data = data[12:] {
		lookup3Add(&v, data)
		for i, r := range lookup3MixRot {
			x := i % 3
			z, y := (x+2)%3, (x+1)%3
			v[x] -= v[z]
			v[x] ^= bits.RotateLeft32(v[z], r)
			v[z] += v[y]
		}
	}
	if len(data) == 0 {
		return v[2]
	}
	var tail [12]byte
	copy(tail[:], data)
	lookup3Add(&v, tail[:])
	for i, r := range lookup3FinalRot {
		t := (i + 2) % 3
		s := (t + 2) % 3
		v[t] ^= v[s]
		v[t] -= bits.RotateLeft32(v[s], r)
	}
	return v[2]
}

var (
	lookup3MixRot   = [...]int{4, 6, 8, 16, 19, 4}
	lookup3FinalRot = [...]int{14, 11, 25, 16, 4, 14, 24}
)

func lookup3Add(v *[3]uint32, block []byte) {
	for i := range v {
		v[i] += binary.LittleEndian.Uint32(block[4*i:])
	}
}

// Fletcher32 computes the Fletcher-32 checksum of the fletcher32 filter.
// Words are formed big-endian from byte pairs, a trailing odd byte is the
// high half of a final word, and sums are folded in blocks of 360 words.
func Fletcher32(data []byte) uint32 {
	sum1, sum2 := uint32(0), uint32(0)
	words := len(data) / 2
	for words > 0 {
		n := words
		if n > 360 {
			n = 360
		}
		words -= n
		for ; n > 0; n-- {
			sum1 += uint32(data[0])<<8 | uint32(data[1])
			sum2 += sum1
			data = data[2:]
		}
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	if len(data) == 1 {
		sum1 += uint32(data[0]) << 8
		sum2 += sum1
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	sum1 = (sum1 & 0xffff) + (sum1 >> 16)
	sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	return sum2<<16 | sum1
}
