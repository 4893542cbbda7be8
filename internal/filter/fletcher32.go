package filter

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// Fletcher32 verifies and strips the trailing Fletcher-32 checksum.
type Fletcher32 struct{}

func (Fletcher32) ID() uint16 { return message.FilterFletcher32 }

// Decode accepts the checksum in either byte order; files written before
// HDF5 1.6.3 stored it reversed.
func (Fletcher32) Decode(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("%d bytes, too short for checksum: %w", len(input), h5err.ErrChecksumFailure)
	}
	data := input[:len(input)-4]
	stored := binary.LittleEndian.Uint32(input[len(input)-4:])
	got := binpkg.Fletcher32(data)
	if stored != got && stored != bits.ReverseBytes32(got) {
		return nil, fmt.Errorf("stored 0x%08x, computed 0x%08x: %w", stored, got, h5err.ErrChecksumFailure)
	}
	return data, nil
}
