// Package filter implements the HDF5 filters needed to read chunked data:
// deflate, shuffle, fletcher32, nbit and scaleoffset.
//
// Filters run in reverse pipeline order on read. A chunk's filter mask can
// skip individual filters; any other filter a chunk needs fails with
// h5err.ErrUnsupportedFilter.
package filter

import (
	"fmt"

	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// Filter reverses one pipeline stage.
type Filter interface {
	ID() uint16
	// Decode transforms encoded data to decoded form. It may return
	// input itself.
	Decode(input []byte) ([]byte, error)
}

// Registry maps filter IDs to constructors. chunkBytes is the decoded size
// of a full chunk.
var Registry = map[uint16]func(cd []uint32, chunkBytes int) (Filter, error){
	message.FilterDeflate:     func(cd []uint32, n int) (Filter, error) { return NewDeflate(n), nil },
	message.FilterShuffle:     func(cd []uint32, n int) (Filter, error) { return NewShuffle(cd), nil },
	message.FilterFletcher32:  func(cd []uint32, n int) (Filter, error) { return Fletcher32{}, nil },
	message.FilterNBit:        NewNBit,
	message.FilterScaleOffset: NewScaleOffset,
}

var filterNames = map[uint16]string{
	message.FilterDeflate:     "deflate",
	message.FilterShuffle:     "shuffle",
	message.FilterFletcher32:  "fletcher32",
	message.FilterSZIP:        "szip",
	message.FilterNBit:        "nbit",
	message.FilterScaleOffset: "scaleoffset",
	32001:                     "blosc",
	32004:                     "lz4",
	32008:                     "bitshuffle",
	32015:                     "zstd",
}

// Name returns a readable name for a filter ID.
func Name(id uint16) string {
	if n, ok := filterNames[id]; ok {
		return n
	}
	return fmt.Sprintf("filter-%d", id)
}

// New builds the decoder for one pipeline entry.
func New(info message.FilterInfo, chunkBytes int) (Filter, error) {
	ctor, ok := Registry[info.ID]
	if !ok {
		return nil, fmt.Errorf("%s (id %d): %w", Name(info.ID), info.ID, h5err.ErrUnsupportedFilter)
	}
	return ctor(info.ClientData, chunkBytes)
}

// unsupported stands in for a filter that has no decoder, so chunks that
// mask it out remain readable.
type unsupported struct {
	id  uint16
	err error
}

func (u unsupported) ID() uint16 { return u.id }

func (u unsupported) Decode([]byte) ([]byte, error) { return nil, u.err }
