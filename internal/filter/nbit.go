package filter

import (
	"fmt"

	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// nbit client data slots.
const (
	nbitNeedNotCompress = 1
	nbitElements        = 2
	nbitClass           = 3
	nbitSize            = 4
	nbitOrder           = 5
	nbitPrecision       = 6
	nbitOffset          = 7

	nbitAtomic = 1
)

// NBit expands values packed to their precision bits. Only atomic
// (integer and floating point) datatypes are supported; bits outside the
// precision are zero.
type NBit struct {
	copyOnly  bool
	elements  int
	size      int
	bigEndian bool
	precision uint
	offset    uint
}

// NewNBit decodes the filter parameters stored in client data.
func NewNBit(cd []uint32, chunkBytes int) (Filter, error) {
	if len(cd) > nbitNeedNotCompress && cd[nbitNeedNotCompress] != 0 {
		return &NBit{copyOnly: true}, nil
	}
	if len(cd) <= nbitOffset {
		return nil, fmt.Errorf("nbit with %d parameters: %w", len(cd), h5err.ErrCorruptMetadata)
	}
	if cd[nbitClass] != nbitAtomic {
		return nil, fmt.Errorf("nbit for non-atomic datatype class %d: %w", cd[nbitClass], h5err.ErrUnsupportedFilter)
	}
	f := &NBit{
		elements:  int(cd[nbitElements]),
		size:      int(cd[nbitSize]),
		bigEndian: cd[nbitOrder] == 1,
		precision: uint(cd[nbitPrecision]),
		offset:    uint(cd[nbitOffset]),
	}
	if f.size == 0 || f.size > 8 || f.precision == 0 || f.precision+f.offset > uint(f.size)*8 {
		return nil, fmt.Errorf("nbit size %d precision %d offset %d: %w", f.size, f.precision, f.offset, h5err.ErrUnsupportedFilter)
	}
	return f, nil
}

func (f *NBit) ID() uint16 { return message.FilterNBit }

func (f *NBit) Decode(input []byte) ([]byte, error) {
	if f.copyOnly {
		return input, nil
	}
	out := make([]byte, f.elements*f.size)
	br := bitReader{buf: input}
	for i := 0; i < f.elements; i++ {
		v, ok := br.read(f.precision)
		if !ok {
			return nil, fmt.Errorf("stream ends at element %d of %d: %w", i, f.elements, h5err.ErrCorruptMetadata)
		}
		putUint(out[i*f.size:], v<<f.offset, f.size, f.bigEndian)
	}
	return out, nil
}
