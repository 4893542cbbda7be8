package filter

import "github.com/robert-malhotra/h5coro/internal/message"

// Shuffle reverses the byte shuffle, which stores byte 0 of every
// element, then byte 1, and so on. Trailing bytes that do not fill an
// element are left in place.
type Shuffle struct {
	elemSize int
}

// NewShuffle reads the element size from client data slot 0.
func NewShuffle(cd []uint32) *Shuffle {
	n := 1
	if len(cd) > 0 && cd[0] > 0 {
		n = int(cd[0])
	}
	return &Shuffle{elemSize: n}
}

func (f *Shuffle) ID() uint16 { return message.FilterShuffle }

func (f *Shuffle) Decode(input []byte) ([]byte, error) {
	n := len(input) / f.elemSize
	if f.elemSize <= 1 || n <= 1 {
		return input, nil
	}
	out := make([]byte, len(input))
	for j := 0; j < f.elemSize; j++ {
		src := input[j*n : (j+1)*n]
		for i, b := range src {
			out[i*f.elemSize+j] = b
		}
	}
	copy(out[n*f.elemSize:], input[n*f.elemSize:])
	return out, nil
}
