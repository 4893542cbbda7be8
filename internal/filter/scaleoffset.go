package filter

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// scaleoffset client data slots and values.
const (
	soScaleType   = 0
	soScaleFactor = 1
	soElements    = 2
	soClass       = 3
	soSize        = 4
	soSign        = 5
	soOrder       = 6
	soFillAvail   = 7
	soFillValue   = 8

	soFloatDScale = 0
	soFloatEScale = 1
	soInt         = 2

	soClassInteger = 0
	soClassFloat   = 1
)

// Stream header: 4-byte minbits, 1-byte minval width, 16 bytes of minval.
const soHeader = 21

// ScaleOffset restores values stored as minbits-wide offsets from a
// per-chunk minimum. Integers and D-scaled floats are supported.
type ScaleOffset struct {
	scaleType int
	factor    int32
	elements  int
	float     bool
	size      int
	signed    bool
	bigEndian bool
	fill      []byte // nil when no fill value is defined
}

// NewScaleOffset decodes the filter parameters stored in client data.
func NewScaleOffset(cd []uint32, chunkBytes int) (Filter, error) {
	if len(cd) < soFillValue {
		return nil, fmt.Errorf("scaleoffset with %d parameters: %w", len(cd), h5err.ErrCorruptMetadata)
	}
	f := &ScaleOffset{
		scaleType: int(cd[soScaleType]),
		factor:    int32(cd[soScaleFactor]),
		elements:  int(cd[soElements]),
		float:     cd[soClass] == soClassFloat,
		size:      int(cd[soSize]),
		signed:    cd[soSign] == 1,
		bigEndian: cd[soOrder] == 1,
	}
	switch {
	case f.scaleType == soFloatEScale:
		return nil, fmt.Errorf("scaleoffset E-scale: %w", h5err.ErrUnsupportedFilter)
	case f.float && f.scaleType != soFloatDScale, !f.float && f.scaleType != soInt:
		return nil, fmt.Errorf("scaleoffset scale type %d for class %d: %w", f.scaleType, cd[soClass], h5err.ErrCorruptMetadata)
	case f.float && f.size != 4 && f.size != 8, !f.float && (f.size < 1 || f.size > 8):
		return nil, fmt.Errorf("scaleoffset element size %d: %w", f.size, h5err.ErrUnsupportedFilter)
	}
	if cd[soFillAvail] != 0 {
		raw := make([]byte, 0, 4*(len(cd)-soFillValue))
		for _, v := range cd[soFillValue:] {
			raw = binary.LittleEndian.AppendUint32(raw, v)
		}
		if len(raw) < f.size {
			return nil, fmt.Errorf("scaleoffset fill value of %d bytes: %w", len(raw), h5err.ErrCorruptMetadata)
		}
		f.fill = raw[:f.size]
	}
	return f, nil
}

func (f *ScaleOffset) ID() uint16 { return message.FilterScaleOffset }

func (f *ScaleOffset) Decode(input []byte) ([]byte, error) {
	if len(input) < soHeader {
		return nil, fmt.Errorf("scaleoffset stream of %d bytes: %w", len(input), h5err.ErrCorruptMetadata)
	}
	minbits := uint(binary.LittleEndian.Uint32(input))
	minvalLen := min(int(input[4]), 8)
	var minval uint64
	for i := 0; i < minvalLen; i++ {
		minval |= uint64(input[5+i]) << (8 * i)
	}
	width := uint(f.size) * 8
	if minbits > width {
		return nil, fmt.Errorf("scaleoffset minbits %d for %d-byte elements: %w", minbits, f.size, h5err.ErrCorruptMetadata)
	}

	out := make([]byte, f.elements*f.size)
	stream := input[soHeader:]
	if minbits == width {
		// Stored verbatim in little-endian order.
		if len(stream) < len(out) {
			return nil, fmt.Errorf("scaleoffset full-precision stream short: %w", h5err.ErrCorruptMetadata)
		}
		for i := 0; i < f.elements; i++ {
			putUint(out[i*f.size:], getUint(stream[i*f.size:], f.size, false), f.size, f.bigEndian)
		}
		return out, nil
	}

	br := bitReader{buf: stream}
	fillCode := uint64(1)<<minbits - 1
	for i := 0; i < f.elements; i++ {
		var v uint64
		if minbits > 0 {
			var ok bool
			if v, ok = br.read(minbits); !ok {
				return nil, fmt.Errorf("stream ends at element %d of %d: %w", i, f.elements, h5err.ErrCorruptMetadata)
			}
		}
		dst := out[i*f.size : (i+1)*f.size]
		if f.fill != nil && v == fillCode {
			putUint(dst, getUint(f.fill, f.size, false), f.size, f.bigEndian)
			continue
		}
		putUint(dst, f.restore(v, minval), f.size, f.bigEndian)
	}
	return out, nil
}

// restore returns the bit pattern of the element whose stored offset is v.
func (f *ScaleOffset) restore(v, minval uint64) uint64 {
	if !f.float {
		return v + minval
	}
	scale := math.Pow(10, float64(f.factor))
	if f.size == 4 {
		lo := math.Float32frombits(uint32(minval))
		return uint64(math.Float32bits(float32(float64(int32(v))/scale + float64(lo))))
	}
	lo := math.Float64frombits(minval)
	return math.Float64bits(float64(int64(v))/scale + lo)
}
