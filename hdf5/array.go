package hdf5

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/robert-malhotra/h5coro/internal/dtype"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// Array holds the result of a read: elements in host byte order, row major.
type Array struct {
	// Type is the datatype name, as in Meta.DatatypeName.
	Type string
	// Shape is the shape of the returned selection; nil for a scalar.
	Shape []uint64
	// Data holds fixed-size elements back to back. It is nil for
	// variable-length types.
	Data []byte
	// VarData holds one owned slice per variable-length element: the
	// string bytes, or the sequence elements in host order.
	VarData [][]byte

	dt *message.Datatype
}

var hostOrder = binary.NativeEndian

func newArray(dt *message.Datatype, shape []uint64, data []byte) *Array {
	return &Array{Type: dtype.Name(dt), Shape: shape, Data: data, dt: dt}
}

// Len returns the number of elements.
func (a *Array) Len() int {
	if a.VarData != nil || a.dt.Class == message.ClassVarLen {
		return len(a.VarData)
	}
	if a.dt.Size == 0 {
		return 0
	}
	return len(a.Data) / int(a.dt.Size)
}

// Size returns the number of data bytes held.
func (a *Array) Size() int {
	n := len(a.Data)
	for _, v := range a.VarData {
		n += len(v)
	}
	return n
}

// ElemSize is the stored size of one element. For variable-length types it
// is the size of the heap reference.
func (a *Array) ElemSize() int { return int(a.dt.Size) }

// Float64s converts numeric elements to float64.
func (a *Array) Float64s() ([]float64, error) {
	out := make([]float64, a.Len())
	for i := range out {
		v, ok := dtype.Float64(a.dt, a.Data, i)
		if !ok {
			return nil, a.notA("numeric")
		}
		out[i] = v
	}
	return out, nil
}

// Float32s converts numeric elements to float32.
func (a *Array) Float32s() ([]float32, error) {
	if a.dt.Class == message.ClassFloatPoint && a.dt.Size == 4 {
		out := make([]float32, a.Len())
		for i := range out {
			out[i] = math.Float32frombits(hostOrder.Uint32(a.Data[4*i:]))
		}
		return out, nil
	}
	f, err := a.Float64s()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(f))
	for i, v := range f {
		out[i] = float32(v)
	}
	return out, nil
}

// Int64s converts integer and enum elements to int64.
func (a *Array) Int64s() ([]int64, error) {
	out := make([]int64, a.Len())
	for i := range out {
		v, ok := dtype.Int64(a.dt, a.Data, i)
		if !ok {
			return nil, a.notA("integer")
		}
		out[i] = v
	}
	return out, nil
}

// Uint64s converts integer elements to uint64.
func (a *Array) Uint64s() ([]uint64, error) {
	out := make([]uint64, a.Len())
	for i := range out {
		v, ok := dtype.Uint64(a.dt, a.Data, i)
		if !ok {
			return nil, a.notA("integer")
		}
		out[i] = v
	}
	return out, nil
}

// Strings returns string elements with their padding removed.
func (a *Array) Strings() ([]string, error) {
	switch {
	case a.dt.Class == message.ClassVarLen && a.dt.IsVarLenString:
		out := make([]string, len(a.VarData))
		for i, b := range a.VarData {
			out[i] = string(b)
		}
		return out, nil
	case a.dt.Class == message.ClassString:
		out := make([]string, a.Len())
		for i := range out {
			s, _ := dtype.String(a.dt, a.Data, i)
			out[i] = dtype.TrimString(a.dt, s)
		}
		return out, nil
	}
	return nil, a.notA("string")
}

// Value returns element i as a Go value: int64 or uint64, float32 or
// float64, string, an enum name, a map of compound members, or raw bytes.
func (a *Array) Value(i int) any {
	switch a.dt.Class {
	case message.ClassVarLen:
		if a.dt.IsVarLenString {
			return string(a.VarData[i])
		}
		return a.VarData[i]
	case message.ClassCompound:
		m := make(map[string]any, len(a.dt.Members))
		for _, mem := range a.dt.Members {
			if f, err := a.Field(mem.Name); err == nil {
				m[mem.Name] = f.Value(i)
			}
		}
		return m
	}
	return dtype.Value(a.dt, a.Data, i)
}

// Values returns every element as by Value.
func (a *Array) Values() []any {
	out := make([]any, a.Len())
	for i := range out {
		out[i] = a.Value(i)
	}
	return out
}

// Field extracts one member of a compound array into its own array of the
// same shape.
func (a *Array) Field(name string) (*Array, error) {
	if a.dt.Class != message.ClassCompound {
		return nil, a.notA("compound")
	}
	m, err := dtype.Member(a.dt, name)
	if err != nil {
		return nil, err
	}
	size, msize := int(a.dt.Size), int(m.Type.Size)
	off := int(m.ByteOffset)
	if off+msize > size {
		return nil, fmt.Errorf("member %q at %d+%d of %d byte compound: %w", name, off, msize, size, ErrCorruptMetadata)
	}
	n := a.Len()
	out := make([]byte, 0, n*msize)
	for i := 0; i < n; i++ {
		out = append(out, a.Data[i*size+off:i*size+off+msize]...)
	}
	return newArray(m.Type, a.Shape, out), nil
}

func (a *Array) notA(what string) error {
	return fmt.Errorf("%s is not %s data", a.Type, what)
}
