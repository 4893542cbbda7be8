package dtype

import (
	"fmt"

	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/heap"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// ResolveVlen dereferences every variable-length element in data through
// the global heap. Each result is an owned slice: string bytes for
// variable-length strings, or the sequence elements in host order.
func ResolveVlen(dt *message.Datatype, data []byte, colls *heap.Collections, offsetSize int) ([][]byte, error) {
	if dt.Class != message.ClassVarLen {
		return nil, fmt.Errorf("%s is not variable-length", Name(dt))
	}
	size := int(dt.Size)
	if size < 8+offsetSize {
		return nil, fmt.Errorf("variable-length element size %d: %w", size, h5err.ErrCorruptMetadata)
	}
	elemSize := 1
	if !dt.IsVarLenString {
		if dt.BaseType == nil || dt.BaseType.Size == 0 {
			return nil, fmt.Errorf("variable-length sequence without base type: %w", h5err.ErrCorruptMetadata)
		}
		elemSize = int(dt.BaseType.Size)
	}

	out := make([][]byte, 0, len(data)/size)
	for off := 0; off+size <= len(data); off += size {
		ref, err := heap.ParseVlenRef(data[off:off+size], offsetSize)
		if err != nil {
			return nil, err
		}
		b, err := colls.Resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("variable-length element %d: %w", len(out), err)
		}
		want := int(ref.Length) * elemSize
		if want > len(b) {
			return nil, fmt.Errorf("variable-length element %d wants %d bytes, heap object has %d: %w",
				len(out), want, len(b), h5err.ErrCorruptMetadata)
		}
		b = b[:want]
		if !dt.IsVarLenString {
			if err := ToHost(dt.BaseType, b); err != nil {
				return nil, err
			}
		}
		out = append(out, b)
	}
	return out, nil
}
