// Package heap decodes the HDF5 heaps that hold names and variable-length
// data: local heaps, global heap collections and fractal heaps.
package heap

import (
	"bytes"
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// Local is a local heap ("HEAP"), which stores the member names of an
// old-style group.
type Local struct {
	DataAddress uint64
	data        []byte
}

// ReadLocal reads the local heap header at addr and its data segment.
func ReadLocal(r *binpkg.Reader, addr uint64) (*Local, error) {
	if r.IsUndefinedOffset(addr) {
		return nil, fmt.Errorf("local heap at undefined address: %w", h5err.ErrCorruptMetadata)
	}
	hr := r.At(int64(addr))
	if err := hr.ReadSignature("HEAP"); err != nil {
		return nil, err
	}
	version, err := hr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("local heap version %d: %w", version, h5err.ErrUnsupportedVersion)
	}
	hr.Skip(3)

	size, err := hr.ReadLength()
	if err != nil {
		return nil, err
	}
	if _, err := hr.ReadLength(); err != nil { // free list head
		return nil, err
	}
	dataAddr, err := hr.ReadOffset()
	if err != nil {
		return nil, err
	}
	if size > 1<<30 {
		return nil, fmt.Errorf("local heap data size %d: %w", size, h5err.ErrCorruptMetadata)
	}

	h := &Local{DataAddress: dataAddr}
	h.data, err = r.At(int64(dataAddr)).ReadBytes(int(size))
	if err != nil {
		return nil, fmt.Errorf("reading local heap data: %w", err)
	}
	return h, nil
}

// String returns the NUL-terminated string at off in the data segment.
func (h *Local) String(off uint64) (string, error) {
	if off >= uint64(len(h.data)) {
		return "", fmt.Errorf("local heap offset %d beyond %d bytes: %w", off, len(h.data), h5err.ErrCorruptMetadata)
	}
	rest := h.data[off:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		rest = rest[:i]
	}
	return string(rest), nil
}

// Size returns the data segment length.
func (h *Local) Size() int { return len(h.data) }
