package h5test

import (
	"encoding/binary"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
)

// Undef is the undefined address for eight-byte offsets.
const Undef = ^uint64(0)

// Enc appends little-endian HDF5 fields. Offsets and lengths are eight
// bytes wide.
type Enc struct {
	buf []byte
}

// NewEnc returns an empty encoder.
func NewEnc() *Enc { return &Enc{} }

func (e *Enc) U8(v ...uint8) *Enc { e.buf = append(e.buf, v...); return e }

func (e *Enc) U16(v uint16) *Enc { e.buf = binary.LittleEndian.AppendUint16(e.buf, v); return e }

func (e *Enc) U32(v uint32) *Enc { e.buf = binary.LittleEndian.AppendUint32(e.buf, v); return e }

func (e *Enc) U64(v uint64) *Enc { e.buf = binary.LittleEndian.AppendUint64(e.buf, v); return e }

// UintN appends the low n bytes of v.
func (e *Enc) UintN(v uint64, n int) *Enc {
	for i := 0; i < n; i++ {
		e.buf = append(e.buf, byte(v>>(8*i)))
	}
	return e
}

// Offset appends a file address.
func (e *Enc) Offset(v uint64) *Enc { return e.U64(v) }

// Length appends a length field.
func (e *Enc) Length(v uint64) *Enc { return e.U64(v) }

func (e *Enc) Raw(b []byte) *Enc { e.buf = append(e.buf, b...); return e }

func (e *Enc) Str(s string) *Enc { e.buf = append(e.buf, s...); return e }

// CStr appends s with its NUL terminator.
func (e *Enc) CStr(s string) *Enc { return e.Str(s).U8(0) }

func (e *Enc) Zeros(n int) *Enc { e.buf = append(e.buf, make([]byte, n)...); return e }

// Pad appends zeros up to the next multiple of n.
func (e *Enc) Pad(n int) *Enc {
	if r := len(e.buf) % n; r != 0 {
		e.Zeros(n - r)
	}
	return e
}

// Checksum appends the lookup3 checksum of everything written so far.
func (e *Enc) Checksum() *Enc { return e.U32(binpkg.Lookup3Checksum(e.buf)) }

func (e *Enc) Len() int { return len(e.buf) }

func (e *Enc) Bytes() []byte { return e.buf }
