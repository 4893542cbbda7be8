// Package binary provides the low-level decoding primitives used by the
// HDF5 metadata parsers: variable-width offsets and lengths, undefined
// address sentinels, windowed reads and lookup3 checksum verification.
package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// ErrInvalidSize is returned when an invalid offset or length size is specified.
var ErrInvalidSize = errors.New("invalid offset/length size: must be 2, 4, or 8")

// Reader decodes HDF5 structures from an io.ReaderAt with the offset and
// length widths declared by the superblock. Positions are absolute file
// addresses. A Reader is not safe for concurrent use; derive one per
// goroutine with At.
type Reader struct {
	r          io.ReaderAt
	order      binary.ByteOrder
	offsetSize int
	lengthSize int
	pos        int64
}

// Config holds reader configuration, typically derived from the superblock.
type Config struct {
	ByteOrder  binary.ByteOrder
	OffsetSize int // 2, 4, or 8 bytes
	LengthSize int // 2, 4, or 8 bytes
}

// DefaultConfig returns little-endian with 8-byte offsets and lengths,
// suitable until the superblock has been decoded.
func DefaultConfig() Config {
	return Config{
		ByteOrder:  binary.LittleEndian,
		OffsetSize: 8,
		LengthSize: 8,
	}
}

// Validate checks the offset and length widths.
func (c Config) Validate() error {
	for _, n := range []int{c.OffsetSize, c.LengthSize} {
		if n != 2 && n != 4 && n != 8 {
			return fmt.Errorf("%w: %d: %w", ErrInvalidSize, n, h5err.ErrCorruptMetadata)
		}
	}
	return nil
}

// NewReader creates a binary reader with the given configuration.
func NewReader(r io.ReaderAt, cfg Config) *Reader {
	return &Reader{
		r:          r,
		order:      cfg.ByteOrder,
		offsetSize: cfg.OffsetSize,
		lengthSize: cfg.LengthSize,
	}
}

// NewBytesReader returns a reader over b, where b[0] sits at file address
// base. Reads outside [base, base+len(b)) fail with ErrCorruptMetadata.
func NewBytesReader(b []byte, base int64, cfg Config) *Reader {
	r := NewReader(&window{base: base, data: b}, cfg)
	r.pos = base
	return r
}

// At returns a new reader positioned at the given offset.
// The new reader shares the underlying io.ReaderAt but has independent position.
func (r *Reader) At(offset int64) *Reader {
	return &Reader{
		r:          r.r,
		order:      r.order,
		offsetSize: r.offsetSize,
		lengthSize: r.lengthSize,
		pos:        offset,
	}
}

// WithSizes returns a new reader with updated offset and length sizes.
func (r *Reader) WithSizes(offsetSize, lengthSize int) *Reader {
	nr := r.At(r.pos)
	nr.offsetSize = offsetSize
	nr.lengthSize = lengthSize
	return nr
}

// Config returns the reader's configuration.
func (r *Reader) Config() Config {
	return Config{ByteOrder: r.order, OffsetSize: r.offsetSize, LengthSize: r.lengthSize}
}

// Pos returns the current read position.
func (r *Reader) Pos() int64 {
	return r.pos
}

// Window reads n bytes at the current position in one request and returns
// a reader that decodes from memory starting at the same position. The
// receiver's position is not advanced.
func (r *Reader) Window(n int) (*Reader, error) {
	buf, err := r.Peek(n)
	if err != nil {
		return nil, err
	}
	return NewBytesReader(buf, r.pos, r.Config()), nil
}

// ReadBytes reads exactly n bytes from the current position.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf, err := r.Peek(n)
	if err != nil {
		return nil, err
	}
	r.pos += int64(len(buf))
	return buf, nil
}

// Peek reads n bytes without advancing the position.
func (r *Reader) Peek(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if r.pos < 0 {
		return nil, fmt.Errorf("read at negative address %d: %w", r.pos, h5err.ErrCorruptMetadata)
	}
	buf := make([]byte, n)
	got, err := r.r.ReadAt(buf, r.pos)
	if got == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%d bytes at 0x%x past end of data: %w", n, r.pos, h5err.ErrCorruptMetadata)
	}
	return nil, fmt.Errorf("reading %d bytes at 0x%x: %w", n, r.pos, err)
}

// ReadUint8 reads an unsigned 8-bit integer.
func (r *Reader) ReadUint8() (uint8, error) {
	buf, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadUint16 reads an unsigned 16-bit integer.
func (r *Reader) ReadUint16() (uint16, error) {
	buf, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(buf), nil
}

// ReadUint32 reads an unsigned 32-bit integer.
func (r *Reader) ReadUint32() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(buf), nil
}

// ReadUint64 reads an unsigned 64-bit integer.
func (r *Reader) ReadUint64() (uint64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return r.order.Uint64(buf), nil
}

// ReadUintN reads an unsigned little-endian integer of n bytes (0 to 8).
func (r *Reader) ReadUintN(n int) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	buf, err := r.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	return DecodeUint(buf, n), nil
}

// ReadOffset reads a file offset using the configured offset size.
func (r *Reader) ReadOffset() (uint64, error) {
	return r.ReadUintN(r.offsetSize)
}

// ReadLength reads a length value using the configured length size.
func (r *Reader) ReadLength() (uint64, error) {
	return r.ReadUintN(r.lengthSize)
}

// ReadSignature reads four bytes and checks them against sig.
func (r *Reader) ReadSignature(sig string) error {
	at := r.pos
	buf, err := r.ReadBytes(4)
	if err != nil {
		return err
	}
	if string(buf) != sig {
		return fmt.Errorf("expected %s signature at 0x%x, got %q: %w", sig, at, buf, h5err.ErrCorruptMetadata)
	}
	return nil
}

// DecodeUint decodes a little-endian unsigned integer of size bytes.
func DecodeUint(buf []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	}
	var val uint64
	for i := size - 1; i >= 0; i-- {
		val = (val << 8) | uint64(buf[i])
	}
	return val
}

// IsUndefinedOffset reports whether offset is the all-ones "undefined
// address" sentinel for the configured offset width.
func (r *Reader) IsUndefinedOffset(offset uint64) bool {
	return isAllOnes(offset, r.offsetSize)
}

// IsUndefinedLength reports whether length is the all-ones sentinel.
func (r *Reader) IsUndefinedLength(length uint64) bool {
	return isAllOnes(length, r.lengthSize)
}

func isAllOnes(v uint64, size int) bool {
	if size >= 8 {
		return v == ^uint64(0)
	}
	return v == uint64(1)<<(size*8)-1
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int64) {
	r.pos += n
}

// Align advances the position to the next multiple of alignment
// relative to origin.
func (r *Reader) Align(origin, alignment int64) {
	if alignment <= 1 {
		return
	}
	if rem := (r.pos - origin) % alignment; rem != 0 {
		r.pos += alignment - rem
	}
}

// OffsetSize returns the configured offset size in bytes.
func (r *Reader) OffsetSize() int {
	return r.offsetSize
}

// LengthSize returns the configured length size in bytes.
func (r *Reader) LengthSize() int {
	return r.lengthSize
}

// ByteOrder returns the configured byte order.
func (r *Reader) ByteOrder() binary.ByteOrder {
	return r.order
}

// VerifyChecksum checks the lookup3 checksum stored at start+n against the
// n bytes beginning at start.
func (r *Reader) VerifyChecksum(start int64, n int) error {
	buf, err := r.At(start).Peek(n + 4)
	if err != nil {
		return err
	}
	return VerifyBlock(buf, start)
}

// VerifyBlock checks a block whose last four bytes hold the lookup3
// checksum of the preceding bytes.
func VerifyBlock(block []byte, addr int64) error {
	if len(block) < 4 {
		return fmt.Errorf("block at 0x%x too short for checksum: %w", addr, h5err.ErrCorruptMetadata)
	}
	n := len(block) - 4
	stored := binary.LittleEndian.Uint32(block[n:])
	if got := Lookup3Checksum(block[:n]); got != stored {
		return fmt.Errorf("metadata at 0x%x: stored 0x%08x, computed 0x%08x: %w",
			addr, stored, got, h5err.ErrChecksumFailure)
	}
	return nil
}

// window serves reads from an in-memory copy of [base, base+len(data)).
type window struct {
	base int64
	data []byte
}

func (w *window) ReadAt(p []byte, off int64) (int, error) {
	rel := off - w.base
	if rel < 0 || rel >= int64(len(w.data)) {
		return 0, io.EOF
	}
	n := copy(p, w.data[rel:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
