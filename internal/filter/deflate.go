package filter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

// Deflate inflates zlib streams.
type Deflate struct {
	sizeHint int
}

// NewDeflate returns a deflate decoder expecting chunks of about sizeHint
// bytes.
func NewDeflate(sizeHint int) *Deflate {
	return &Deflate{sizeHint: sizeHint}
}

func (f *Deflate) ID() uint16 { return message.FilterDeflate }

func (f *Deflate) Decode(input []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("zlib header: %v: %w", err, h5err.ErrCorruptMetadata)
	}
	defer r.Close()

	out := bytes.NewBuffer(make([]byte, 0, max(f.sizeHint, 2*len(input))))
	if _, err := io.Copy(out, r); err != nil {
		return nil, fmt.Errorf("inflate: %v: %w", err, h5err.ErrCorruptMetadata)
	}
	return out.Bytes(), nil
}
