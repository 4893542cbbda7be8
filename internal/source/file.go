package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/robert-malhotra/h5coro/internal/h5err"
)

type fileDriver struct {
	f        *os.File
	fileSize uint64
}

func openFile(path string) (*fileDriver, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, h5err.ErrResourceNotFound)
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%s: %w", path, h5err.ErrAuthFailed)
		}
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: stat: %w", path, h5err.ErrResourceNotFound)
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s: is a directory: %w", path, h5err.ErrResourceNotFound)
	}
	return &fileDriver{f: f, fileSize: uint64(st.Size())}, nil
}

func (d *fileDriver) readRange(ctx context.Context, off, length uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := d.f.ReadAt(buf, int64(off))
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return buf[:n], fmt.Errorf("read [%d,%d) got %d bytes: %w", off, off+length, n, h5err.ErrShortRead)
	}
	return nil, fmt.Errorf("read [%d,%d): %v: %w", off, off+length, err, h5err.ErrIoTransient)
}

func (d *fileDriver) size(context.Context) (uint64, error) {
	return d.fileSize, nil
}

func (d *fileDriver) close() error {
	return d.f.Close()
}
