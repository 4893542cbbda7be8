// Package h5err defines the error kinds shared by every layer of the reader.
//
// Lower layers wrap these sentinels with context using fmt.Errorf and %w, so
// callers test for a kind with errors.Is regardless of how deep the failure
// originated. The hdf5 package re-exports each sentinel.
package h5err

import "errors"

// Byte source errors.
var (
	ErrResourceNotFound  = errors.New("resource not found")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrAuthExpired       = errors.New("credentials expired")
	ErrUnsupportedDriver = errors.New("unsupported driver")
	ErrShortRead         = errors.New("short read")
	ErrIoTimeout         = errors.New("i/o timeout")
	ErrIoTransient       = errors.New("transient i/o error")
)

// Decoder errors.
var (
	ErrCorruptMetadata       = errors.New("corrupt metadata")
	ErrUnsupportedVersion    = errors.New("unsupported version")
	ErrUnsupportedChunkIndex = errors.New("unsupported chunk index")
	ErrUnsupportedLayout     = errors.New("unsupported layout")
	ErrUnsupportedFilter     = errors.New("unsupported filter")
	ErrChecksumFailure       = errors.New("checksum failure")
)

// Dataset reader errors.
var (
	ErrPathNotFound = errors.New("path not found")
	ErrInvalidSlice = errors.New("invalid slice")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrResourceNotFound, "ResourceNotFound"},
	{ErrAuthFailed, "AuthFailed"},
	{ErrAuthExpired, "AuthExpired"},
	{ErrUnsupportedDriver, "UnsupportedDriver"},
	{ErrShortRead, "ShortRead"},
	{ErrIoTimeout, "IoTimeout"},
	{ErrIoTransient, "IoTransient"},
	{ErrCorruptMetadata, "CorruptMetadata"},
	{ErrUnsupportedVersion, "UnsupportedVersion"},
	{ErrUnsupportedChunkIndex, "UnsupportedChunkIndex"},
	{ErrUnsupportedLayout, "UnsupportedLayout"},
	{ErrUnsupportedFilter, "UnsupportedFilter"},
	{ErrChecksumFailure, "ChecksumFailure"},
	{ErrPathNotFound, "PathNotFound"},
	{ErrInvalidSlice, "InvalidSlice"},
}

// Kind returns the name of the first error kind err wraps, or "Unknown".
// A nil error has kind "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// Retryable reports whether err is worth another attempt at the byte source.
// Timeouts are not retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrIoTransient)
}
