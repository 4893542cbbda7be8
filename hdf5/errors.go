// Package hdf5 reads datasets and attributes from HDF5 files held on local
// disk or in object storage, through a prefetching range cache.
package hdf5

import (
	"errors"

	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// Error kinds. Test for them with errors.Is.
var (
	ErrResourceNotFound      = h5err.ErrResourceNotFound
	ErrAuthFailed            = h5err.ErrAuthFailed
	ErrAuthExpired           = h5err.ErrAuthExpired
	ErrUnsupportedDriver     = h5err.ErrUnsupportedDriver
	ErrShortRead             = h5err.ErrShortRead
	ErrIoTimeout             = h5err.ErrIoTimeout
	ErrIoTransient           = h5err.ErrIoTransient
	ErrCorruptMetadata       = h5err.ErrCorruptMetadata
	ErrUnsupportedVersion    = h5err.ErrUnsupportedVersion
	ErrUnsupportedChunkIndex = h5err.ErrUnsupportedChunkIndex
	ErrUnsupportedLayout     = h5err.ErrUnsupportedLayout
	ErrUnsupportedFilter     = h5err.ErrUnsupportedFilter
	ErrChecksumFailure       = h5err.ErrChecksumFailure
	ErrPathNotFound          = h5err.ErrPathNotFound
	ErrInvalidSlice          = h5err.ErrInvalidSlice
)

// ErrClosed is returned by every operation on a closed File.
var ErrClosed = errors.New("file is closed")

// MaxLinkDepth is the number of soft links one path resolution follows
// before it fails with ErrPathNotFound.
const MaxLinkDepth = 32

// ErrorKind names the kind of err for logs: "PathNotFound", "IoTimeout" and
// so on. It returns "Unknown" for errors of no kind and "" for nil.
func ErrorKind(err error) string {
	return h5err.Kind(err)
}
