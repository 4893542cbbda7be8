// Package superblock locates and decodes the HDF5 superblock.
//
// The superblock is searched for at offsets 0, 512, 1024 and 2048 within
// the first [HeadSize] bytes of the file, which [Read] fetches with one
// request. Versions 0 and 1 describe the root group through a symbol table
// entry whose scratch pad may cache the root B-tree and local heap
// addresses. Versions 2 and 3 name the root object header directly and
// carry a lookup3 checksum, verified when present.
//
// Errors wrap the kinds in internal/h5err: a missing signature is
// ErrCorruptMetadata, an unknown version ErrUnsupportedVersion and a bad
// checksum ErrChecksumFailure.
package superblock
