// Package object reads HDF5 object headers.
//
// Every group, dataset and committed datatype has an object header holding
// its metadata as a list of header messages. [Read] detects the header
// version, parses every message with package message, follows
// continuation blocks and resolves messages shared from another header
// (committed datatypes).
//
// Version 1 headers (superblock v0/v1 files) have an unsigned 16-byte
// prefix and 8-byte aligned messages. Version 2 headers start with "OHDR",
// carry optional timestamps and are covered by a lookup3 checksum, as are
// their "OCHK" continuation blocks; a mismatch fails with
// h5err.ErrChecksumFailure.
//
//	h, err := object.Read(r, addr)
//	space, dtype, layout := h.Dataspace(), h.Datatype(), h.DataLayout()
package object
