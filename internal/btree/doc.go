// Package btree reads the B-trees that index HDF5 groups and chunked
// datasets.
//
// Version 1 trees ("TREE") index old-style group members, whose leaves
// point at symbol table nodes ("SNOD"), and chunks, whose keys carry each
// chunk's element offset, stored size and filter mask. See [ReadGroup] and
// [ReadChunks].
//
// Version 2 trees ("BTHD", "BTIN", "BTLF") are read generically by
// [ReadV2] and [V2.Records]; the record decoders cover link names (type 5),
// attribute names (type 8) and chunks (types 10 and 11).
package btree
