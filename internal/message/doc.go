// Package message decodes HDF5 object header messages.
//
// Object headers hold a sequence of typed messages describing groups,
// datasets and committed datatypes. [Parse] decodes one message body into
// its concrete type:
//
//   - Dataspace (0x0001): rank and extents. See [Dataspace].
//   - Link Info (0x0002), Group Info (0x000A), Link (0x0006): new-style
//     group membership.
//   - Datatype (0x0003): element type. See [Datatype].
//   - Fill Value (0x0004, 0x0005): value for unwritten elements.
//   - Data Layout (0x0008): compact, contiguous, chunked or virtual
//     storage, including the chunk index of version 4 layouts.
//   - Filter Pipeline (0x000B): per-chunk filters.
//   - Attribute (0x000C), Attribute Info (0x0015): small named values.
//   - Continuation (0x0010): further header blocks.
//   - Symbol Table (0x0011): old-style group B-tree and local heap.
//
// Other types are kept as [Unknown]. Messages flagged as shared decode to
// [Shared] and are resolved by the object header reader.
//
//	msg, err := message.Parse(message.TypeDataLayout, body, flags, cfg)
//
// Truncated or inconsistent bodies fail with h5err.ErrCorruptMetadata and
// versions this package does not know fail with
// h5err.ErrUnsupportedVersion.
package message
