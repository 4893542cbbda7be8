package message

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// DataspaceType represents the type of dataspace.
type DataspaceType uint8

const (
	DataspaceScalar DataspaceType = 0 // Single element
	DataspaceSimple DataspaceType = 1 // Regular N-dimensional array
	DataspaceNull   DataspaceType = 2 // No data
)

// Dataspace is the shape of a dataset or attribute. Dimensions are stored
// slowest-varying first (row major).
type Dataspace struct {
	Version    uint8
	Rank       int
	SpaceType  DataspaceType
	Dimensions []uint64
	MaxDims    []uint64 // nil when not stored
}

func (m *Dataspace) Type() Type { return TypeDataspace }

// NumElements returns the total number of elements in the dataspace.
func (m *Dataspace) NumElements() uint64 {
	switch m.SpaceType {
	case DataspaceScalar:
		return 1
	case DataspaceSimple:
		if len(m.Dimensions) == 0 {
			return 0
		}
		n := uint64(1)
		for _, d := range m.Dimensions {
			n *= d
		}
		return n
	}
	return 0
}

// IsScalar returns true if this is a scalar dataspace.
func (m *Dataspace) IsScalar() bool {
	return m.SpaceType == DataspaceScalar
}

// IsNull returns true if this is a null dataspace.
func (m *Dataspace) IsNull() bool {
	return m.SpaceType == DataspaceNull
}

func parseDataspace(c *binpkg.Reader) (*Dataspace, error) {
	hdr, err := c.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	ds := &Dataspace{Version: hdr[0], Rank: int(hdr[1])}
	flags := hdr[2]

	switch ds.Version {
	case 1:
		// Reserved byte already consumed with the header; four more follow.
		c.Skip(4)
		ds.SpaceType = DataspaceSimple
		if ds.Rank == 0 {
			ds.SpaceType = DataspaceScalar
		}
	case 2:
		ds.SpaceType = DataspaceType(hdr[3])
		if ds.SpaceType > DataspaceNull {
			return nil, corrupt("dataspace type %d", hdr[3])
		}
	default:
		return nil, fmt.Errorf("dataspace version %d: %w", ds.Version, h5err.ErrUnsupportedVersion)
	}

	if ds.SpaceType != DataspaceSimple || ds.Rank == 0 {
		return ds, nil
	}

	ds.Dimensions = make([]uint64, ds.Rank)
	for i := range ds.Dimensions {
		if ds.Dimensions[i], err = c.ReadLength(); err != nil {
			return nil, err
		}
	}
	if flags&0x01 != 0 {
		ds.MaxDims = make([]uint64, ds.Rank)
		for i := range ds.MaxDims {
			if ds.MaxDims[i], err = c.ReadLength(); err != nil {
				return nil, err
			}
		}
	}
	return ds, nil
}
