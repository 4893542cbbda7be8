package message

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// Filter IDs
const (
	FilterDeflate     uint16 = 1
	FilterShuffle     uint16 = 2
	FilterFletcher32  uint16 = 3
	FilterSZIP        uint16 = 4
	FilterNBit        uint16 = 5
	FilterScaleOffset uint16 = 6
)

// FilterInfo describes a single filter in the pipeline.
type FilterInfo struct {
	ID         uint16
	Flags      uint16
	Name       string
	ClientData []uint32
}

// IsOptional reports whether a failure of this filter may be ignored.
func (f *FilterInfo) IsOptional() bool {
	return f.Flags&0x01 != 0
}

// FilterPipeline lists the filters applied, in order, when chunks were
// written.
type FilterPipeline struct {
	Version uint8
	Filters []FilterInfo
}

func (m *FilterPipeline) Type() Type { return TypeFilterPipeline }

// HasFilter returns true if the pipeline contains the given filter ID.
func (m *FilterPipeline) HasFilter(id uint16) bool {
	for _, f := range m.Filters {
		if f.ID == id {
			return true
		}
	}
	return false
}

func parseFilterPipeline(c *binpkg.Reader) (*FilterPipeline, error) {
	hdr, err := c.ReadBytes(2)
	if err != nil {
		return nil, err
	}
	fp := &FilterPipeline{Version: hdr[0], Filters: make([]FilterInfo, hdr[1])}
	switch fp.Version {
	case 1:
		c.Skip(6)
	case 2:
	default:
		return nil, fmt.Errorf("filter pipeline version %d: %w", fp.Version, h5err.ErrUnsupportedVersion)
	}
	for i := range fp.Filters {
		if err := parseFilterInfo(c, fp.Version, &fp.Filters[i]); err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
	}
	return fp, nil
}

func parseFilterInfo(c *binpkg.Reader, version uint8, f *FilterInfo) error {
	var err error
	if f.ID, err = c.ReadUint16(); err != nil {
		return err
	}
	var nameLen uint16
	if version == 1 || f.ID >= 256 {
		if nameLen, err = c.ReadUint16(); err != nil {
			return err
		}
	}
	if f.Flags, err = c.ReadUint16(); err != nil {
		return err
	}
	numCD, err := c.ReadUint16()
	if err != nil {
		return err
	}
	if nameLen > 0 {
		n := int(nameLen)
		if version == 1 {
			n = pad8(n)
		}
		if f.Name, err = readCString(c, n); err != nil {
			return err
		}
	}
	f.ClientData = make([]uint32, numCD)
	for i := range f.ClientData {
		if f.ClientData[i], err = c.ReadUint32(); err != nil {
			return err
		}
	}
	if version == 1 && numCD%2 != 0 {
		c.Skip(4)
	}
	return nil
}
