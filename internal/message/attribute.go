package message

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// Attribute is a decoded attribute message: a name, a type, a shape and
// the raw value bytes in stored byte order.
type Attribute struct {
	Version   uint8
	Name      string
	Datatype  *Datatype
	Dataspace *Dataspace
	Data      []byte

	// Set when the datatype is a committed type stored elsewhere.
	SharedDatatype *Shared
}

func (m *Attribute) Type() Type { return TypeAttribute }

// ParseAttribute decodes an attribute record, as stored in a header
// message or a dense attribute heap object.
func ParseAttribute(data []byte, cfg binpkg.Config) (*Attribute, error) {
	return parseAttribute(binpkg.NewBytesReader(data, 0, cfg), len(data))
}

func parseAttribute(c *binpkg.Reader, total int) (*Attribute, error) {
	hdr, err := c.ReadBytes(8)
	if err != nil {
		return nil, err
	}
	a := &Attribute{Version: hdr[0]}
	flags := hdr[1]
	nameSize := int(hdr[2]) | int(hdr[3])<<8
	dtSize := int(hdr[4]) | int(hdr[5])<<8
	dsSize := int(hdr[6]) | int(hdr[7])<<8

	padded := func(n int) int { return n }
	switch a.Version {
	case 1:
		padded = pad8
	case 2:
	case 3:
		c.Skip(1) // name character set
	default:
		return nil, fmt.Errorf("attribute version %d: %w", a.Version, h5err.ErrUnsupportedVersion)
	}

	if a.Name, err = readCString(c, padded(nameSize)); err != nil {
		return nil, err
	}

	dtBytes, err := c.ReadBytes(padded(dtSize))
	if err != nil {
		return nil, err
	}
	dsBytes, err := c.ReadBytes(padded(dsSize))
	if err != nil {
		return nil, err
	}

	cfg := c.Config()
	if flags&0x01 != 0 {
		if a.SharedDatatype, err = parseShared(TypeDatatype, dtBytes[:dtSize], cfg); err != nil {
			return nil, fmt.Errorf("attribute %q datatype: %w", a.Name, err)
		}
	} else if a.Datatype, err = parseDatatype(binpkg.NewBytesReader(dtBytes[:dtSize], 0, cfg)); err != nil {
		return nil, fmt.Errorf("attribute %q datatype: %w", a.Name, err)
	}
	if flags&0x02 != 0 {
		return nil, fmt.Errorf("attribute %q has a shared dataspace: %w", a.Name, h5err.ErrCorruptMetadata)
	}
	if a.Dataspace, err = parseDataspace(binpkg.NewBytesReader(dsBytes[:dsSize], 0, cfg)); err != nil {
		return nil, fmt.Errorf("attribute %q dataspace: %w", a.Name, err)
	}

	rest := total - int(c.Pos())
	if rest > 0 {
		if a.Data, err = c.ReadBytes(rest); err != nil {
			return nil, err
		}
	}
	return a, nil
}
