package message

import (
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// FillValue is the value unwritten elements read as. Value is nil when no
// fill value is defined, in which case readers use zeros.
type FillValue struct {
	Version        uint8
	SpaceAllocTime uint8
	FillWriteTime  uint8
	IsDefined      bool
	Value          []byte
}

func (m *FillValue) Type() Type { return TypeFillValue }

// parseFillValueOld decodes the deprecated fill value message (type 4),
// which is a bare size and value.
func parseFillValueOld(c *binpkg.Reader) (*FillValue, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	fv := &FillValue{IsDefined: n > 0}
	if n > 0 {
		if fv.Value, err = c.ReadBytes(int(n)); err != nil {
			return nil, err
		}
	}
	return fv, nil
}

func parseFillValue(c *binpkg.Reader) (*FillValue, error) {
	version, err := c.ReadUint8()
	if err != nil {
		return nil, err
	}
	fv := &FillValue{Version: version}

	switch version {
	case 1, 2:
		b, err := c.ReadBytes(3)
		if err != nil {
			return nil, err
		}
		fv.SpaceAllocTime, fv.FillWriteTime = b[0], b[1]
		fv.IsDefined = b[2] != 0
		if version == 2 && !fv.IsDefined {
			return fv, nil
		}
	case 3:
		flags, err := c.ReadUint8()
		if err != nil {
			return nil, err
		}
		fv.SpaceAllocTime = flags & 0x03
		fv.FillWriteTime = (flags >> 2) & 0x03
		if flags&0x10 != 0 || flags&0x20 == 0 {
			return fv, nil
		}
		fv.IsDefined = true
	default:
		return nil, fmt.Errorf("fill value version %d: %w", version, h5err.ErrUnsupportedVersion)
	}

	n, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		if fv.Value, err = c.ReadBytes(int(n)); err != nil {
			return nil, err
		}
	}
	return fv, nil
}
