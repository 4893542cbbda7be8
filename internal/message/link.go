package message

import (
	"bytes"
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
)

// LinkType represents the type of link.
type LinkType uint8

const (
	LinkTypeHard     LinkType = 0
	LinkTypeSoft     LinkType = 1
	LinkTypeExternal LinkType = 64
)

// Link is one named child of a new-style group.
type Link struct {
	Version       uint8
	LinkType      LinkType
	CreationOrder uint64
	Name          string
	Charset       uint8

	ObjectAddress uint64 // hard
	SoftLinkValue string // soft

	ExternalFile string
	ExternalPath string
}

func (m *Link) Type() Type { return TypeLink }

// IsHard returns true if this is a hard link.
func (m *Link) IsHard() bool { return m.LinkType == LinkTypeHard }

// IsSoft returns true if this is a soft link.
func (m *Link) IsSoft() bool { return m.LinkType == LinkTypeSoft }

// IsExternal returns true if this is an external link.
func (m *Link) IsExternal() bool { return m.LinkType == LinkTypeExternal }

// ParseLink decodes a link record, as stored in a header message or a
// dense link heap object.
func ParseLink(data []byte, cfg binpkg.Config) (*Link, error) {
	return parseLink(binpkg.NewBytesReader(data, 0, cfg))
}

func parseLink(c *binpkg.Reader) (*Link, error) {
	hdr, err := c.ReadBytes(2)
	if err != nil {
		return nil, err
	}
	l := &Link{Version: hdr[0]}
	if l.Version != 1 {
		return nil, fmt.Errorf("link version %d: %w", l.Version, h5err.ErrUnsupportedVersion)
	}
	flags := hdr[1]

	if flags&0x08 != 0 {
		t, err := c.ReadUint8()
		if err != nil {
			return nil, err
		}
		l.LinkType = LinkType(t)
	}
	if flags&0x04 != 0 {
		if l.CreationOrder, err = c.ReadUint64(); err != nil {
			return nil, err
		}
	}
	if flags&0x10 != 0 {
		if l.Charset, err = c.ReadUint8(); err != nil {
			return nil, err
		}
	}
	nameLen, err := c.ReadUintN(1 << (flags & 0x03))
	if err != nil {
		return nil, err
	}
	name, err := c.ReadBytes(int(nameLen))
	if err != nil {
		return nil, err
	}
	l.Name = string(name)

	switch l.LinkType {
	case LinkTypeHard:
		l.ObjectAddress, err = c.ReadOffset()
		return l, err

	case LinkTypeSoft:
		n, err := c.ReadUint16()
		if err != nil {
			return nil, err
		}
		v, err := c.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		l.SoftLinkValue = string(v)

	case LinkTypeExternal:
		n, err := c.ReadUint16()
		if err != nil {
			return nil, err
		}
		v, err := c.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		// Version/flags byte, then file and path, each NUL-terminated.
		if len(v) < 1 {
			return nil, corrupt("external link %q", l.Name)
		}
		parts := bytes.SplitN(v[1:], []byte{0}, 3)
		l.ExternalFile = string(parts[0])
		if len(parts) > 1 {
			l.ExternalPath = string(parts[1])
		}

	default:
		// User-defined link types carry an opaque value and are not
		// resolvable.
	}
	return l, nil
}
