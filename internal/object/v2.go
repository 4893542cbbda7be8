package object

import (
	"encoding/binary"
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

/*
Version 2 object header:

	0    4  signature "OHDR"
	4    1  version (2)
	5    1  flags
	            bits 0-1  width of chunk 0 size (1 << value bytes)
	            bit 2     message creation order tracked
	            bit 4     attribute phase change values stored
	            bit 5     timestamps stored
	6   16  access, modification, change, birth times (bit 5)
	..   4  max compact and min dense attributes (bit 4)
	..  1-8 size of chunk 0
	..      messages, then any gap
	..   4  checksum

Each message:

	0    1  type
	1    2  size of message data
	3    1  flags
	4    2  creation order (bit 2)
	..      data

Continuation blocks are "OCHK", messages, checksum.
*/

const (
	flagCreationOrder = 0x04
	flagPhaseChange   = 0x10
	flagTimes         = 0x20
)

func readV2(r *binpkg.Reader, address uint64) (*Header, error) {
	if err := r.ReadSignature("OHDR"); err != nil {
		return nil, err
	}
	pre, err := r.ReadBytes(2)
	if err != nil {
		return nil, err
	}
	if pre[0] != 2 {
		return nil, fmt.Errorf("object header version %d: %w", pre[0], h5err.ErrUnsupportedVersion)
	}
	h := &Header{Version: 2, Address: address, Flags: pre[1]}

	if h.Flags&flagTimes != 0 {
		t, err := r.ReadBytes(16)
		if err != nil {
			return nil, err
		}
		h.AccessTime = binary.LittleEndian.Uint32(t[0:])
		h.ModTime = binary.LittleEndian.Uint32(t[4:])
		h.ChangeTime = binary.LittleEndian.Uint32(t[8:])
		h.BirthTime = binary.LittleEndian.Uint32(t[12:])
	}
	if h.Flags&flagPhaseChange != 0 {
		p, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		h.MaxCompactAttrs = binary.LittleEndian.Uint16(p[0:])
		h.MinDenseAttrs = binary.LittleEndian.Uint16(p[2:])
	}
	chunk0, err := r.ReadUintN(1 << (h.Flags & 0x03))
	if err != nil {
		return nil, err
	}

	prefix := uint64(r.Pos()) - address
	whole, err := r.At(int64(address)).Window(int(prefix + chunk0 + 4))
	if err != nil {
		return nil, err
	}
	if err := whole.VerifyChecksum(int64(address), int(prefix+chunk0)); err != nil {
		return nil, err
	}

	first := block{addr: address + prefix, length: chunk0}
	err = h.walk(r, first, func(r *binpkg.Reader, b block) ([]block, error) {
		if b == first {
			return h.parseV2Messages(whole.At(int64(b.addr)), int64(b.addr+b.length), r.Config())
		}
		return h.parseOCHK(r, b)
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) parseOCHK(r *binpkg.Reader, b block) ([]block, error) {
	if b.length < 8 {
		return nil, fmt.Errorf("continuation block of %d bytes: %w", b.length, h5err.ErrCorruptMetadata)
	}
	c, err := r.At(int64(b.addr)).Window(int(b.length))
	if err != nil {
		return nil, err
	}
	if err := c.ReadSignature("OCHK"); err != nil {
		return nil, err
	}
	if err := c.VerifyChecksum(int64(b.addr), int(b.length-4)); err != nil {
		return nil, err
	}
	return h.parseV2Messages(c, int64(b.addr+b.length-4), r.Config())
}

func (h *Header) parseV2Messages(c *binpkg.Reader, end int64, cfg binpkg.Config) ([]block, error) {
	hdrSize := int64(4)
	if h.Flags&flagCreationOrder != 0 {
		hdrSize = 6
	}
	var conts []block
	// Fewer bytes than a message header left is a gap.
	for c.Pos()+hdrSize <= end {
		hdr, err := c.ReadBytes(int(hdrSize))
		if err != nil {
			return nil, err
		}
		typ := message.Type(hdr[0])
		size := int64(binary.LittleEndian.Uint16(hdr[1:3]))
		flags := hdr[3]
		if c.Pos()+size > end {
			return nil, fmt.Errorf("message 0x%02x of %d bytes overruns header block: %w",
				uint16(typ), size, h5err.ErrCorruptMetadata)
		}
		data, err := c.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		next, err := h.addMessage(typ, data, flags, cfg)
		if err != nil {
			return nil, err
		}
		conts = append(conts, next...)
	}
	return conts, nil
}
