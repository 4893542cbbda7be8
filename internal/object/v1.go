package object

import (
	"encoding/binary"
	"fmt"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/message"
)

/*
Version 1 object header:

	0    1  version (1)
	1    1  reserved
	2    2  number of header messages
	4    4  object reference count
	8    4  object header size
	12   4  padding to 8 bytes
	16      messages

Each message, 8-byte aligned:

	0    2  type
	2    2  size of message data
	4    1  flags
	5    3  reserved
	8       data

Continuation blocks hold further messages with no prefix.
*/

const v1PrefixSize = 16

func readV1(r *binpkg.Reader, address uint64) (*Header, error) {
	prefix, err := r.ReadBytes(v1PrefixSize)
	if err != nil {
		return nil, err
	}
	h := &Header{
		Version:  1,
		Address:  address,
		RefCount: binary.LittleEndian.Uint32(prefix[4:8]),
	}
	size := uint64(binary.LittleEndian.Uint32(prefix[8:12]))
	first := block{addr: address + v1PrefixSize, length: size}
	if err := h.walk(r, first, h.parseV1Block); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) parseV1Block(r *binpkg.Reader, b block) ([]block, error) {
	c, err := r.At(int64(b.addr)).Window(int(b.length))
	if err != nil {
		return nil, err
	}
	cfg := r.Config()
	end := int64(b.addr + b.length)
	var conts []block
	for c.Pos()+8 <= end {
		hdr, err := c.ReadBytes(8)
		if err != nil {
			return nil, err
		}
		typ := message.Type(binary.LittleEndian.Uint16(hdr[0:2]))
		size := int(binary.LittleEndian.Uint16(hdr[2:4]))
		flags := hdr[4]
		data, err := c.ReadBytes(size)
		if err != nil {
			return nil, fmt.Errorf("message 0x%04x of %d bytes: %w", uint16(typ), size, err)
		}
		c.Align(int64(b.addr), 8)

		next, err := h.addMessage(typ, data, flags, cfg)
		if err != nil {
			return nil, err
		}
		conts = append(conts, next...)
	}
	return conts, nil
}

// block is one contiguous run of header messages.
type block struct {
	addr, length uint64
}

// walk parses first and every continuation block it leads to, in order.
func (h *Header) walk(r *binpkg.Reader, first block, parse func(*binpkg.Reader, block) ([]block, error)) error {
	queue := []block{first}
	seen := make(map[uint64]bool)
	for n := 0; len(queue) > 0; n++ {
		if n >= maxBlocks {
			return fmt.Errorf("more than %d header blocks: %w", maxBlocks, h5err.ErrCorruptMetadata)
		}
		b := queue[0]
		queue = queue[1:]
		if seen[b.addr] {
			return fmt.Errorf("continuation cycle at 0x%x: %w", b.addr, h5err.ErrCorruptMetadata)
		}
		seen[b.addr] = true
		more, err := parse(r, b)
		if err != nil {
			return err
		}
		queue = append(queue, more...)
	}
	return nil
}

// addMessage decodes one message, returning any continuation it names.
func (h *Header) addMessage(typ message.Type, data []byte, flags uint8, cfg binpkg.Config) ([]block, error) {
	if typ == message.TypeNIL {
		return nil, nil
	}
	msg, err := message.Parse(typ, data, flags, cfg)
	if err != nil {
		return nil, err
	}
	if cont, ok := msg.(*message.Continuation); ok {
		if cont.Length == 0 || isUndefined(cont.Offset, cfg.OffsetSize) {
			return nil, fmt.Errorf("continuation to 0x%x+%d: %w", cont.Offset, cont.Length, h5err.ErrCorruptMetadata)
		}
		return []block{{addr: cont.Offset, length: cont.Length}}, nil
	}
	h.Messages = append(h.Messages, msg)
	return nil, nil
}

func isUndefined(v uint64, size int) bool {
	if size >= 8 {
		return v == ^uint64(0)
	}
	return v == 1<<(8*size)-1
}
