package filter

// bitReader reads big-endian bit fields packed back to back, the layout
// nbit and scaleoffset use for their compressed streams.
type bitReader struct {
	buf []byte
	pos uint64 // in bits
}

// read returns the next n bits (n <= 64) and whether they were available.
func (b *bitReader) read(n uint) (uint64, bool) {
	if b.pos+uint64(n) > uint64(len(b.buf))*8 {
		return 0, false
	}
	var v uint64
	for n > 0 {
		byteIdx := b.pos / 8
		avail := 8 - uint(b.pos%8)
		take := min(avail, n)
		cur := uint64(b.buf[byteIdx]) >> (avail - take) & (1<<take - 1)
		v = v<<take | cur
		b.pos += uint64(take)
		n -= take
	}
	return v, true
}

// putUint stores the low size bytes of v in the given byte order.
func putUint(dst []byte, v uint64, size int, bigEndian bool) {
	for i := 0; i < size; i++ {
		b := byte(v >> (8 * i))
		if bigEndian {
			dst[size-1-i] = b
		} else {
			dst[i] = b
		}
	}
}

func getUint(src []byte, size int, bigEndian bool) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		var b byte
		if bigEndian {
			b = src[size-1-i]
		} else {
			b = src[i]
		}
		v |= uint64(b) << (8 * i)
	}
	return v
}
