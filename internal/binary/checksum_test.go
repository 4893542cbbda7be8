package binary

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/robert-malhotra/h5coro/internal/h5err"
)

func TestLookup3Checksum(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  uint32
	}{
		{"empty", nil, 0xdeadbeef},
		{"four score", []byte("Four score and seven years ago"), 0x17770551},
		{"one byte", []byte("a"), 0x58d68708},
		{"one block", []byte("abcdefghijkl"), 0x4012f87b},
		{"block plus one", []byte("abcdefghijklm"), 0x928128f9},
		{"two blocks", []byte("abcdefghijklmnopqrstuvwx"), 0x1b631fea},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Lookup3Checksum(tt.input); got != tt.want {
				t.Errorf("Lookup3Checksum = 0x%08x, want 0x%08x", got, tt.want)
			}
		})
	}
}

func TestLookup3ChecksumLengthVariations(t *testing.T) {
	checksums := make(map[uint32]int)
	for length := 0; length <= 24; length++ {
		data := make([]byte, length)
		for i := range data {
			data[i] = byte(i)
		}
		checksums[Lookup3Checksum(data)] = length
	}
	if len(checksums) != 25 {
		t.Errorf("expected 25 unique checksums for lengths 0-24, got %d", len(checksums))
	}
}

func TestFletcher32(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  uint32
	}{
		{"empty", nil, 0},
		{"one word", []byte{0x01, 0x02}, 0x01020102},
		{"two words", []byte{0x01, 0x02, 0x03, 0x04}, 0x05080406},
		{"odd byte", []byte{0x01}, 0x01000100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fletcher32(tt.input); got != tt.want {
				t.Errorf("Fletcher32 = 0x%08x, want 0x%08x", got, tt.want)
			}
		})
	}
}

func TestFletcher32LongInput(t *testing.T) {
	// Longer than one 360-word folding block.
	data := make([]byte, 4096)
	for i := range data {
		data[i] = 0xff
	}
	a := Fletcher32(data)
	data[4095] = 0xfe
	if b := Fletcher32(data); a == b {
		t.Errorf("checksum did not change: 0x%08x", a)
	}
}

func TestVerifyBlock(t *testing.T) {
	block := []byte("OHDR block payload\x00\x00\x00\x00")
	n := len(block) - 4
	binary.LittleEndian.PutUint32(block[n:], Lookup3Checksum(block[:n]))

	if err := VerifyBlock(block, 0x30); err != nil {
		t.Fatalf("VerifyBlock: %v", err)
	}

	block[0] ^= 0xff
	err := VerifyBlock(block, 0x30)
	if !errors.Is(err, h5err.ErrChecksumFailure) {
		t.Errorf("expected ErrChecksumFailure, got %v", err)
	}

	if err := VerifyBlock([]byte{1, 2}, 0); !errors.Is(err, h5err.ErrCorruptMetadata) {
		t.Errorf("expected ErrCorruptMetadata, got %v", err)
	}
}

func BenchmarkLookup3Checksum(b *testing.B) {
	data := make([]byte, 4096)
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		Lookup3Checksum(data)
	}
}

func BenchmarkFletcher32(b *testing.B) {
	data := make([]byte, 64*1024)
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		Fletcher32(data)
	}
}
