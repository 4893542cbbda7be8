package btree

import (
	"errors"
	"fmt"
	"testing"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/h5test"
	"github.com/robert-malhotra/h5coro/internal/heap"
)

func TestReadGroup(t *testing.T) {
	for _, perNode := range []int{0, 2} {
		t.Run(fmt.Sprintf("perNode=%d", perNode), func(t *testing.T) {
			b := h5test.New(0)
			btree, heapAddr := b.OldGroup(perNode,
				h5test.Entry{Name: "zeta", Header: 0x1000},
				h5test.Entry{Name: "alpha", Header: 0x2000},
				h5test.Entry{Name: "link", SoftTarget: "/alpha"},
				h5test.Entry{Name: "mid", Header: 0x3000},
			)
			r := b.Reader()
			names, err := heap.ReadLocal(r, heapAddr)
			if err != nil {
				t.Fatal(err)
			}
			entries, err := ReadGroup(r, btree, names)
			if err != nil {
				t.Fatal(err)
			}

			want := []GroupEntry{
				{Name: "alpha", ObjectAddress: 0x2000},
				{Name: "link", ObjectAddress: h5test.Undef, SoftLinkValue: "/alpha"},
				{Name: "mid", ObjectAddress: 0x3000},
				{Name: "zeta", ObjectAddress: 0x1000},
			}
			if len(entries) != len(want) {
				t.Fatalf("got %d entries, want %d", len(entries), len(want))
			}
			for i := range want {
				if entries[i] != want[i] {
					t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
				}
			}
			if !entries[1].IsSoft() || entries[0].IsSoft() {
				t.Error("IsSoft mismatch")
			}
		})
	}
}

func TestReadGroupWrongNodeType(t *testing.T) {
	b := h5test.New(0)
	tree := b.ChunkBTreeV1(1, 0, h5test.Chunk{Offset: []uint64{0}, Addr: 0x100, Size: 8})
	heapAddr, _ := b.LocalHeap("x")
	r := b.Reader()
	names, err := heap.ReadLocal(r, heapAddr)
	if err != nil {
		t.Fatal(err)
	}
	_, err = ReadGroup(r, tree, names)
	if !errors.Is(err, h5err.ErrCorruptMetadata) {
		t.Errorf("err = %v, want corrupt metadata", err)
	}
}

func chunks2D() []h5test.Chunk {
	var cs []h5test.Chunk
	for row := uint64(0); row < 4; row++ {
		for col := uint64(0); col < 2; col++ {
			cs = append(cs, h5test.Chunk{
				Offset: []uint64{row * 10, col * 5},
				Addr:   0x10000 + row*0x100 + col*0x10,
				Size:   uint32(200 + row),
				Mask:   uint32(col),
			})
		}
	}
	return cs
}

func TestReadChunks(t *testing.T) {
	for _, fanout := range []int{0, 3} {
		t.Run(fmt.Sprintf("fanout=%d", fanout), func(t *testing.T) {
			b := h5test.New(0)
			cs := chunks2D()
			tree := b.ChunkBTreeV1(2, fanout, cs...)
			got, err := ReadChunks(b.Reader(), tree, 2, ^uint64(0))
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(cs) {
				t.Fatalf("got %d chunks, want %d", len(got), len(cs))
			}
			for i, c := range cs {
				g := got[i]
				if g.Address != c.Addr || g.Size != uint64(c.Size) || g.FilterMask != c.Mask ||
					g.Offset[0] != c.Offset[0] || g.Offset[1] != c.Offset[1] {
					t.Errorf("chunk %d = %+v, want %+v", i, g, c)
				}
			}
		})
	}
}

func TestReadChunksPrunesByRow(t *testing.T) {
	b := h5test.New(0)
	tree := b.ChunkBTreeV1(2, 2, chunks2D()...)
	got, err := ReadChunks(b.Reader(), tree, 2, 15)
	if err != nil {
		t.Fatal(err)
	}
	// Rows 0 and 10 start before row 15.
	if len(got) != 4 {
		t.Fatalf("got %d chunks, want 4", len(got))
	}
	for _, c := range got {
		if c.Offset[0] >= 15 {
			t.Errorf("chunk at row %d should have been pruned", c.Offset[0])
		}
	}
}

func TestFindChunk(t *testing.T) {
	entries := []ChunkEntry{
		{Offset: []uint64{0, 0}, Address: 1000},
		{Offset: []uint64{0, 10}, Address: 2000},
		{Offset: []uint64{10, 0}, Address: 3000},
		{Offset: []uint64{10, 10}, Address: 4000},
	}
	dims := []uint64{10, 10}
	tests := []struct {
		offset []uint64
		want   uint64
	}{
		{[]uint64{0, 0}, 1000},
		{[]uint64{9, 9}, 1000},
		{[]uint64{3, 15}, 2000},
		{[]uint64{10, 0}, 3000},
		{[]uint64{19, 19}, 4000},
		{[]uint64{20, 20}, 0},
	}
	for _, tt := range tests {
		got := FindChunk(entries, tt.offset, dims)
		switch {
		case tt.want == 0 && got != nil:
			t.Errorf("FindChunk(%v) = %d, want nil", tt.offset, got.Address)
		case tt.want != 0 && (got == nil || got.Address != tt.want):
			t.Errorf("FindChunk(%v) = %v, want %d", tt.offset, got, tt.want)
		}
	}
}

func chunkRecord(addr uint64, scaled ...uint64) []byte {
	e := h5test.NewEnc().Offset(addr)
	for _, s := range scaled {
		e.U64(s)
	}
	return e.Bytes()
}

func TestV2ChunkRecords(t *testing.T) {
	for _, perLeaf := range []int{0, 4} {
		t.Run(fmt.Sprintf("perLeaf=%d", perLeaf), func(t *testing.T) {
			b := h5test.New(2)
			var recs [][]byte
			for i := uint64(0); i < 15; i++ {
				recs = append(recs, chunkRecord(0x8000+i*64, i, 0))
			}
			addr := b.BTreeV2(TypeChunk, 8+16, perLeaf, recs...)

			tree, err := ReadV2(b.Reader(), addr)
			if err != nil {
				t.Fatal(err)
			}
			if tree.Type != TypeChunk || tree.TotalRecords != 15 {
				t.Fatalf("header = %+v", tree)
			}
			var got []ChunkEntry
			err = tree.Records(func(rec []byte) error {
				e, err := ParseChunk(rec, false, 8, []uint64{4, 3}, 48)
				if err != nil {
					return err
				}
				got = append(got, e)
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 15 {
				t.Fatalf("got %d records, want 15", len(got))
			}
			for i, e := range got {
				if e.Address != 0x8000+uint64(i)*64 || e.Offset[0] != uint64(i)*4 || e.Offset[1] != 0 || e.Size != 48 {
					t.Errorf("record %d = %+v", i, e)
				}
			}
		})
	}
}

func TestV2FilteredChunkRecord(t *testing.T) {
	rec := h5test.NewEnc().Offset(0x4000).UintN(1234, 3).U32(0x2).U64(7).Bytes()
	e, err := ParseChunk(rec, true, 8, []uint64{100}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if e.Address != 0x4000 || e.Size != 1234 || e.FilterMask != 2 || e.Offset[0] != 700 {
		t.Errorf("got %+v", e)
	}

	if _, err := ParseChunk(rec[:12], true, 8, []uint64{100}, 0); !errors.Is(err, h5err.ErrCorruptMetadata) {
		t.Errorf("short record: err = %v", err)
	}
}

func TestV2NameRecords(t *testing.T) {
	id := []byte{0, 1, 2, 3, 4, 5, 6}
	link, err := ParseLinkName(h5test.NewEnc().U32(0xdeadbeef).Raw(id).Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if link.Hash != 0xdeadbeef || string(link.HeapID) != string(id) {
		t.Errorf("link record = %+v", link)
	}

	attr, err := ParseAttributeName(h5test.NewEnc().Raw(id).U8(0, 1).U32(3).U32(0xcafe).Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if attr.Flags != 1 || attr.CreationOrder != 3 || attr.Hash != 0xcafe {
		t.Errorf("attribute record = %+v", attr)
	}
}

func TestV2ChecksumFailure(t *testing.T) {
	b := h5test.New(2)
	addr := b.BTreeV2(TypeChunk, 16, 0, chunkRecord(0x100, 0))
	raw := b.Bytes(h5test.Undef)
	raw[addr+8] ^= 0xFF
	_, err := ReadV2(readerOver(raw), addr)
	if !errors.Is(err, h5err.ErrChecksumFailure) {
		t.Errorf("err = %v, want checksum failure", err)
	}
}

func TestV2NodeSizes(t *testing.T) {
	tree := &V2{NodeSize: 512, RecordSize: 24, Depth: 2, r: readerOver(nil)}
	tree.sizeNodes()
	// Leaves: (512-10)/24 = 20 records, one byte counts.
	if tree.maxNrec[0] != 20 || tree.nrecSize[0] != 1 {
		t.Errorf("leaf: max %d size %d", tree.maxNrec[0], tree.nrecSize[0])
	}
	// Depth 1: pointers of 8+1 bytes; (512-10-9)/(24+9) = 14.
	if tree.maxNrec[1] != 14 {
		t.Errorf("depth 1 max = %d, want 14", tree.maxNrec[1])
	}
	// Total under a depth 1 node: 15*20+14 = 314, two bytes.
	if tree.cumNrecSize[1] != 2 {
		t.Errorf("depth 1 total width = %d, want 2", tree.cumNrecSize[1])
	}
}

func readerOver(b []byte) *binpkg.Reader {
	return binpkg.NewBytesReader(b, 0, binpkg.DefaultConfig())
}
