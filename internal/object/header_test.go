package object

import (
	"errors"
	"testing"

	binpkg "github.com/robert-malhotra/h5coro/internal/binary"
	"github.com/robert-malhotra/h5coro/internal/h5err"
	"github.com/robert-malhotra/h5coro/internal/h5test"
	"github.com/robert-malhotra/h5coro/internal/message"
)

func reader(b *h5test.Builder) *binpkg.Reader {
	return binpkg.NewBytesReader(b.Bytes(0), 0, binpkg.DefaultConfig())
}

func TestHeaderGetMessage(t *testing.T) {
	h := &Header{
		Version: 2,
		Messages: []message.Message{
			&message.Dataspace{Rank: 2, Dimensions: []uint64{10, 20}},
			&message.Datatype{Class: message.ClassFixedPoint, Size: 4},
			&message.Attribute{Name: "a1"},
			&message.Attribute{Name: "a2"},
		},
	}

	ds := h.GetMessage(message.TypeDataspace)
	if space, ok := ds.(*message.Dataspace); !ok || space.Rank != 2 {
		t.Errorf("wrong dataspace returned: %#v", ds)
	}
	if h.GetMessage(message.TypeFilterPipeline) != nil {
		t.Error("expected nil for missing filter pipeline message")
	}
	if n := len(h.GetMessages(message.TypeAttribute)); n != 2 {
		t.Errorf("expected 2 attributes, got %d", n)
	}
	if n := len(h.Attributes()); n != 2 {
		t.Errorf("Attributes() = %d", n)
	}
	if h.DataLayout() != nil || h.FilterPipeline() != nil {
		t.Error("expected nil layout and pipeline")
	}
}

func TestFillValuePreference(t *testing.T) {
	old := &message.FillValue{Value: []byte{1}}
	cur := &message.FillValue{Version: 3, Value: []byte{2}}

	h := &Header{Messages: []message.Message{old, cur}}
	if fv := h.FillValue(); fv == nil || fv.Value[0] != 2 {
		t.Errorf("FillValue = %#v", fv)
	}
	h = &Header{Messages: []message.Message{old}}
	if fv := h.FillValue(); fv != old {
		t.Errorf("FillValue = %#v", fv)
	}
}

func TestReadV2(t *testing.T) {
	b := h5test.New(2)
	addr := b.Append(h5test.HeaderV2(0x04|0x20|0x10,
		h5test.Dataspace(4, 5),
		h5test.Datatype(h5test.Int(4, true)),
		h5test.Contiguous(4096, 80),
		h5test.ModTime(42),
	))

	h, err := Read(reader(b), addr)
	if err != nil {
		t.Fatal(err)
	}
	if h.Version != 2 || h.Address != addr {
		t.Errorf("header %d at 0x%x", h.Version, h.Address)
	}
	if h.ModTime != 1700000001 || h.MaxCompactAttrs != 8 || h.MinDenseAttrs != 6 {
		t.Errorf("prefix fields: %+v", h)
	}
	if ds := h.Dataspace(); ds == nil || ds.NumElements() != 20 {
		t.Errorf("dataspace %+v", ds)
	}
	if dt := h.Datatype(); dt == nil || !dt.Signed || dt.Size != 4 {
		t.Errorf("datatype %+v", dt)
	}
	if l := h.DataLayout(); l == nil || l.Address != 4096 || l.Size != 80 {
		t.Errorf("layout %+v", l)
	}
	if h.Kind() != KindDataset {
		t.Errorf("kind = %v", h.Kind())
	}
	if _, ok := h.GetMessage(message.TypeObjectModTime).(*message.Unknown); !ok {
		t.Error("modification time not preserved")
	}
}

func TestReadV2Continuation(t *testing.T) {
	b := h5test.New(2)
	cont := b.ContinuationV2(h5test.HardLink("b", 900), h5test.HardLink("c", 1000))
	addr := b.ObjectHeader(h5test.LinkInfo(h5test.Undef, h5test.Undef), h5test.HardLink("a", 800), cont)

	h, err := Read(reader(b), addr)
	if err != nil {
		t.Fatal(err)
	}
	links := h.Links()
	if len(links) != 3 {
		t.Fatalf("links = %d", len(links))
	}
	for i, name := range []string{"a", "b", "c"} {
		if links[i].Name != name {
			t.Errorf("link %d = %q, want %q", i, links[i].Name, name)
		}
	}
	if h.Kind() != KindGroup {
		t.Errorf("kind = %v", h.Kind())
	}
	if h.GetMessage(message.TypeObjectHeaderContinuation) != nil {
		t.Error("continuation kept as a message")
	}
}

func TestReadV2ChecksumFailure(t *testing.T) {
	b := h5test.New(2)
	raw := h5test.HeaderV2(0, h5test.Dataspace(3))
	raw[len(raw)-10] ^= 0xFF
	addr := b.Append(raw)

	_, err := Read(reader(b), addr)
	if !errors.Is(err, h5err.ErrChecksumFailure) {
		t.Errorf("expected checksum failure, got %v", err)
	}
}

func TestReadOCHKChecksumFailure(t *testing.T) {
	b := h5test.New(2)
	block := h5test.OCHK(h5test.HardLink("b", 900))
	block[6] ^= 0xFF
	contAddr := b.Append(block)
	addr := b.ObjectHeader(h5test.Continuation(contAddr, uint64(len(block))))

	_, err := Read(reader(b), addr)
	if !errors.Is(err, h5err.ErrChecksumFailure) {
		t.Errorf("expected checksum failure, got %v", err)
	}
}

func TestReadV1Continuation(t *testing.T) {
	b := h5test.New(0)
	cont := b.ContinuationV1(h5test.Datatype(h5test.Float64()), h5test.Contiguous(2048, 64))
	addr := b.ObjectHeader(h5test.Dataspace(8), cont)

	h, err := Read(reader(b), addr)
	if err != nil {
		t.Fatal(err)
	}
	if h.Version != 1 || h.RefCount != 1 {
		t.Errorf("header %+v", h)
	}
	if h.Dataspace() == nil || h.Datatype() == nil || h.DataLayout() == nil {
		t.Fatalf("messages %+v", h.Messages)
	}
	if h.Datatype().Size != 8 {
		t.Errorf("datatype size %d", h.Datatype().Size)
	}
}

func TestReadContinuationCycle(t *testing.T) {
	b := h5test.New(0)
	self := b.Next()
	b.Append(h5test.HeaderV1(h5test.Continuation(self, 24))[16:])
	addr := b.Append(h5test.HeaderV1(h5test.Continuation(self, 24)))

	_, err := Read(reader(b), addr)
	if !errors.Is(err, h5err.ErrCorruptMetadata) {
		t.Errorf("expected corrupt metadata, got %v", err)
	}
}

func TestReadSharedDatatype(t *testing.T) {
	b := h5test.New(2)
	committed := b.ObjectHeader(h5test.Datatype(h5test.Float32()))
	addr := b.ObjectHeader(
		h5test.Dataspace(2),
		h5test.SharedDatatype(committed),
		h5test.Contiguous(h5test.Undef, 0),
	)

	h, err := Read(reader(b), addr)
	if err != nil {
		t.Fatal(err)
	}
	dt := h.Datatype()
	if dt == nil || dt.Class != message.ClassFloatPoint {
		t.Fatalf("shared datatype not resolved: %#v", h.GetMessage(message.TypeDatatype))
	}

	c, err := Read(reader(b), committed)
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind() != KindDatatype {
		t.Errorf("committed kind = %v", c.Kind())
	}
}

func TestReadInvalidHeader(t *testing.T) {
	b := h5test.New(2)
	addr := b.Append([]byte{99, 0, 0, 0, 0, 0, 0, 0})
	_, err := Read(reader(b), addr)
	if !errors.Is(err, h5err.ErrCorruptMetadata) {
		t.Errorf("expected corrupt metadata, got %v", err)
	}

	_, err = Read(reader(b), 1<<20)
	if !errors.Is(err, h5err.ErrCorruptMetadata) {
		t.Errorf("past end: %v", err)
	}
	_, err = Read(reader(b), h5test.Undef)
	if !errors.Is(err, h5err.ErrCorruptMetadata) {
		t.Errorf("undefined address: %v", err)
	}
}

func TestReadTruncatedMessage(t *testing.T) {
	b := h5test.New(2)
	raw := h5test.HeaderV2(0, h5test.Msg{Type: h5test.TypeDataspace, Body: []byte{2, 1, 0, 1, 5}})
	addr := b.Append(raw)
	_, err := Read(reader(b), addr)
	if !errors.Is(err, h5err.ErrCorruptMetadata) {
		t.Errorf("expected corrupt metadata, got %v", err)
	}
}
