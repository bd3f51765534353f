package codec

import (
	"testing"

	"github.com/fpmas-go/fpmas/internal/id"
)

func roundTrip(t *testing.T, c Codec, v interface{}, out interface{}) {
	t.Helper()
	size, err := c.PackSize(v)
	if err != nil {
		t.Fatalf("PackSize failed: %v", err)
	}
	buf := make([]byte, size)
	n, err := c.Write(buf, 0, v)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != size {
		t.Fatalf("Write consumed %d bytes, PackSize predicted %d", n, size)
	}
	n2, err := c.Read(buf, 0, out)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n2 != size {
		t.Fatalf("Read consumed %d bytes, want %d", n2, size)
	}
}

func TestBinaryCodec_DistributedIdRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewBinaryCodec()
	in := ToPack(id.DistributedId{Rank: 2, Seq: 42})
	var out DistributedIdPack
	roundTrip(t, c, in, &out)

	if out.FromPack() != (id.DistributedId{Rank: 2, Seq: 42}) {
		t.Errorf("got %+v, want rank=2 seq=42", out)
	}
}

func TestBinaryCodec_NodePackRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewBinaryCodec()
	in := NodePack{
		Id:      ToPack(id.DistributedId{Rank: 0, Seq: 1}),
		Weight:  3.5,
		Payload: []byte("hello"),
	}
	var out NodePack
	roundTrip(t, c, in, &out)

	if out.Weight != in.Weight || string(out.Payload) != string(in.Payload) || out.Id != in.Id {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestBinaryCodec_EdgePackRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewBinaryCodec()
	in := EdgePack{
		Id:             ToPack(id.DistributedId{Rank: 1, Seq: 9}),
		Layer:          2,
		Weight:         1.0,
		SourceId:       ToPack(id.DistributedId{Rank: 0, Seq: 1}),
		TargetId:       ToPack(id.DistributedId{Rank: 1, Seq: 2}),
		SourceOrigin:   0,
		SourceLocation: 0,
		TargetOrigin:   1,
		TargetLocation: 1,
	}
	var out EdgePack
	roundTrip(t, c, in, &out)

	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestBinaryCodec_StringRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewBinaryCodec()
	in := "distributed graph"
	var out string
	roundTrip(t, c, in, &out)

	if out != in {
		t.Errorf("got %q, want %q", out, in)
	}
}

func TestTextCodec_NodePackRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewTextCodec()
	in := NodePack{
		Id:      ToPack(id.DistributedId{Rank: 0, Seq: 5}),
		Weight:  2.0,
		Payload: []byte("payload"),
	}
	var out NodePack
	roundTrip(t, c, in, &out)

	if out.Weight != in.Weight || out.Id != in.Id {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestTypeRegistry_EncodeDecodeVariant(t *testing.T) {
	t.Parallel()

	type payload struct {
		Value int
	}

	reg := NewTypeRegistry()
	const tag TypeTag = 1
	err := reg.Register(tag, "payload",
		func(v interface{}) ([]byte, error) {
			p := v.(payload)
			return []byte{byte(p.Value)}, nil
		},
		func(data []byte) (interface{}, error) {
			return payload{Value: int(data[0])}, nil
		},
	)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	encoded, err := reg.EncodeVariant(tag, payload{Value: 42})
	if err != nil {
		t.Fatalf("EncodeVariant failed: %v", err)
	}

	decoded, err := reg.DecodeVariant(encoded)
	if err != nil {
		t.Fatalf("DecodeVariant failed: %v", err)
	}

	got, ok := decoded.(payload)
	if !ok || got.Value != 42 {
		t.Errorf("decoded = %+v, want payload{Value: 42}", decoded)
	}
}

func TestTypeRegistry_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := NewTypeRegistry()
	encode := func(v interface{}) ([]byte, error) { return nil, nil }
	decode := func(data []byte) (interface{}, error) { return nil, nil }

	if err := reg.Register(1, "a", encode, decode); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := reg.Register(1, "b", encode, decode); err == nil {
		t.Error("expected error registering duplicate tag")
	}
}

func TestTypeRegistry_UnknownTag(t *testing.T) {
	t.Parallel()

	reg := NewTypeRegistry()
	if _, err := reg.EncodeVariant(99, "x"); err == nil {
		t.Error("expected error encoding with unregistered tag")
	}
	if _, err := reg.DecodeVariant([]byte{1, 0, 0, 0}); err == nil {
		t.Error("expected error decoding with unregistered tag")
	}
}

func TestTypeRegistry_DecodeVariant_TooShort(t *testing.T) {
	t.Parallel()

	reg := NewTypeRegistry()
	if _, err := reg.DecodeVariant([]byte{1, 2}); err == nil {
		t.Error("expected error decoding truncated variant")
	}
}
