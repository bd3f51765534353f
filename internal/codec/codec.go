// Package codec provides the wire encoding used for migration and hard-sync
// RPC payloads: two symmetric codecs (a fixed-width binary codec and a
// textual JSON codec) sharing one contract, plus a process-wide type
// registry for the polymorphic application payload carried by nodes.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/fpmas-go/fpmas/internal/id"
	"github.com/fpmas-go/fpmas/pkg/errors"
)

// Codec is the contract shared by BinaryCodec and TextCodec: compute the
// size a value packs to, write it into a buffer at an offset, and read it
// back, both advancing past the bytes consumed.
type Codec interface {
	Name() string
	PackSize(v interface{}) (int, error)
	Write(buf []byte, offset int, v interface{}) (int, error)
	Read(buf []byte, offset int, v interface{}) (int, error)
}

// DistributedIdPack is the wire form of id.DistributedId.
type DistributedIdPack struct {
	Rank int
	Seq  uint64
}

// ToPack converts a DistributedId to its wire form.
func ToPack(i id.DistributedId) DistributedIdPack {
	return DistributedIdPack{Rank: i.Rank, Seq: i.Seq}
}

// FromPack converts a wire-form id back to a DistributedId.
func (p DistributedIdPack) FromPack() id.DistributedId {
	return id.DistributedId{Rank: p.Rank, Seq: p.Seq}
}

// NodePack is the wire form of an exported node: identity, weight, and an
// opaque payload already encoded by the TypeRegistry.
type NodePack struct {
	Id      DistributedIdPack
	Weight  float64
	Payload []byte
}

// EdgePack is the wire form of an edge per spec §6.3: id, layer, weight, and
// both endpoints' identity plus their origin/location so the importer can
// reattach or create ghosts without an extra round trip.
type EdgePack struct {
	Id             DistributedIdPack
	Layer          int
	Weight         float64
	SourceId       DistributedIdPack
	TargetId       DistributedIdPack
	SourceOrigin   int
	SourceLocation int
	TargetOrigin   int
	TargetLocation int
}

// LightPack encodes only a type tag and an identity — used when the
// transport already carries the full payload elsewhere (e.g. a location
// query that only needs to name which node is being asked about).
type LightPack struct {
	Tag TypeTag
	Id  DistributedIdPack
}

// LocationQueryPack is the wire form of a batch of id lookups sent during
// LocationManager.updateLocations phase 2.
type LocationQueryPack struct {
	Ids []DistributedIdPack
}

// LocationReplyPack answers a LocationQueryPack.
type LocationReplyPack struct {
	Locations []LocationEntry
}

// LocationEntry pairs an id with the rank that currently owns it.
type LocationEntry struct {
	Id   DistributedIdPack
	Rank int
}

func packSizeUnsupported(name string, v interface{}) error {
	return errors.NewError(errors.ErrCodeEncodeFailed, fmt.Sprintf("%s: unsupported type %T", name, v)).
		WithComponent("codec").WithOperation("PackSize")
}

var _ Codec = (*BinaryCodec)(nil)
var _ Codec = (*TextCodec)(nil)

// BinaryCodec encodes the fixed wire DTOs using fixed-width, host-layout
// little-endian primitives with length-prefixed composites (strings,
// sequences). It assumes a homogeneous cluster, matching spec §4.2.
type BinaryCodec struct{}

// NewBinaryCodec constructs a BinaryCodec.
func NewBinaryCodec() *BinaryCodec { return &BinaryCodec{} }

// Name identifies the codec.
func (c *BinaryCodec) Name() string { return "binary" }

// PackSize returns the number of bytes v will occupy on the wire.
func (c *BinaryCodec) PackSize(v interface{}) (int, error) {
	switch x := v.(type) {
	case DistributedIdPack:
		return 8 + 8, nil // int rank widened to int64 + uint64 seq
	case NodePack:
		idSize, _ := c.PackSize(x.Id)
		return idSize + 8 + 4 + len(x.Payload), nil // id + weight + payload length prefix + payload
	case EdgePack:
		idSize, _ := c.PackSize(x.Id)
		return idSize*3 + 4 + 8 + 4*4, nil // id + layer + weight + source/target id + 4 ints
	case LightPack:
		idSize, _ := c.PackSize(x.Id)
		return 4 + idSize, nil // tag + id
	case LocationQueryPack:
		idSize, _ := c.PackSize(DistributedIdPack{})
		return 4 + len(x.Ids)*idSize, nil
	case LocationReplyPack:
		entrySize, _ := c.PackSize(DistributedIdPack{})
		entrySize += 4 // rank
		return 4 + len(x.Locations)*entrySize, nil
	case []byte:
		return 4 + len(x), nil
	case string:
		return 4 + len(x), nil
	case uint64:
		return 8, nil
	case int:
		return 8, nil
	case float64:
		return 8, nil
	case byte:
		return 1, nil
	default:
		return 0, packSizeUnsupported("BinaryCodec", v)
	}
}

// Write encodes v into buf starting at offset and returns the new offset.
func (c *BinaryCodec) Write(buf []byte, offset int, v interface{}) (int, error) {
	switch x := v.(type) {
	case DistributedIdPack:
		binary.LittleEndian.PutUint64(buf[offset:], uint64(int64(x.Rank)))
		offset += 8
		binary.LittleEndian.PutUint64(buf[offset:], x.Seq)
		offset += 8
		return offset, nil
	case NodePack:
		var err error
		if offset, err = c.Write(buf, offset, x.Id); err != nil {
			return offset, err
		}
		binary.LittleEndian.PutUint64(buf[offset:], floatBits(x.Weight))
		offset += 8
		return c.writeBytes(buf, offset, x.Payload)
	case EdgePack:
		var err error
		if offset, err = c.Write(buf, offset, x.Id); err != nil {
			return offset, err
		}
		binary.LittleEndian.PutUint32(buf[offset:], uint32(int32(x.Layer)))
		offset += 4
		binary.LittleEndian.PutUint64(buf[offset:], floatBits(x.Weight))
		offset += 8
		if offset, err = c.Write(buf, offset, x.SourceId); err != nil {
			return offset, err
		}
		if offset, err = c.Write(buf, offset, x.TargetId); err != nil {
			return offset, err
		}
		for _, n := range []int{x.SourceOrigin, x.SourceLocation, x.TargetOrigin, x.TargetLocation} {
			binary.LittleEndian.PutUint32(buf[offset:], uint32(int32(n)))
			offset += 4
		}
		return offset, nil
	case LightPack:
		binary.LittleEndian.PutUint32(buf[offset:], uint32(x.Tag))
		offset += 4
		return c.Write(buf, offset, x.Id)
	case []byte:
		return c.writeBytes(buf, offset, x)
	case string:
		return c.writeBytes(buf, offset, []byte(x))
	case uint64:
		binary.LittleEndian.PutUint64(buf[offset:], x)
		return offset + 8, nil
	case int:
		binary.LittleEndian.PutUint64(buf[offset:], uint64(int64(x)))
		return offset + 8, nil
	case float64:
		binary.LittleEndian.PutUint64(buf[offset:], floatBits(x))
		return offset + 8, nil
	case byte:
		buf[offset] = x
		return offset + 1, nil
	default:
		return offset, packSizeUnsupported("BinaryCodec", v)
	}
}

func (c *BinaryCodec) writeBytes(buf []byte, offset int, data []byte) (int, error) {
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(data)))
	offset += 4
	copy(buf[offset:], data)
	return offset + len(data), nil
}

// Read decodes into v (which must be a pointer to one of the supported
// types) starting at offset, returning the new offset.
func (c *BinaryCodec) Read(buf []byte, offset int, v interface{}) (int, error) {
	switch x := v.(type) {
	case *DistributedIdPack:
		x.Rank = int(int64(binary.LittleEndian.Uint64(buf[offset:])))
		offset += 8
		x.Seq = binary.LittleEndian.Uint64(buf[offset:])
		offset += 8
		return offset, nil
	case *NodePack:
		var err error
		if offset, err = c.Read(buf, offset, &x.Id); err != nil {
			return offset, err
		}
		x.Weight = bitsFloat(binary.LittleEndian.Uint64(buf[offset:]))
		offset += 8
		var payload []byte
		offset, err = c.readBytes(buf, offset, &payload)
		x.Payload = payload
		return offset, err
	case *EdgePack:
		var err error
		if offset, err = c.Read(buf, offset, &x.Id); err != nil {
			return offset, err
		}
		x.Layer = int(int32(binary.LittleEndian.Uint32(buf[offset:])))
		offset += 4
		x.Weight = bitsFloat(binary.LittleEndian.Uint64(buf[offset:]))
		offset += 8
		if offset, err = c.Read(buf, offset, &x.SourceId); err != nil {
			return offset, err
		}
		if offset, err = c.Read(buf, offset, &x.TargetId); err != nil {
			return offset, err
		}
		ints := make([]*int, 4)
		ints[0], ints[1], ints[2], ints[3] = &x.SourceOrigin, &x.SourceLocation, &x.TargetOrigin, &x.TargetLocation
		for _, p := range ints {
			*p = int(int32(binary.LittleEndian.Uint32(buf[offset:])))
			offset += 4
		}
		return offset, nil
	case *LightPack:
		x.Tag = TypeTag(binary.LittleEndian.Uint32(buf[offset:]))
		offset += 4
		return c.Read(buf, offset, &x.Id)
	case *[]byte:
		return c.readBytes(buf, offset, x)
	case *string:
		var raw []byte
		var err error
		offset, err = c.readBytes(buf, offset, &raw)
		*x = string(raw)
		return offset, err
	case *uint64:
		*x = binary.LittleEndian.Uint64(buf[offset:])
		return offset + 8, nil
	case *int:
		*x = int(int64(binary.LittleEndian.Uint64(buf[offset:])))
		return offset + 8, nil
	case *float64:
		*x = bitsFloat(binary.LittleEndian.Uint64(buf[offset:]))
		return offset + 8, nil
	case *byte:
		*x = buf[offset]
		return offset + 1, nil
	default:
		return offset, errors.NewError(errors.ErrCodeDecodeFailed, fmt.Sprintf("BinaryCodec.Read: unsupported type %T", v)).
			WithComponent("codec").WithOperation("Read")
	}
}

func (c *BinaryCodec) readBytes(buf []byte, offset int, out *[]byte) (int, error) {
	n := int(binary.LittleEndian.Uint32(buf[offset:]))
	offset += 4
	if offset+n > len(buf) {
		return offset, errors.NewError(errors.ErrCodeDecodeFailed, "buffer too short").WithComponent("codec")
	}
	data := make([]byte, n)
	copy(data, buf[offset:offset+n])
	*out = data
	return offset + n, nil
}

func floatBits(f float64) uint64 {
	return math.Float64bits(f)
}

func bitsFloat(b uint64) float64 {
	return math.Float64frombits(b)
}

// TextCodec encodes values as length-prefixed JSON, mirroring the JSON wire
// style used throughout the teacher's gossip/consensus message types.
type TextCodec struct{}

// NewTextCodec constructs a TextCodec.
func NewTextCodec() *TextCodec { return &TextCodec{} }

// Name identifies the codec.
func (c *TextCodec) Name() string { return "text" }

// PackSize marshals v to measure its encoded length (4-byte length prefix
// plus the JSON body).
func (c *TextCodec) PackSize(v interface{}) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, errors.NewError(errors.ErrCodeEncodeFailed, "json marshal failed").
			WithComponent("codec").WithOperation("PackSize").WithCause(err)
	}
	return 4 + len(data), nil
}

// Write encodes v as length-prefixed JSON at offset.
func (c *TextCodec) Write(buf []byte, offset int, v interface{}) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return offset, errors.NewError(errors.ErrCodeEncodeFailed, "json marshal failed").
			WithComponent("codec").WithOperation("Write").WithCause(err)
	}
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(data)))
	offset += 4
	copy(buf[offset:], data)
	return offset + len(data), nil
}

// Read decodes a length-prefixed JSON value at offset into v (a pointer).
func (c *TextCodec) Read(buf []byte, offset int, v interface{}) (int, error) {
	n := int(binary.LittleEndian.Uint32(buf[offset:]))
	offset += 4
	if offset+n > len(buf) {
		return offset, errors.NewError(errors.ErrCodeDecodeFailed, "buffer too short").WithComponent("codec")
	}
	if err := json.Unmarshal(buf[offset:offset+n], v); err != nil {
		return offset, errors.NewError(errors.ErrCodeDecodeFailed, "json unmarshal failed").
			WithComponent("codec").WithOperation("Read").WithCause(err)
	}
	return offset + n, nil
}
