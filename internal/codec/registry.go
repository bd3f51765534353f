package codec

import (
	"fmt"
	"sync"

	"github.com/fpmas-go/fpmas/pkg/errors"
)

// TypeTag identifies a registered application payload type on the wire, in
// place of the original's runtime-type-tag-plus-inheritance scheme.
type TypeTag uint32

// EncodeFunc marshals an application payload to bytes.
type EncodeFunc func(v interface{}) ([]byte, error)

// DecodeFunc unmarshals bytes into an application payload.
type DecodeFunc func(data []byte) (interface{}, error)

type registeredType struct {
	name   string
	encode EncodeFunc
	decode DecodeFunc
}

// TypeRegistry is the process-wide table mapping a numeric type tag to the
// encode/decode pair for one application payload type, populated once at
// startup per spec §9 ("Global mutable state").
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[TypeTag]registeredType
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[TypeTag]registeredType)}
}

// Register binds a type tag to its encode/decode functions. Registering the
// same tag twice is an error — the registry is meant to be populated once,
// deterministically, on every rank before communication begins.
func (r *TypeRegistry) Register(tag TypeTag, name string, encode EncodeFunc, decode DecodeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[tag]; exists {
		return errors.NewError(errors.ErrCodeTypeNotBound, fmt.Sprintf("type tag %d already registered", tag)).
			WithComponent("codec").WithOperation("Register")
	}
	r.types[tag] = registeredType{name: name, encode: encode, decode: decode}
	return nil
}

// EncodeVariant encodes v as a tagged variant: a 4-byte tag followed by the
// payload produced by the registered encoder.
func (r *TypeRegistry) EncodeVariant(tag TypeTag, v interface{}) ([]byte, error) {
	r.mu.RLock()
	rt, ok := r.types[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewError(errors.ErrCodeBadType, fmt.Sprintf("unregistered type tag %d", tag)).
			WithComponent("codec").WithOperation("EncodeVariant")
	}

	payload, err := rt.encode(v)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeEncodeFailed, "variant payload encode failed").
			WithComponent("codec").WithOperation("EncodeVariant").WithCause(err)
	}

	buf := make([]byte, 4+len(payload))
	buf[0] = byte(tag)
	buf[1] = byte(tag >> 8)
	buf[2] = byte(tag >> 16)
	buf[3] = byte(tag >> 24)
	copy(buf[4:], payload)
	return buf, nil
}

// DecodeVariant reads a tag-prefixed variant and dispatches to the
// registered decoder. An unknown tag is a bad-type error; per spec §7 this
// is fatal at the receiver.
func (r *TypeRegistry) DecodeVariant(data []byte) (interface{}, error) {
	if len(data) < 4 {
		return nil, errors.NewError(errors.ErrCodeBadId, "variant payload shorter than tag").
			WithComponent("codec").WithOperation("DecodeVariant")
	}
	tag := TypeTag(uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24)

	r.mu.RLock()
	rt, ok := r.types[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewError(errors.ErrCodeBadType, fmt.Sprintf("unregistered type tag %d", tag)).
			WithComponent("codec").WithOperation("DecodeVariant")
	}

	v, err := rt.decode(data[4:])
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeDecodeFailed, "variant payload decode failed").
			WithComponent("codec").WithOperation("DecodeVariant").WithCause(err)
	}
	return v, nil
}

// Name returns the human-readable name registered for a tag, for logging.
func (r *TypeRegistry) Name(tag TypeTag) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.types[tag]
	if !ok {
		return "", false
	}
	return rt.name, true
}
