// Package codec converts message values to and from opaque payload bytes.
//
// A Codec never sees frames: the protocol package prepends the length prefix.
// All codecs here are stateless, so a single instance is shared by every
// connection without synchronization.
package codec

import (
	"fmt"
	"strings"

	"oneshot-rpc/message"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
	CodecTypeProto  CodecType = 2
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeProto:
		return "proto"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// Codec is the serializer contract.
//
// Decode is told the destination type through v, which must point to a
// message.Request or message.Response: payloads are not self-describing.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// codecs is populated once at package init and only read afterwards.
var codecs = map[CodecType]Codec{
	CodecTypeJSON:   &JSONCodec{},
	CodecTypeBinary: &BinaryCodec{},
	CodecTypeProto:  &ProtoCodec{},
}

// GetCodec returns the shared codec instance for codecType.
func GetCodec(codecType CodecType) (Codec, error) {
	c, ok := codecs[codecType]
	if !ok {
		return nil, fmt.Errorf("codec: unsupported codec type %d", byte(codecType))
	}
	return c, nil
}

// ParseCodecType maps a configuration name ("json", "binary", "proto") to its type.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return CodecTypeJSON, nil
	case "binary", "bin":
		return CodecTypeBinary, nil
	case "proto", "protobuf":
		return CodecTypeProto, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// registered rejects values the codecs were not built for, the way a
// registration based serializer refuses unknown classes. Decode destinations
// must be non-nil pointers.
func registered(c CodecType, op string, v any) error {
	target := fmt.Sprintf("%T", v)
	switch msg := v.(type) {
	case *message.Request:
		if msg == nil {
			return &SerializationError{Codec: c, Op: op, Target: target, Err: ErrNilValue}
		}
	case *message.Response:
		if msg == nil {
			return &SerializationError{Codec: c, Op: op, Target: target, Err: ErrNilValue}
		}
	case message.Request, message.Response:
		if op == "decode" {
			return &SerializationError{Codec: c, Op: op, Target: target, Err: ErrNotPointer}
		}
	default:
		return &SerializationError{Codec: c, Op: op, Target: target, Err: ErrUnregisteredType}
	}
	return nil
}
