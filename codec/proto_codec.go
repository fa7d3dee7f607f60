package codec

import (
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"oneshot-rpc/message"
)

// Field numbers of the protobuf schema the payloads follow:
//
//	message Request  { string interface_name = 1; string method_name = 2; reserved 3; }
//	message Response { reserved 1, 2; string message = 3; }
//
// The two messages never share a number, so a payload of one fails to decode
// as the other instead of mapping fields across types.
const (
	fieldInterfaceName protowire.Number = 1
	fieldMethodName    protowire.Number = 2
	fieldMessage       protowire.Number = 3
)

var (
	requestFields  = []protowire.Number{fieldInterfaceName, fieldMethodName}
	responseFields = []protowire.Number{fieldMessage}
)

var errInvalidUTF8 = errors.New("string field is not valid UTF-8")

// ProtoCodec speaks the protobuf wire format directly through protowire, so
// peers with generated code for the schema above can talk to us without this
// module carrying generated types. Empty strings are omitted as proto3 does.
type ProtoCodec struct{}

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	if err := registered(CodecTypeProto, "encode", v); err != nil {
		return nil, err
	}
	var b []byte
	switch msg := v.(type) {
	case *message.Request:
		b = appendString(b, fieldInterfaceName, msg.InterfaceName)
		b = appendString(b, fieldMethodName, msg.MethodName)
	case message.Request:
		b = appendString(b, fieldInterfaceName, msg.InterfaceName)
		b = appendString(b, fieldMethodName, msg.MethodName)
	case *message.Response:
		b = appendString(b, fieldMessage, msg.Message)
	case message.Response:
		b = appendString(b, fieldMessage, msg.Message)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func (c *ProtoCodec) Decode(data []byte, v any) error {
	if err := registered(CodecTypeProto, "decode", v); err != nil {
		return err
	}
	switch msg := v.(type) {
	case *message.Request:
		var out message.Request
		err := consumeFields(data, map[protowire.Number]*string{
			fieldInterfaceName: &out.InterfaceName,
			fieldMethodName:    &out.MethodName,
		}, responseFields)
		if err != nil {
			return decodeErr(CodecTypeProto, v, err)
		}
		*msg = out
	case *message.Response:
		var out message.Response
		err := consumeFields(data, map[protowire.Number]*string{
			fieldMessage: &out.Message,
		}, requestFields)
		if err != nil {
			return decodeErr(CodecTypeProto, v, err)
		}
		*msg = out
	}
	return nil
}

func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// consumeFields walks every field of a message and stores known string
// fields through fields. A number in foreign belongs to the other message and
// fails the decode; any other unknown field is skipped. Last one wins for
// repeated occurrences, matching protobuf semantics for scalar fields.
func consumeFields(data []byte, fields map[protowire.Number]*string, foreign []protowire.Number) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		if slices.Contains(foreign, num) {
			return fmt.Errorf("%w: field %d belongs to another message", ErrMalformed, num)
		}
		data = data[n:]

		dst, known := fields[num]
		if !known || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		s, n := protowire.ConsumeString(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		if !utf8.ValidString(s) {
			return errInvalidUTF8
		}
		data = data[n:]
		*dst = s
	}
	return nil
}
