package codec

import (
	"encoding/binary"
	"math"

	"oneshot-rpc/message"
)

// BinaryCodec writes every string field as a 2-byte big-endian length followed
// by its bytes, in declaration order:
//
//	Request:  len(InterfaceName) InterfaceName len(MethodName) MethodName
//	Response: len(Message) Message
//
// The decoder requires the payload to be consumed exactly.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	if err := registered(CodecTypeBinary, "encode", v); err != nil {
		return nil, err
	}
	var fields []string
	switch msg := v.(type) {
	case *message.Request:
		fields = []string{msg.InterfaceName, msg.MethodName}
	case message.Request:
		fields = []string{msg.InterfaceName, msg.MethodName}
	case *message.Response:
		fields = []string{msg.Message}
	case message.Response:
		fields = []string{msg.Message}
	}

	// Size the buffer once; every field costs 2 + len bytes.
	total := 0
	for _, f := range fields {
		if len(f) > math.MaxUint16 {
			return nil, encodeErr(CodecTypeBinary, v, ErrStringTooLong)
		}
		total += 2 + len(f)
	}

	buf := make([]byte, 0, total)
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(f)))
		buf = append(buf, f...)
	}
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	if err := registered(CodecTypeBinary, "decode", v); err != nil {
		return err
	}
	r := binaryReader{data: data}
	switch msg := v.(type) {
	case *message.Request:
		iface := r.string()
		method := r.string()
		if err := r.finish(); err != nil {
			return decodeErr(CodecTypeBinary, v, err)
		}
		*msg = message.Request{InterfaceName: iface, MethodName: method}
	case *message.Response:
		text := r.string()
		if err := r.finish(); err != nil {
			return decodeErr(CodecTypeBinary, v, err)
		}
		*msg = message.Response{Message: text}
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// binaryReader walks a payload and remembers the first short read.
type binaryReader struct {
	data   []byte
	offset int
	err    error
}

func (r *binaryReader) string() string {
	if r.err != nil {
		return ""
	}
	if len(r.data)-r.offset < 2 {
		r.err = ErrTruncated
		return ""
	}
	n := int(binary.BigEndian.Uint16(r.data[r.offset : r.offset+2]))
	r.offset += 2
	if len(r.data)-r.offset < n {
		r.err = ErrTruncated
		return ""
	}
	s := string(r.data[r.offset : r.offset+n])
	r.offset += n
	return s
}

func (r *binaryReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.offset != len(r.data) {
		return ErrTrailingBytes
	}
	return nil
}
