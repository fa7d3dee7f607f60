package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"oneshot-rpc/message"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower due to reflection + string parsing, larger payload (field names repeated).
//
// Decoding is strict: unknown fields and anything after the first JSON value
// are rejected, and every field of the target must be present and non-null,
// so a Response payload never silently decodes as a Request.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	if err := registered(CodecTypeJSON, "encode", v); err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, encodeErr(CodecTypeJSON, v, err)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if err := registered(CodecTypeJSON, "decode", v); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrTruncated
		}
		return decodeErr(CodecTypeJSON, v, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return decodeErr(CodecTypeJSON, v, ErrTrailingBytes)
	}
	if err := requireFields(data, jsonFields(v)); err != nil {
		return decodeErr(CodecTypeJSON, v, err)
	}
	return nil
}

func jsonFields(v any) []string {
	switch v.(type) {
	case *message.Request:
		return []string{"interfaceName", "methodName"}
	case *message.Response:
		return []string{"message"}
	}
	return nil
}

// requireFields fails unless data is an object carrying every key in keys.
// encoding/json accepts null and missing keys silently.
func requireFields(data []byte, keys []string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if obj == nil {
		return fmt.Errorf("%w: null is not an object", ErrMalformed)
	}
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			return fmt.Errorf("%w: missing field %q", ErrMalformed, k)
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return fmt.Errorf("%w: field %q is null", ErrMalformed, k)
		}
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
