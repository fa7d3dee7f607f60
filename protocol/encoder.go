package protocol

import (
	"io"

	"github.com/rs/zerolog/log"

	"oneshot-rpc/codec"
	"oneshot-rpc/message"
	"oneshot-rpc/metrics"
)

// Encoder writes values of type T as frames.
type Encoder[T Message] struct {
	codec  codec.Codec
	limits Limits
	typ    message.Type
}

func NewEncoder[T Message](c codec.Codec, limits Limits) *Encoder[T] {
	return &Encoder[T]{
		codec:  c,
		limits: limits,
		typ:    typeLabel[T](),
	}
}

// Marshal returns the complete frame for v.
//
// A value whose dynamic type is neither T nor *T yields no frame and no error:
// the value is dropped. Callers that need a hard failure must check the type
// themselves.
func (e *Encoder[T]) Marshal(v any) ([]byte, error) {
	switch v.(type) {
	case T, *T:
	default:
		metrics.RecordFrameDropped(e.typ.String())
		log.Debug().Str("module", "protocol").
			Str("expected", e.typ.String()).
			Str("got", message.TypeOf(v).String()).
			Msg("type mismatch, frame dropped")
		return nil, nil
	}

	payload, err := e.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	if err := e.limits.check(uint64(len(payload))); err != nil {
		return nil, err
	}
	return AppendFrame(make([]byte, 0, LengthSize+len(payload)), payload), nil
}

// Encode writes the frame for v to w in a single Write. Nothing is written
// when Marshal drops the value.
func (e *Encoder[T]) Encode(w io.Writer, v any) error {
	frame, err := e.Marshal(v)
	if err != nil || frame == nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	metrics.RecordFrameEncoded(e.typ.String(), len(frame))
	return nil
}
