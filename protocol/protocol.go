// Package protocol implements the length-prefixed frame protocol.
//
// TCP delivers a byte stream, not messages. Every message is therefore sent as
// a 4-byte big-endian length followed by exactly that many payload bytes. The
// receiver buffers until the prefix is complete, then until the body is, and
// only then hands the payload to the serializer.
//
// Frame format:
//
//	0         4
//	┌─────────┬──────────────────────┐
//	│ length  │ payload ...          │
//	│ uint32  │ length bytes         │
//	└─────────┴──────────────────────┘
//
// There is no magic number, version or checksum: frame boundaries rely on TCP
// being a reliable ordered stream.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"oneshot-rpc/message"
)

// LengthSize is the size of the length prefix in bytes.
const LengthSize = 4

var ErrFrameTooLarge = errors.New("protocol: frame payload too large")

// Message constrains the values a typed Encoder or Decoder carries.
type Message interface {
	message.Request | message.Response
}

// Limits constrains frame decode/encode memory use. The wire format itself is
// unbounded up to 4 GiB; a zero MaxPayloadBytes means exactly that.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 16 * 1024 * 1024,
	}
}

func (l Limits) maxPayload() uint64 {
	if l.MaxPayloadBytes == 0 || l.MaxPayloadBytes > math.MaxUint32 {
		return math.MaxUint32
	}
	return l.MaxPayloadBytes
}

func (l Limits) check(n uint64) error {
	if n > l.maxPayload() {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, l.maxPayload())
	}
	return nil
}

// AppendFrame appends the length prefix and payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes one complete frame to w with a single Write call, so the
// transport never sees a prefix without its body.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if err := limits.check(uint64(len(payload))); err != nil {
		return err
	}
	frame := AppendFrame(make([]byte, 0, LengthSize+len(payload)), payload)
	_, err := w.Write(frame)
	return err
}

func typeLabel[T Message]() message.Type {
	var zero T
	return message.TypeOf(zero)
}
