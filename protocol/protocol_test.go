package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneshot-rpc/codec"
	"oneshot-rpc/message"
)

func mustCodec(t testing.TB, ct codec.CodecType) codec.Codec {
	t.Helper()
	c, err := codec.GetCodec(ct)
	require.NoError(t, err)
	return c
}

func allCodecs(t testing.TB) []codec.Codec {
	return []codec.Codec{
		mustCodec(t, codec.CodecTypeJSON),
		mustCodec(t, codec.CodecTypeBinary),
		mustCodec(t, codec.CodecTypeProto),
	}
}

// countingWriter records every Write call separately.
type countingWriter struct {
	writes [][]byte
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, append([]byte(nil), p...))
	return len(p), nil
}

func TestWriteFrameLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello world"), DefaultLimits()))

	frame := buf.Bytes()
	require.Len(t, frame, LengthSize+11)
	assert.Equal(t, uint32(11), binary.BigEndian.Uint32(frame[:4]))
	assert.Equal(t, []byte("hello world"), frame[4:])
}

func TestWriteFrameSingleWrite(t *testing.T) {
	w := &countingWriter{}
	require.NoError(t, WriteFrame(w, bytes.Repeat([]byte{7}, 1024), DefaultLimits()))
	require.Len(t, w.writes, 1)

	enc := NewEncoder[message.Request](mustCodec(t, codec.CodecTypeJSON), DefaultLimits())
	require.NoError(t, enc.Encode(w, &message.Request{InterfaceName: "interface", MethodName: "hello"}))
	assert.Len(t, w.writes, 2)
}

func TestLengthExactness(t *testing.T) {
	values := []any{
		&message.Request{InterfaceName: "interface", MethodName: "hello"},
		&message.Request{},
		&message.Request{InterfaceName: string(bytes.Repeat([]byte("ab"), 3000))},
	}
	for _, cdc := range allCodecs(t) {
		enc := NewEncoder[message.Request](cdc, DefaultLimits())
		for _, v := range values {
			var buf bytes.Buffer
			require.NoError(t, enc.Encode(&buf, v))

			frame := buf.Bytes()
			require.GreaterOrEqual(t, len(frame), LengthSize)
			prefix := binary.BigEndian.Uint32(frame[:LengthSize])
			assert.Equal(t, int(prefix), len(frame)-LengthSize, cdc.Type().String())
		}
	}
}

func TestEncoderTypeMismatchWritesNothing(t *testing.T) {
	for _, cdc := range allCodecs(t) {
		enc := NewEncoder[message.Request](cdc, DefaultLimits())

		var buf bytes.Buffer
		err := enc.Encode(&buf, &message.Response{Message: "message from server"})
		require.NoError(t, err)
		assert.Zero(t, buf.Len(), cdc.Type().String())

		require.NoError(t, enc.Encode(&buf, "not a message"))
		require.NoError(t, enc.Encode(&buf, nil))
		assert.Zero(t, buf.Len())

		frame, err := enc.Marshal(message.Response{})
		require.NoError(t, err)
		assert.Nil(t, frame)
	}
}

func TestEncoderAcceptsValueAndPointer(t *testing.T) {
	enc := NewEncoder[message.Response](mustCodec(t, codec.CodecTypeBinary), DefaultLimits())

	a, err := enc.Marshal(message.Response{Message: "x"})
	require.NoError(t, err)
	b, err := enc.Marshal(&message.Response{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestEncoderRejectsOversizedPayload(t *testing.T) {
	enc := NewEncoder[message.Response](mustCodec(t, codec.CodecTypeProto), Limits{MaxPayloadBytes: 8})

	var buf bytes.Buffer
	err := enc.Encode(&buf, &message.Response{Message: "far more than eight bytes"})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len())
}

// compositions calls fn with every way of splitting b into non-empty chunks.
func compositions(b []byte, fn func(chunks [][]byte)) {
	n := len(b)
	for mask := 0; mask < 1<<(n-1); mask++ {
		var chunks [][]byte
		start := 0
		for i := 1; i < n; i++ {
			if mask&(1<<(i-1)) != 0 {
				chunks = append(chunks, b[start:i])
				start = i
			}
		}
		chunks = append(chunks, b[start:])
		fn(chunks)
	}
}

func TestFragmentationInvariance(t *testing.T) {
	want := message.Request{InterfaceName: "if", MethodName: "hi"}
	cdc := mustCodec(t, codec.CodecTypeBinary)

	frame, err := NewEncoder[message.Request](cdc, DefaultLimits()).Marshal(&want)
	require.NoError(t, err)
	require.Len(t, frame, 12)

	splits := 0
	compositions(frame, func(chunks [][]byte) {
		splits++
		dec := NewDecoder[message.Request](cdc, DefaultLimits())
		var got []message.Request
		for i, chunk := range chunks {
			vals, err := dec.Feed(chunk)
			require.NoError(t, err)
			if i < len(chunks)-1 {
				require.Empty(t, vals, "value emitted before the frame was complete")
			}
			got = append(got, vals...)
		}
		require.Equal(t, []message.Request{want}, got)
		require.False(t, dec.Pending())
	})
	assert.Equal(t, 1<<11, splits)
}

func TestFrameIsolation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, cdc := range allCodecs(t) {
		t.Run(cdc.Type().String(), func(t *testing.T) {
			enc := NewEncoder[message.Response](cdc, DefaultLimits())

			var want []message.Response
			var stream bytes.Buffer
			for i := 0; i < 50; i++ {
				resp := message.Response{Message: fmt.Sprintf("message-%d-%s", i, bytes.Repeat([]byte("z"), i*7))}
				if i%10 == 0 {
					resp.Message = ""
				}
				want = append(want, resp)
				require.NoError(t, enc.Encode(&stream, &resp))
			}
			data := stream.Bytes()

			for round := 0; round < 20; round++ {
				dec := NewDecoder[message.Response](cdc, DefaultLimits())
				var got []message.Response
				for rest := data; len(rest) > 0; {
					n := 1 + rng.Intn(64)
					if n > len(rest) {
						n = len(rest)
					}
					vals, err := dec.Feed(rest[:n])
					require.NoError(t, err)
					got = append(got, vals...)
					rest = rest[n:]
				}
				require.Equal(t, want, got)
			}
		})
	}
}

func TestFrameDecoderStates(t *testing.T) {
	d := NewFrameDecoder(DefaultLimits())
	assert.Equal(t, StateAwaitingLength, d.State())
	assert.False(t, d.Pending())

	d.Feed([]byte{0, 0})
	_, ok, err := d.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateAwaitingLength, d.State())
	assert.True(t, d.Pending())

	d.Feed([]byte{0, 3, 'a'})
	_, ok, err = d.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateAwaitingBody, d.State())
	assert.Equal(t, 1, d.Buffered())

	// completes the frame and starts the next one
	d.Feed([]byte{'b', 'c', 0, 0, 0, 0})
	payload, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), payload)
	assert.Equal(t, StateAwaitingLength, d.State())
	assert.Equal(t, 4, d.Buffered(), "bytes of the next frame are retained")

	payload, ok, err = d.Next()
	require.NoError(t, err)
	require.True(t, ok, "zero-length frame")
	assert.Empty(t, payload)
	assert.False(t, d.Pending())
}

func TestFrameDecoderRejectsOversizedPrefix(t *testing.T) {
	d := NewFrameDecoder(Limits{MaxPayloadBytes: 16})
	d.Feed([]byte{0, 0, 0, 17})

	_, _, err := d.Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	d.Feed([]byte{0, 0, 0, 0})
	_, _, err = d.Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge, "error is terminal")
}

func TestDecoderSerializationErrorIsSticky(t *testing.T) {
	cdc := mustCodec(t, codec.CodecTypeBinary)
	good, err := NewEncoder[message.Request](cdc, DefaultLimits()).Marshal(&message.Request{InterfaceName: "a", MethodName: "b"})
	require.NoError(t, err)

	var stream []byte
	stream = append(stream, good...)
	stream = AppendFrame(stream, []byte{0, 9, 'x'}) // truncated string
	stream = append(stream, good...)

	dec := NewDecoder[message.Request](cdc, DefaultLimits())
	vals, err := dec.Feed(stream)
	var serr *codec.SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Len(t, vals, 1, "values before the failing frame are kept")

	_, err = dec.Feed(good)
	assert.ErrorAs(t, err, &serr)

	// a fresh decoder on another connection is unaffected
	other := NewDecoder[message.Request](cdc, DefaultLimits())
	vals, err = other.Feed(good)
	require.NoError(t, err)
	assert.Len(t, vals, 1)
}

func TestReceive(t *testing.T) {
	cdc := mustCodec(t, codec.CodecTypeJSON)
	enc := NewEncoder[message.Response](cdc, DefaultLimits())

	var stream bytes.Buffer
	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, enc.Encode(&stream, &message.Response{Message: m}))
	}

	dec := NewDecoder[message.Response](cdc, DefaultLimits())
	r := iotest.OneByteReader(&stream)
	for _, m := range []string{"one", "two", "three"} {
		got, err := dec.Receive(r)
		require.NoError(t, err)
		assert.Equal(t, m, got.Message)
	}

	_, err := dec.Receive(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReceiveQueuesSurplusValues(t *testing.T) {
	cdc := mustCodec(t, codec.CodecTypeProto)
	enc := NewEncoder[message.Response](cdc, DefaultLimits())

	var stream bytes.Buffer
	require.NoError(t, enc.Encode(&stream, &message.Response{Message: "a"}))
	require.NoError(t, enc.Encode(&stream, &message.Response{Message: "b"}))

	// both frames arrive in a single read
	dec := NewDecoder[message.Response](cdc, DefaultLimits())
	r := iotest.DataErrReader(&stream)
	first, err := dec.Receive(r)
	require.NoError(t, err)
	second, err := dec.Receive(r)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Message)
	assert.Equal(t, "b", second.Message)
}

func TestReceiveTruncatedStream(t *testing.T) {
	cdc := mustCodec(t, codec.CodecTypeBinary)
	frame, err := NewEncoder[message.Response](cdc, DefaultLimits()).Marshal(&message.Response{Message: "cut"})
	require.NoError(t, err)

	dec := NewDecoder[message.Response](cdc, DefaultLimits())
	_, err = dec.Receive(bytes.NewReader(frame[:len(frame)-1]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	dec = NewDecoder[message.Response](cdc, DefaultLimits())
	_, err = dec.Receive(bytes.NewReader(frame[:2]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "partial length prefix")

	dec = NewDecoder[message.Response](cdc, DefaultLimits())
	_, err = dec.Receive(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReceiveReadError(t *testing.T) {
	dec := NewDecoder[message.Request](mustCodec(t, codec.CodecTypeJSON), DefaultLimits())
	_, err := dec.Receive(iotest.ErrReader(iotest.ErrTimeout))
	assert.ErrorIs(t, err, iotest.ErrTimeout)
}

func TestDecodeLargeBody(t *testing.T) {
	cdc := mustCodec(t, codec.CodecTypeProto)
	big := message.Response{Message: string(bytes.Repeat([]byte("0123456789"), 100*1024))}

	var stream bytes.Buffer
	require.NoError(t, NewEncoder[message.Response](cdc, DefaultLimits()).Encode(&stream, &big))

	got, err := NewDecoder[message.Response](cdc, DefaultLimits()).Receive(&stream)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func BenchmarkFeedBinary(b *testing.B) {
	cdc := mustCodec(b, codec.CodecTypeBinary)
	frame, err := NewEncoder[message.Request](cdc, DefaultLimits()).Marshal(&message.Request{InterfaceName: "interface", MethodName: "hello"})
	if err != nil {
		b.Fatal(err)
	}

	dec := NewDecoder[message.Request](cdc, DefaultLimits())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dec.Feed(frame); err != nil {
			b.Fatal(err)
		}
	}
}
