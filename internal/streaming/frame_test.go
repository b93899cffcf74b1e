package streaming

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		MessageID:     42,
		ReferenceID:   "prices_123_456",
		PayloadFormat: 0,
		Payload:       []byte(`[{"Uic":123,"Quote":{"Bid":1.23}}]`),
	}
	encoded := EncodeFrame(f)
	decoded, err := DecodeFrames(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, f, decoded[0])
}

func TestDecodeFramesHandlesConcatenatedMultiFrameMessages(t *testing.T) {
	f1 := Frame{MessageID: 1, ReferenceID: "_heartbeat", PayloadFormat: 0, Payload: []byte(`[]`)}
	f2 := Frame{MessageID: 2, ReferenceID: "prices_1_1", PayloadFormat: 0, Payload: []byte(`[{"Uic":1,"Quote":{"Bid":9.9}}]`)}

	buf := append(EncodeFrame(f1), EncodeFrame(f2)...)

	decoded, err := DecodeFrames(buf)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	require.Equal(t, f1, decoded[0])
	require.Equal(t, f2, decoded[1])
}

func TestDecodeFramesAbortsCurrentMessageOnUnpackFailure(t *testing.T) {
	good := EncodeFrame(Frame{MessageID: 1, ReferenceID: "_heartbeat", PayloadFormat: 0, Payload: []byte(`[]`)})
	truncated := append([]byte{}, good...)
	truncated = truncated[:len(truncated)-2] // corrupt the trailing payload bytes' declared length

	decoded, err := DecodeFrames(truncated)
	require.Error(t, err)
	require.Empty(t, decoded)
}

func TestDecodeFramesRejectsTooShortBuffer(t *testing.T) {
	_, err := DecodeFrames([]byte{1, 2, 3})
	require.Error(t, err)
}
