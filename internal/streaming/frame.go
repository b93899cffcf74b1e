// Package streaming implements component D, the Streaming Manager — the
// hardest subsystem in the spec.
//
// frame.go is grounded on adapter/websocket/message_parser.go's
// parseMessage, which decodes the exact binary layout from spec §4.D, but
// fixes the teacher's single-frame limitation: the broker may concatenate
// multiple logical frames into one WebSocket message, so DecodeFrames loops
// until the buffer is exhausted (spec §4.D / Open Questions: "Treat
// multi-frame decoding as required"). A failed unpack aborts the rest of
// the current message (frames decoded before it are kept), never the
// connection.
package streaming

import (
	"encoding/binary"
	"fmt"
)

// Frame is one decoded logical message off the wire.
type Frame struct {
	MessageID     uint64
	ReferenceID   string
	PayloadFormat byte // 0 = JSON UTF-8; other = opaque
	Payload       []byte
}

// IsControlMessage reports whether this frame is one of the broker's
// control reference IDs.
func (f Frame) IsControlMessage() bool {
	switch f.ReferenceID {
	case "_heartbeat", "_disconnect", "_resetsubscriptions":
		return true
	default:
		return false
	}
}

const minFrameSize = 16

// decodeOneFrame unpacks a single frame per spec §4.D's layout and returns
// the number of bytes consumed.
func decodeOneFrame(buf []byte) (Frame, int, error) {
	if len(buf) < minFrameSize {
		return Frame{}, 0, fmt.Errorf("frame too short: %d bytes (minimum %d)", len(buf), minFrameSize)
	}

	messageID := binary.LittleEndian.Uint64(buf[0:8])
	// bytes 8-10 reserved

	refIDLen := int(buf[10])
	refIDEnd := 11 + refIDLen
	if len(buf) < refIDEnd+1+4 {
		return Frame{}, 0, fmt.Errorf("frame too short for reference id + header: need %d, have %d", refIDEnd+5, len(buf))
	}
	refID := string(buf[11:refIDEnd])

	payloadFormat := buf[refIDEnd]
	sizeOffset := refIDEnd + 1
	payloadSize := binary.LittleEndian.Uint32(buf[sizeOffset : sizeOffset+4])

	payloadStart := sizeOffset + 4
	payloadEnd := payloadStart + int(payloadSize)
	if len(buf) < payloadEnd {
		return Frame{}, 0, fmt.Errorf("frame too short for payload: expected %d total, have %d", payloadEnd, len(buf))
	}

	payload := make([]byte, payloadSize)
	copy(payload, buf[payloadStart:payloadEnd])

	return Frame{
		MessageID:     messageID,
		ReferenceID:   refID,
		PayloadFormat: payloadFormat,
		Payload:       payload,
	}, payloadEnd, nil
}

// DecodeFrames iterates decodeOneFrame until the buffer is exhausted.
// Multiple logical frames may arrive concatenated in one WebSocket message
// (spec §4.D); a decode failure on one frame aborts only the remainder of
// this message, returning the frames successfully decoded so far alongside
// the error so the caller can log-and-continue without disrupting the
// connection.
func DecodeFrames(buf []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0
	for offset < len(buf) {
		frame, consumed, err := decodeOneFrame(buf[offset:])
		if err != nil {
			return frames, fmt.Errorf("decode frame at offset %d: %w", offset, err)
		}
		frames = append(frames, frame)
		offset += consumed
	}
	return frames, nil
}

// EncodeFrame is the inverse of decodeOneFrame, used by tests to assert
// round-trip decode(encode(frame)) == frame.
func EncodeFrame(f Frame) []byte {
	out := make([]byte, 0, minFrameSize+len(f.ReferenceID)+len(f.Payload))

	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], f.MessageID)
	out = append(out, idBuf[:]...)
	out = append(out, 0, 0) // reserved
	out = append(out, byte(len(f.ReferenceID)))
	out = append(out, []byte(f.ReferenceID)...)
	out = append(out, f.PayloadFormat)

	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(f.Payload)))
	out = append(out, sizeBuf[:]...)
	out = append(out, f.Payload...)
	return out
}
