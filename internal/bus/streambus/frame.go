// Package streambus is the streaming variant of the event buses: two
// long-lived WebSocket streams per gateway↔engine pair, one per direction.
// Each event frame carries a per-stream sequence number and a sealed wire
// envelope; receivers acknowledge watermarks, and a reconnecting side
// presents its watermark so the sender can replay unacknowledged frames or
// declare the stream unrecoverable.
package streambus

import (
	"encoding/binary"
	"errors"
)

const (
	frameEvent byte = 1 // u8 kind | u64 seq | payload (sealed envelope)
	frameAck   byte = 2 // u8 kind | u64 watermark
	frameReset byte = 3 // u8 kind; sender cannot replay, stream state is lost
)

var errBadFrame = errors.New("streambus: malformed frame")

func encodeEvent(seq uint64, payload []byte) []byte {
	buf := make([]byte, 0, 9+len(payload))
	buf = append(buf, frameEvent)
	buf = binary.BigEndian.AppendUint64(buf, seq)
	return append(buf, payload...)
}

func encodeAck(watermark uint64) []byte {
	buf := make([]byte, 0, 9)
	buf = append(buf, frameAck)
	return binary.BigEndian.AppendUint64(buf, watermark)
}

func encodeReset() []byte { return []byte{frameReset} }

type frame struct {
	kind    byte
	seq     uint64 // event frames
	mark    uint64 // ack frames
	payload []byte
}

func decodeFrame(raw []byte) (frame, error) {
	if len(raw) == 0 {
		return frame{}, errBadFrame
	}
	switch raw[0] {
	case frameEvent:
		if len(raw) < 9 {
			return frame{}, errBadFrame
		}
		return frame{kind: frameEvent, seq: binary.BigEndian.Uint64(raw[1:9]), payload: raw[9:]}, nil
	case frameAck:
		if len(raw) != 9 {
			return frame{}, errBadFrame
		}
		return frame{kind: frameAck, mark: binary.BigEndian.Uint64(raw[1:9])}, nil
	case frameReset:
		return frame{kind: frameReset}, nil
	default:
		return frame{}, errBadFrame
	}
}
