// Package wire implements the authenticated envelope that carries events
// between processes, and the tag↔type codec for every event that may cross
// the wire.
//
// Envelope layout (big-endian):
//
//	u16  version          (currently 1)
//	u8   tag length, tag bytes
//	u8   source length, source bytes
//	i64  timestamp ms
//	u32  payload length, payload bytes (JSON-encoded event)
//	32B  HMAC-SHA256(secret, everything before the mac)
//
// Receivers drop messages with a bad MAC, an unknown version, or a timestamp
// older than the configured skew window. Dropping is silent apart from a
// counter; a forged or corrupt message must never crash a node.
package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// Version is the only envelope version this build understands. Unknown
	// versions fail closed.
	Version uint16 = 1

	macSize   = sha256.Size
	headerMin = 2 + 1 + 1 + 8 + 4
)

var (
	ErrBadMAC         = errors.New("wire: mac mismatch")
	ErrUnknownVersion = errors.New("wire: unknown envelope version")
	ErrStale          = errors.New("wire: envelope outside skew window")
	ErrTruncated      = errors.New("wire: truncated envelope")
	ErrTagTooLong     = errors.New("wire: tag or source exceeds 255 bytes")
)

// Envelope is a decoded wire message before payload interpretation.
type Envelope struct {
	Version     uint16
	Tag         string
	Source      string
	TimestampMs int64
	Payload     []byte
}

// Seal encodes ev into a signed envelope. source identifies the publishing
// node and is used by subscribers to suppress their own messages.
func Seal(secret []byte, source string, nowMs int64, ev any) ([]byte, error) {
	tag, payload, err := Marshal(ev)
	if err != nil {
		return nil, err
	}
	if len(tag) > 255 || len(source) > 255 {
		return nil, ErrTagTooLong
	}

	buf := make([]byte, 0, headerMin+len(tag)+len(source)+len(payload)+macSize)
	buf = binary.BigEndian.AppendUint16(buf, Version)
	buf = append(buf, byte(len(tag)))
	buf = append(buf, tag...)
	buf = append(buf, byte(len(source)))
	buf = append(buf, source...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(nowMs))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)

	mac := hmac.New(sha256.New, secret)
	mac.Write(buf)
	return mac.Sum(buf), nil
}

// Open verifies and decodes a sealed envelope, returning the envelope header
// and the concrete event. maxSkew bounds how old a message may be; zero
// disables the check.
func Open(secret, raw []byte, nowMs int64, maxSkew time.Duration) (Envelope, any, error) {
	env, err := parse(raw)
	if err != nil {
		return Envelope{}, nil, err
	}
	if env.Version != Version {
		return env, nil, ErrUnknownVersion
	}

	body := raw[:len(raw)-macSize]
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), raw[len(raw)-macSize:]) {
		return env, nil, ErrBadMAC
	}

	if maxSkew > 0 && nowMs-env.TimestampMs > maxSkew.Milliseconds() {
		return env, nil, ErrStale
	}

	ev, err := Unmarshal(env.Tag, env.Payload)
	if err != nil {
		return env, nil, err
	}
	return env, ev, nil
}

func parse(raw []byte) (Envelope, error) {
	if len(raw) < headerMin+macSize {
		return Envelope{}, ErrTruncated
	}
	var env Envelope
	off := 0

	env.Version = binary.BigEndian.Uint16(raw[off:])
	off += 2

	tagLen := int(raw[off])
	off++
	if off+tagLen > len(raw)-macSize {
		return env, ErrTruncated
	}
	env.Tag = string(raw[off : off+tagLen])
	off += tagLen

	if off >= len(raw)-macSize {
		return env, ErrTruncated
	}
	srcLen := int(raw[off])
	off++
	if off+srcLen > len(raw)-macSize {
		return env, ErrTruncated
	}
	env.Source = string(raw[off : off+srcLen])
	off += srcLen

	if off+12 > len(raw)-macSize {
		return env, ErrTruncated
	}
	env.TimestampMs = int64(binary.BigEndian.Uint64(raw[off:]))
	off += 8

	payLen := int(binary.BigEndian.Uint32(raw[off:]))
	off += 4
	if off+payLen != len(raw)-macSize {
		return env, fmt.Errorf("%w: payload length %d", ErrTruncated, payLen)
	}
	env.Payload = raw[off : off+payLen]
	return env, nil
}
