package streambus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambonmud/server/internal/event"
)

func TestFrameCodecRoundtrip(t *testing.T) {
	ev, err := decodeFrame(encodeEvent(42, []byte("payload")))
	require.NoError(t, err)
	assert.Equal(t, frameEvent, ev.kind)
	assert.Equal(t, uint64(42), ev.seq)
	assert.Equal(t, []byte("payload"), ev.payload)

	ack, err := decodeFrame(encodeAck(7))
	require.NoError(t, err)
	assert.Equal(t, frameAck, ack.kind)
	assert.Equal(t, uint64(7), ack.mark)

	rst, err := decodeFrame(encodeReset())
	require.NoError(t, err)
	assert.Equal(t, frameReset, rst.kind)
}

func TestFrameCodecRejectsGarbage(t *testing.T) {
	for _, raw := range [][]byte{
		nil,
		{},
		{99},               // unknown kind
		{frameEvent, 1, 2}, // truncated seq
		{frameAck, 1, 2, 3, 4, 5, 6, 7, 8, 9}, // trailing bytes
	} {
		_, err := decodeFrame(raw)
		assert.Error(t, err, "raw=%v", raw)
	}
}

func newTestSender(window int) *sender {
	return newSender([]byte("secret"), "engine-1", 16, window,
		func() int64 { return time.Now().UnixMilli() })
}

func TestSenderResumeReplaysUnacked(t *testing.T) {
	s := newTestSender(8)
	for seq := uint64(1); seq <= 5; seq++ {
		s.record(seq, []byte{byte(seq)})
	}
	s.ack(2)

	replay, ok := s.resume(3)
	require.True(t, ok)
	require.Len(t, replay, 2)
	assert.Equal(t, uint64(4), replay[0].seq)
	assert.Equal(t, uint64(5), replay[1].seq)

	// A receiver that saw everything has nothing to replay.
	replay, ok = s.resume(5)
	require.True(t, ok)
	assert.Empty(t, replay)
}

func TestSenderResumeBelowWindowForcesReset(t *testing.T) {
	s := newTestSender(3)
	for seq := uint64(1); seq <= 5; seq++ {
		s.record(seq, []byte{byte(seq)})
	}
	// Window 3 keeps seqs 3..5; 1 and 2 were evicted.
	_, ok := s.resume(0)
	assert.False(t, ok, "watermark predates the replay window")

	replay, ok := s.resume(2)
	require.True(t, ok)
	assert.Len(t, replay, 3)
}

func TestSenderQueueBounded(t *testing.T) {
	s := newSender([]byte("secret"), "engine-1", 2, 8,
		func() int64 { return time.Now().UnixMilli() })
	require.NoError(t, s.send(sampleEvent()))
	require.NoError(t, s.send(sampleEvent()))
	assert.ErrorIs(t, s.send(sampleEvent()), ErrSendQueueFull)
}

func TestReceiverWatermarkStartsAtZero(t *testing.T) {
	r := newReceiver([]byte("secret"), 5*time.Second,
		func() int64 { return time.Now().UnixMilli() })
	assert.Equal(t, uint64(0), r.watermark())
}

func sampleEvent() any {
	return event.LineReceived{Sid: 1, Line: "look"}
}
