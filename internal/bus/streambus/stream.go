package streambus

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ambonmud/server/internal/wire"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 30 * time.Second
	pingPeriod   = 20 * time.Second
	readLimit    = 1 << 20

	// ackEvery is how many event frames a receiver accepts before pushing a
	// watermark back to the sender.
	ackEvery = 64
)

// ErrSendQueueFull is returned when the stream's outgoing queue is full.
var ErrSendQueueFull = errors.New("streambus: send queue full")

// sender owns one direction of a pair. It survives socket loss: queued and
// unacknowledged frames are replayed on the next attach. Sequence numbers
// are assigned once, at first transmission.
type sender struct {
	secret []byte
	source string
	now    func() int64

	queue chan []byte // sealed envelopes awaiting first transmission

	mu      sync.Mutex
	nextSeq uint64
	ring    []ringEntry // sent but unacknowledged, ascending seq
	window  int
	lostLow uint64 // lowest seq we can no longer replay (ring overflow)
}

type ringEntry struct {
	seq uint64
	raw []byte
}

func newSender(secret []byte, source string, queueSize, window int, now func() int64) *sender {
	if queueSize <= 0 {
		queueSize = 4096
	}
	if window <= 0 {
		window = 4096
	}
	return &sender{
		secret: secret,
		source: source,
		now:    now,
		queue:  make(chan []byte, queueSize),
		window: window,
	}
}

// send seals ev and queues it for transmission.
func (s *sender) send(ev any) error {
	raw, err := wire.Seal(s.secret, s.source, s.now(), ev)
	if err != nil {
		return err
	}
	select {
	case s.queue <- raw:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// ack drops acknowledged frames from the replay ring.
func (s *sender) ack(watermark uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for i < len(s.ring) && s.ring[i].seq <= watermark {
		i++
	}
	s.ring = s.ring[i:]
}

// record appends a first-transmission frame to the ring, evicting the oldest
// entry when the window is exceeded. Evicted frames can never be replayed;
// a later resume below that point forces a reset.
func (s *sender) record(seq uint64, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = append(s.ring, ringEntry{seq: seq, raw: raw})
	if len(s.ring) > s.window {
		s.lostLow = s.ring[0].seq
		s.ring = s.ring[1:]
	}
}

// resume returns the frames to replay for a receiver that has seen
// everything up to watermark. ok is false when the ring no longer reaches
// back that far and the stream must reset.
func (s *sender) resume(watermark uint64) (replay []ringEntry, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lostLow > watermark {
		return nil, false
	}
	for _, e := range s.ring {
		if e.seq > watermark {
			replay = append(replay, e)
		}
	}
	return replay, true
}

// attach pumps the sender over one socket until the socket fails or stop is
// closed. The receiver's opening ack frame must already have been consumed
// and passed as watermark.
func (s *sender) attach(conn *websocket.Conn, watermark uint64, acks <-chan uint64, stop <-chan struct{}) error {
	replay, ok := s.resume(watermark)
	if !ok {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteMessage(websocket.BinaryMessage, encodeReset())
		return errors.New("streambus: resume watermark below replay window")
	}
	s.ack(watermark)
	for _, e := range replay {
		if err := writeFrame(conn, encodeEvent(e.seq, e.raw)); err != nil {
			return err
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-stop:
			return nil
		case mark := <-acks:
			s.ack(mark)
		case raw := <-s.queue:
			s.mu.Lock()
			s.nextSeq++
			seq := s.nextSeq
			s.mu.Unlock()
			s.record(seq, raw)
			if err := writeFrame(conn, encodeEvent(seq, raw)); err != nil {
				return err
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// senderReadLoop consumes the sender side of a socket: ack frames feed the
// acks channel, pongs refresh the read deadline. Returns when the socket
// dies.
func senderReadLoop(conn *websocket.Conn, acks chan<- uint64) error {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		f, err := decodeFrame(raw)
		if err != nil {
			continue
		}
		if f.kind == frameAck {
			select {
			case acks <- f.mark:
			default:
				// Watermarks are cumulative; dropping an intermediate one
				// is harmless.
			}
		}
	}
}

// receiver owns the consuming end of one direction. It tracks the cumulative
// watermark across socket generations and deduplicates replays.
type receiver struct {
	secret []byte
	skew   time.Duration
	now    func() int64

	mu      sync.Mutex
	lastSeq uint64
}

func newReceiver(secret []byte, skew time.Duration, now func() int64) *receiver {
	return &receiver{secret: secret, skew: skew, now: now}
}

func (r *receiver) watermark() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

// attach consumes one socket until it fails. Every decoded event is passed
// to deliver; reset frames invoke onReset and end the attachment. The
// opening watermark ack has already been written by the caller.
func (r *receiver) attach(conn *websocket.Conn, deliver func(ev any), onReset func()) error {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sinceAck := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		f, err := decodeFrame(raw)
		if err != nil {
			return err
		}
		switch f.kind {
		case frameReset:
			if onReset != nil {
				onReset()
			}
			return errors.New("streambus: peer reset stream")
		case frameAck:
			// Receivers do not expect acks; tolerate them.
			continue
		case frameEvent:
			r.mu.Lock()
			dup := f.seq <= r.lastSeq
			if !dup {
				r.lastSeq = f.seq
			}
			r.mu.Unlock()
			if dup {
				continue
			}
			_, ev, err := wire.Open(r.secret, f.payload, r.now(), r.skew)
			if err != nil {
				// Authentication failures drop silently per envelope policy.
				continue
			}
			deliver(ev)
			sinceAck++
			if sinceAck >= ackEvery {
				sinceAck = 0
				if err := writeFrame(conn, encodeAck(r.watermark())); err != nil {
					return err
				}
			}
		}
	}
}
