// Package net holds the client transports: a telnet adapter and a websocket
// adapter. Both decode client traffic into inbound events, post them to a
// Sink, and drain a bounded per-session outbound queue from their writer
// goroutine. Game state is never touched here; the engine goroutine owns it.
package net

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/metrics"
	"github.com/ambonmud/server/internal/sid"
)

// Sink receives decoded inbound events from a transport. In standalone mode
// it is the engine's inbound bus; in gateway mode it is the stream router.
type Sink interface {
	Post(ev event.Inbound)
}

// BusSink posts transport events straight onto a local inbound bus.
type BusSink struct {
	Bus bus.InboundBus
	Log *zap.Logger
}

func (s BusSink) Post(ev event.Inbound) {
	if err := s.Bus.Publish(ev); err != nil {
		metrics.InboundDropped.Inc()
		s.Log.Warn("inbound event dropped", zap.Error(err))
	}
}

// Session is one live client connection. The transport's reader goroutine
// decodes events; its writer goroutine drains the queue. Enqueue is called
// only from the dispatcher goroutine and never blocks: a client whose queue
// stays full past the grace window is cut loose.
type Session struct {
	ID     sid.ID
	Proto  string // "telnet" or "websocket"
	Remote string

	queue   chan event.Outbound
	closeCh chan struct{}
	once    sync.Once
	closed  atomic.Bool
	hangup  func() // closes the underlying conn, unblocking the reader

	grace     time.Duration
	fullSince time.Time // dispatcher goroutine only

	log *zap.Logger
}

func newSession(id sid.ID, proto, remote string, queueSize int, grace time.Duration, hangup func(), log *zap.Logger) *Session {
	return &Session{
		ID:      id,
		Proto:   proto,
		Remote:  remote,
		queue:   make(chan event.Outbound, queueSize),
		closeCh: make(chan struct{}),
		hangup:  hangup,
		grace:   grace,
		log:     log.With(zap.Uint64("sid", uint64(id))),
	}
}

// Enqueue hands an outbound event to the writer goroutine. When the queue is
// full the event is dropped; if the queue has been full for longer than the
// grace window the session is closed as a slow consumer.
func (s *Session) Enqueue(ev event.Outbound, now time.Time) {
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- ev:
		s.fullSince = time.Time{}
	default:
		metrics.OutboundDropped.Inc()
		if _, isClose := ev.(event.Close); isClose {
			// Flush forfeited: a close must land even on a jammed queue.
			s.Close()
			return
		}
		if s.fullSince.IsZero() {
			s.fullSince = now
			return
		}
		if now.Sub(s.fullSince) >= s.grace {
			s.log.Warn("outbound queue full past grace, dropping slow client",
				zap.Duration("grace", s.grace))
			s.Close()
		}
	}
}

// Close shuts the session down. Safe to call from any goroutine, any number
// of times. The reader goroutine notices the dead conn and posts the
// Disconnected event.
func (s *Session) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		if s.hangup != nil {
			s.hangup()
		}
	})
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Table is the registry of live sessions, shared by the transports (which
// add and remove) and the dispatcher (which looks up targets).
type Table struct {
	mu       sync.RWMutex
	sessions map[sid.ID]*Session
}

func NewTable() *Table {
	return &Table{sessions: make(map[sid.ID]*Session)}
}

func (t *Table) Add(s *Session) {
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.mu.Unlock()
	metrics.Sessions.WithLabelValues(s.Proto).Inc()
}

// Remove drops the session from the table. Returns the removed session, or
// nil when the id was already gone.
func (t *Table) Remove(id sid.ID) *Session {
	t.mu.Lock()
	s := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()
	if s != nil {
		metrics.Sessions.WithLabelValues(s.Proto).Dec()
	}
	return s
}

func (t *Table) Get(id sid.ID) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Each visits every live session. The callback must not call back into the
// table.
func (t *Table) Each(fn func(*Session)) {
	t.mu.RLock()
	snapshot := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		snapshot = append(snapshot, s)
	}
	t.mu.RUnlock()
	for _, s := range snapshot {
		fn(s)
	}
}
