package bus

import (
	"sync"

	"github.com/ambonmud/server/internal/event"
)

// local is a bounded channel with close-once semantics, shared by the three
// typed wrappers below.
type local[T any] struct {
	ch     chan T
	mu     sync.Mutex
	closed bool
}

func newLocal[T any](size int) *local[T] {
	if size <= 0 {
		size = 1024
	}
	return &local[T]{ch: make(chan T, size)}
}

func (l *local[T]) publish(ev T) error {
	// The lock covers the send so a concurrent Close cannot close the
	// channel between the closed check and the enqueue. The send never
	// blocks under the lock; a full channel takes the default arm.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.ch <- ev:
		return nil
	default:
		return ErrFull
	}
}

func (l *local[T]) events() <-chan T { return l.ch }

func (l *local[T]) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	return nil
}

// LocalInbound is the in-process InboundBus.
type LocalInbound struct{ q *local[event.Inbound] }

func NewLocalInbound(size int) *LocalInbound {
	return &LocalInbound{q: newLocal[event.Inbound](size)}
}

func (b *LocalInbound) Publish(ev event.Inbound) error { return b.q.publish(ev) }
func (b *LocalInbound) Events() <-chan event.Inbound   { return b.q.events() }
func (b *LocalInbound) Close() error                   { return b.q.close() }

// LocalOutbound is the in-process OutboundBus.
type LocalOutbound struct{ q *local[event.Outbound] }

func NewLocalOutbound(size int) *LocalOutbound {
	return &LocalOutbound{q: newLocal[event.Outbound](size)}
}

func (b *LocalOutbound) Publish(ev event.Outbound) error { return b.q.publish(ev) }
func (b *LocalOutbound) Events() <-chan event.Outbound   { return b.q.events() }
func (b *LocalOutbound) Close() error                    { return b.q.close() }

// LocalInterEngine is the in-process InterEngineBus. In standalone mode it is
// a loop with no peers; tests pair two of them to simulate a cluster.
type LocalInterEngine struct{ q *local[event.InterEngine] }

func NewLocalInterEngine(size int) *LocalInterEngine {
	return &LocalInterEngine{q: newLocal[event.InterEngine](size)}
}

func (b *LocalInterEngine) Publish(ev event.InterEngine) error { return b.q.publish(ev) }
func (b *LocalInterEngine) Events() <-chan event.InterEngine   { return b.q.events() }
func (b *LocalInterEngine) Close() error                       { return b.q.close() }
