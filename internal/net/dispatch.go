package net

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/event"
)

// Dispatcher fans outbound events into per-session queues. It is the single
// goroutine allowed to call Session.Enqueue, which keeps the slow-consumer
// bookkeeping lock-free.
type Dispatcher struct {
	table *Table
	log   *zap.Logger
}

func NewDispatcher(table *Table, log *zap.Logger) *Dispatcher {
	return &Dispatcher{table: table, log: log.With(zap.String("component", "dispatch"))}
}

// Run consumes events until the channel closes or the context ends. On the
// way out it drains what is already queued, so the engine's final Close
// events still reach their clients, then shuts every remaining session.
func (d *Dispatcher) Run(ctx context.Context, events <-chan event.Outbound) error {
	for {
		select {
		case <-ctx.Done():
			d.drain(events)
			d.table.Each(func(s *Session) { s.Close() })
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				d.table.Each(func(s *Session) { s.Close() })
				return nil
			}
			d.Deliver(ev)
		}
	}
}

func (d *Dispatcher) drain(events <-chan event.Outbound) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Deliver(ev)
		default:
			return
		}
	}
}

// Deliver routes one event to its session. Events for sessions that already
// went away lose the race against the disconnect and are dropped silently.
func (d *Dispatcher) Deliver(ev event.Outbound) {
	s := d.table.Get(ev.Session())
	if s == nil {
		return
	}
	s.Enqueue(ev, time.Now())
}
