// Package bus defines the three event channels of the system and their
// in-process implementations. Every variant (local, redis pub/sub, websocket
// stream) presents the same contract: Publish is a non-blocking enqueue that
// reports failure instead of stalling the caller, and Events is the single
// consumer side.
//
// The engine goroutine is the only consumer of an InboundBus and the only
// producer of an OutboundBus; transports are the reverse. The InterEngineBus
// is produced and consumed by engine goroutines and coordinator workers.
package bus

import (
	"errors"

	"github.com/ambonmud/server/internal/event"
)

// ErrFull is returned when a bounded bus cannot accept another event.
var ErrFull = errors.New("bus: queue full")

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("bus: closed")

// InboundBus carries client and worker events toward an engine.
type InboundBus interface {
	Publish(ev event.Inbound) error
	Events() <-chan event.Inbound
	Close() error
}

// OutboundBus carries renderable events from an engine toward the gateway
// dispatcher that owns the sessions.
type OutboundBus interface {
	Publish(ev event.Outbound) error
	Events() <-chan event.Outbound
	Close() error
}

// InterEngineBus carries routing, handoff, and scaling traffic between
// engines (and gateway control planes).
type InterEngineBus interface {
	Publish(ev event.InterEngine) error
	Events() <-chan event.InterEngine
	Close() error
}
