package redisbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/event"
)

// InterEngine implements bus.InterEngineBus over the pub/sub mesh. Publish
// enqueues; a pump goroutine (Run) seals and sends, picking a unicast
// channel when the event names its target and the cluster channel otherwise.
// Delivery is fed by the node's subscriber through Deliver.
type InterEngine struct {
	node  *Node
	pub   chan event.InterEngine
	local *bus.LocalInterEngine
}

func NewInterEngine(node *Node, queueSize int) *InterEngine {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &InterEngine{
		node:  node,
		pub:   make(chan event.InterEngine, queueSize),
		local: bus.NewLocalInterEngine(queueSize),
	}
}

func (b *InterEngine) Publish(ev event.InterEngine) error {
	select {
	case b.pub <- ev:
		return nil
	default:
		return bus.ErrFull
	}
}

func (b *InterEngine) Events() <-chan event.InterEngine { return b.local.Events() }

func (b *InterEngine) Close() error { return b.local.Close() }

// Deliver hands a verified incoming event to the consumer. Called from the
// node's subscriber sink.
func (b *InterEngine) Deliver(ev event.InterEngine) error { return b.local.Publish(ev) }

// Run drains the publish queue until ctx is done.
func (b *InterEngine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.pub:
			channel := Cluster
			switch m := ev.(type) {
			case event.RoutedInbound:
				channel = EngineChannel(m.TargetEngine)
			case event.RoutedOutbound:
				channel = GatewayChannel(m.TargetGateway)
			case event.HandoffPrepare:
				channel = EngineChannel(m.Ticket.ToEngine)
			case event.CrossEngineTell:
				channel = EngineChannel(m.TargetEngine)
			}
			if err := b.node.Publish(ctx, channel, ev); err != nil {
				b.node.log.Warn("inter-engine publish dropped", zap.Error(err))
			}
		}
	}
}
