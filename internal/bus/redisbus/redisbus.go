// Package redisbus is the pub/sub variant of the event buses. Every message
// is sealed in the signed wire envelope; subscribers drop anything with a bad
// MAC, an unknown version or tag, or a stale timestamp, and never redeliver
// their own messages.
//
// Channel layout:
//
//	ambon:cluster        broadcast inter-engine traffic (handoff, tells, scaling)
//	ambon:engine:<id>    unicast to one engine (routed inbound)
//	ambon:gateway:<id>   unicast to one gateway (routed outbound)
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/wire"
)

const Cluster = "ambon:cluster"

func EngineChannel(id string) string  { return "ambon:engine:" + id }
func GatewayChannel(id string) string { return "ambon:gateway:" + id }

// Stats counts what happened to messages on this node. Fields are read by
// the metrics collectors.
type Stats struct {
	Published       atomic.Uint64
	PublishFailures atomic.Uint64
	Received        atomic.Uint64
	DroppedMAC      atomic.Uint64
	DroppedStale    atomic.Uint64
	DroppedUnknown  atomic.Uint64
	SelfSkipped     atomic.Uint64
}

// Node is one participant (engine or gateway) in the pub/sub mesh.
type Node struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	secret []byte
	source string
	skew   time.Duration
	log    *zap.Logger
	stats  Stats

	now func() int64
}

// NewNode connects to Redis and verifies it with a ping. source must be
// unique per process (engine id or gateway id); it drives self-suppression.
func NewNode(ctx context.Context, addr, password string, secret []byte, source string, skew time.Duration, log *zap.Logger) (*Node, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisbus: ping %s: %w", addr, err)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redisbus:" + source,
		Timeout: 10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &Node{
		client: client,
		cb:     cb,
		secret: secret,
		source: source,
		skew:   skew,
		log:    log.With(zap.String("component", "redisbus")),
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Source returns this node's envelope source id.
func (n *Node) Source() string { return n.source }

// Stats exposes the node's counters.
func (n *Node) Stats() *Stats { return &n.stats }

// Close releases the Redis connection.
func (n *Node) Close() error { return n.client.Close() }

// Publish seals ev and publishes it to channel, retrying transient failures
// briefly. The breaker fails fast when Redis is down; callers run on pump
// goroutines, never on the engine thread.
func (n *Node) Publish(ctx context.Context, channel string, ev any) error {
	raw, err := wire.Seal(n.secret, n.source, n.now(), ev)
	if err != nil {
		return err
	}
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := n.cb.Execute(func() (any, error) {
			return nil, n.client.Publish(ctx, channel, raw).Err()
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return err // fail fast while the breaker is open
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		n.stats.PublishFailures.Add(1)
		return fmt.Errorf("redisbus: publish %s: %w", channel, err)
	}
	n.stats.Published.Add(1)
	return nil
}

// Run subscribes to channels and feeds verified events to sink until ctx is
// done. sink runs on the subscriber goroutine; it must only hand the event
// to a queue.
func (n *Node) Run(ctx context.Context, channels []string, sink func(env wire.Envelope, ev any)) error {
	pubsub := n.client.Subscribe(ctx, channels...)
	defer pubsub.Close()

	// Force the subscription before reporting ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redisbus: subscribe %v: %w", channels, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redisbus: subscription closed")
			}
			n.handle([]byte(msg.Payload), sink)
		}
	}
}

func (n *Node) handle(raw []byte, sink func(env wire.Envelope, ev any)) {
	env, ev, err := wire.Open(n.secret, raw, n.now(), n.skew)
	switch {
	case err == nil:
	case errors.Is(err, wire.ErrBadMAC):
		n.stats.DroppedMAC.Add(1)
		n.log.Warn("dropping message with bad mac", zap.String("source", env.Source))
		return
	case errors.Is(err, wire.ErrStale):
		n.stats.DroppedStale.Add(1)
		return
	default:
		n.stats.DroppedUnknown.Add(1)
		n.log.Warn("dropping undecodable message", zap.Error(err))
		return
	}
	if env.Source == n.source {
		n.stats.SelfSkipped.Add(1)
		return
	}
	n.stats.Received.Add(1)
	sink(env, ev)
}
