// Package gateway runs the session-terminating edge of a cluster. It owns
// the client transports, pins every session to an engine, and carries the
// traffic over per-engine stream links. Gateways hold no game state: a
// session's engine assignment is the only thing they remember, and even that
// is rebuilt from SessionRedirect events as handoffs commit.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/bus/streambus"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/coord"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/metrics"
	"github.com/ambonmud/server/internal/net"
	"github.com/ambonmud/server/internal/sid"
)

const allocDriftTolerance = 2 * time.Second

// leaseRefresher is implemented by coordinators whose leases expire.
type leaseRefresher interface {
	RefreshLease(ctx context.Context, lease uint16) error
}

// Gateway terminates client connections and bridges them to engines.
type Gateway struct {
	cfg   *config.Config
	log   *zap.Logger
	crd   coord.Coordinator
	lease uint16
	alloc *sid.Allocator

	table *net.Table
	disp  *net.Dispatcher
	out   bus.OutboundBus

	clients map[string]*streambus.Client // engine id -> stream link

	mu     sync.RWMutex
	routes map[sid.ID]string // session -> owning engine
}

// New acquires a gateway lease and builds the stream links. The lease seeds
// the session id allocator, so ids minted here are unique cluster-wide.
func New(ctx context.Context, cfg *config.Config, crd coord.Coordinator, log *zap.Logger) (*Gateway, error) {
	lease, err := crd.AcquireLease(ctx, cfg.Server.GatewayID)
	if err != nil {
		return nil, fmt.Errorf("gateway: acquire lease: %w", err)
	}
	log = log.With(zap.String("gateway", cfg.Server.GatewayID))

	g := &Gateway{
		cfg:     cfg,
		log:     log,
		crd:     crd,
		lease:   lease,
		alloc:   sid.NewAllocator(lease, allocDriftTolerance),
		table:   net.NewTable(),
		out:     bus.NewLocalOutbound(cfg.Bus.QueueSize),
		clients: make(map[string]*streambus.Client, len(cfg.Link.Engines)),
		routes:  make(map[sid.ID]string),
	}
	g.disp = net.NewDispatcher(g.table, log)

	for engineID, addr := range cfg.Link.Engines {
		cl := streambus.NewClient(streambus.ClientConfig{
			GatewayID:   cfg.Server.GatewayID,
			EngineID:    engineID,
			Addr:        addr,
			Secret:      []byte(cfg.Bus.SharedSecret),
			Skew:        cfg.Bus.SkewWindow,
			QueueSize:   cfg.Link.QueueSize,
			AckWindow:   cfg.Link.AckWindow,
			BackoffBase: cfg.Link.BackoffBase,
			BackoffCap:  cfg.Link.BackoffCap,
		}, log)
		engineID := engineID
		cl.Deliver = func(ev event.Outbound) { g.deliver(engineID, ev) }
		cl.OnReset = func() {
			// Unacknowledged outbound frames are gone; sessions stay up and
			// the next flush repaints them.
			g.log.Warn("engine reset outbound stream", zap.String("engine", engineID))
		}
		g.clients[engineID] = cl
	}
	return g, nil
}

// Run blocks until the context ends or a member fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.log.Info("gateway running",
		zap.Uint16("lease", g.lease),
		zap.Int("engines", len(g.clients)),
		zap.String("default_engine", g.cfg.Link.DefaultEngine))

	grp, gctx := errgroup.WithContext(ctx)

	telnet := net.NewTelnetServer(g.cfg.Network, g.cfg.Server.Name, g.alloc, g, g.table, g.log)
	ws := net.NewWebsocketServer(g.cfg.Network, g.cfg.Server.Name, g.alloc, g, g.table, g.log)
	grp.Go(func() error { return telnet.Run(gctx) })
	grp.Go(func() error { return ws.Run(gctx) })
	grp.Go(func() error { return g.disp.Run(gctx, g.out.Events()) })
	for _, cl := range g.clients {
		cl := cl
		grp.Go(func() error { return cl.Run(gctx) })
	}
	if r, ok := g.crd.(leaseRefresher); ok {
		grp.Go(func() error { return g.refreshLease(gctx, r) })
	}
	if g.cfg.Metrics.Address != "" {
		grp.Go(func() error { return metrics.Serve(gctx, g.cfg.Metrics.Address, g.log) })
	}

	err := grp.Wait()
	g.release()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Post routes one transport event to the session's engine. Implements
// net.Sink; called from transport reader goroutines.
func (g *Gateway) Post(ev event.Inbound) {
	var id sid.ID
	switch ev := ev.(type) {
	case event.Connected:
		id = ev.Sid
		g.assign(id, g.cfg.Link.DefaultEngine)
	case event.Disconnected:
		id = ev.Sid
		defer g.forget(id)
	case event.LineReceived:
		id = ev.Sid
	case event.GmcpReceived:
		id = ev.Sid
	default:
		return // engine-local kinds never originate at a transport
	}

	engine := g.routeOf(id)
	cl := g.clients[engine]
	if cl == nil {
		cl = g.clients[g.cfg.Link.DefaultEngine]
	}
	if cl == nil {
		metrics.InboundDropped.Inc()
		g.log.Warn("no engine link for session", zap.Uint64("sid", uint64(id)))
		return
	}
	if err := cl.SendInbound(ev); err != nil {
		metrics.InboundDropped.Inc()
		g.log.Warn("inbound event dropped", zap.String("engine", engine), zap.Error(err))
	}
}

// deliver handles one outbound event from an engine link. SessionRedirect is
// gateway control traffic: it rewires the route and is never rendered.
func (g *Gateway) deliver(fromEngine string, ev event.Outbound) {
	if rd, ok := ev.(event.SessionRedirect); ok {
		g.assign(rd.Sid, rd.ToEngine)
		g.log.Info("session rerouted",
			zap.Uint64("sid", uint64(rd.Sid)),
			zap.String("from", fromEngine),
			zap.String("to", rd.ToEngine))
		return
	}
	// Non-owners fan out during handoff races; only the route holder renders.
	if g.table.Get(ev.Session()) == nil {
		return
	}
	if err := g.out.Publish(ev); err != nil {
		metrics.OutboundDropped.Inc()
		g.log.Warn("outbound event dropped", zap.Error(err))
	}
}

func (g *Gateway) assign(id sid.ID, engine string) {
	g.mu.Lock()
	g.routes[id] = engine
	g.mu.Unlock()
}

func (g *Gateway) forget(id sid.ID) {
	g.mu.Lock()
	delete(g.routes, id)
	g.mu.Unlock()
}

func (g *Gateway) routeOf(id sid.ID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.routes[id]
}

// refreshLease keeps the lease alive at a third of its TTL. Losing the lease
// would let the coordinator hand our id space to another gateway.
func (g *Gateway) refreshLease(ctx context.Context, r leaseRefresher) error {
	ttl := g.cfg.Coordinator.LeaseTTL
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RefreshLease(ctx, g.lease); err != nil {
				g.log.Error("lease refresh failed", zap.Error(err))
			}
		}
	}
}

func (g *Gateway) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.crd.ReleaseLease(ctx, g.lease); err != nil {
		g.log.Warn("lease release failed", zap.Error(err))
	}
	g.out.Close()
}
