package engine

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/bus/streambus"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/metrics"
	"github.com/ambonmud/server/internal/sid"
)

// GatewayLink is the engine side of the gateway streams: the streambus
// server, the HTTP listener the gateways dial, and the routing table that
// maps a session back to the gateway fronting it.
//
// Routing is learned, not configured. Every inbound event names its
// gateway, so the table stays current as long as a session talks. For a
// session that arrived by handoff and has not spoken yet, the sid's lease
// bits identify the gateway if any of its sessions came through before;
// failing that, the frame fans out to every attached gateway and the
// non-owners drop it.
type GatewayLink struct {
	srv     *streambus.Server
	inbound bus.InboundBus
	listen  string
	log     *zap.Logger

	mu      sync.Mutex
	bySid   map[sid.ID]string
	byLease map[uint16]string
}

func NewGatewayLink(cfg *config.Config, inbound bus.InboundBus, log *zap.Logger) *GatewayLink {
	l := &GatewayLink{
		inbound: inbound,
		listen:  cfg.Link.Listen,
		log:     log.With(zap.String("component", "link")),
		bySid:   make(map[sid.ID]string),
		byLease: make(map[uint16]string),
	}
	l.srv = streambus.NewServer(
		cfg.Server.EngineID,
		[]byte(cfg.Bus.SharedSecret),
		cfg.Bus.SkewWindow,
		cfg.Bus.QueueSize,
		cfg.Link.AckWindow,
		log,
	)
	l.srv.InboundSink = l.accept
	l.srv.OnReset = l.reset
	return l
}

// Run serves the stream endpoints until ctx is canceled.
func (l *GatewayLink) Run(ctx context.Context) error {
	srv := &http.Server{Addr: l.listen, Handler: l.srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	l.log.Info("gateway link listening", zap.String("addr", l.listen))

	select {
	case <-ctx.Done():
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shctx)
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

// accept runs on a stream read goroutine: learn the session's gateway,
// then enqueue for the input phase.
func (l *GatewayLink) accept(gateway string, ev event.Inbound) {
	switch e := ev.(type) {
	case event.Connected:
		l.mu.Lock()
		l.bySid[e.Sid] = gateway
		l.byLease[e.Sid.Lease()] = gateway
		l.mu.Unlock()
	case event.Disconnected:
		l.mu.Lock()
		delete(l.bySid, e.Sid)
		l.mu.Unlock()
	case event.LineReceived:
		l.note(e.Sid, gateway)
	case event.GmcpReceived:
		l.note(e.Sid, gateway)
	}
	if err := l.inbound.Publish(ev); err != nil {
		metrics.InboundDropped.Inc()
		l.log.Warn("inbound event dropped", zap.String("gateway", gateway), zap.Error(err))
	}
}

func (l *GatewayLink) note(id sid.ID, gateway string) {
	l.mu.Lock()
	if l.bySid[id] != gateway {
		l.bySid[id] = gateway
	}
	l.mu.Unlock()
}

// reset handles a gateway whose inbound stream lost continuity: the gateway
// restarted, so every session it fronted is gone. Synthesizing disconnects
// lets the normal cleanup path reclaim them.
func (l *GatewayLink) reset(gateway string) {
	l.mu.Lock()
	var orphans []sid.ID
	for id, gw := range l.bySid {
		if gw == gateway {
			orphans = append(orphans, id)
			delete(l.bySid, id)
		}
	}
	l.mu.Unlock()

	l.log.Warn("gateway stream reset", zap.String("gateway", gateway), zap.Int("sessions", len(orphans)))
	for _, id := range orphans {
		if err := l.inbound.Publish(event.Disconnected{Sid: id, Reason: "gateway reset"}); err != nil {
			l.log.Warn("reset disconnect dropped", zap.Uint64("sid", uint64(id)), zap.Error(err))
		}
	}
}

// Deliver routes one outbound event to the gateway owning its session.
// Called by the outbound pump goroutine.
func (l *GatewayLink) Deliver(ev event.Outbound) {
	id := ev.Session()
	gateway := l.resolve(id)

	if _, ok := ev.(event.SessionRedirect); ok {
		// The session now belongs to another engine; forget it after this
		// last frame.
		defer l.forget(id)
	}

	if gateway != "" {
		if err := l.srv.SendOutbound(gateway, ev); err != nil {
			metrics.OutboundDropped.Inc()
			l.log.Warn("outbound send failed",
				zap.Uint64("sid", uint64(id)),
				zap.String("gateway", gateway),
				zap.Error(err))
		}
		return
	}

	// Unknown owner: fan out. Gateways drop frames for sessions they do
	// not hold, so the only cost is bandwidth on the rare handoff race.
	for _, gw := range l.srv.Gateways() {
		_ = l.srv.SendOutbound(gw, ev)
	}
}

func (l *GatewayLink) resolve(id sid.ID) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gw, ok := l.bySid[id]; ok {
		return gw
	}
	if gw, ok := l.byLease[id.Lease()]; ok {
		l.bySid[id] = gw
		return gw
	}
	return ""
}

func (l *GatewayLink) forget(id sid.ID) {
	l.mu.Lock()
	delete(l.bySid, id)
	l.mu.Unlock()
}
