// Package metrics exposes the server's Prometheus instruments.
//
// Naming convention: ambonmud_<subsystem>_<name>. Instruments are
// package-level promauto vars on the default registry; the engine loop and
// the transports record into them directly. Serve mounts the scrape
// endpoint when a metrics address is configured.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// TickDuration tracks wall time per engine tick. Buckets sized for a
	// 100ms tick: anything beyond the last bucket is a serious overrun.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ambonmud",
		Subsystem: "tick",
		Name:      "duration_seconds",
		Help:      "Wall time spent per engine tick",
		Buckets:   []float64{.005, .01, .025, .05, .075, .1, .15, .25, .5, 1},
	})

	// TickOverruns counts ticks whose work exceeded the tick interval.
	TickOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ambonmud",
		Subsystem: "tick",
		Name:      "overruns_total",
		Help:      "Ticks that exceeded the configured interval",
	})

	// Degraded is 1 while the overrun threshold is tripped.
	Degraded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ambonmud",
		Subsystem: "tick",
		Name:      "degraded",
		Help:      "1 while consecutive overruns exceed the threshold",
	})

	// InputExhausted counts input phases that hit the drain budget with
	// events still queued.
	InputExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ambonmud",
		Subsystem: "tick",
		Name:      "input_budget_exhausted_total",
		Help:      "Input phases cut short by the drain budget",
	})

	// Players tracks attached players on this engine.
	Players = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ambonmud",
		Subsystem: "engine",
		Name:      "players",
		Help:      "Players currently attached to this engine",
	})

	// Mobs tracks live mob instances on this engine.
	Mobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ambonmud",
		Subsystem: "engine",
		Name:      "mobs",
		Help:      "Live mob instances on this engine",
	})

	// OutboundDropped counts outbound events lost to a full bus.
	OutboundDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ambonmud",
		Subsystem: "bus",
		Name:      "outbound_dropped_total",
		Help:      "Outbound events dropped on a full bus",
	})

	// InboundDropped counts inbound events lost to a full bus.
	InboundDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ambonmud",
		Subsystem: "bus",
		Name:      "inbound_dropped_total",
		Help:      "Inbound events dropped on a full bus",
	})

	// HandoffOutcomes counts finished transfers by outcome.
	HandoffOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ambonmud",
		Subsystem: "handoff",
		Name:      "outcomes_total",
		Help:      "Session transfers by outcome",
	}, []string{"outcome"})

	// SchedDepth tracks timers waiting in the scheduler heap.
	SchedDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ambonmud",
		Subsystem: "sched",
		Name:      "depth",
		Help:      "Timers pending in the scheduler",
	})

	// Sessions tracks open client connections, labeled by transport.
	Sessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ambonmud",
		Subsystem: "gateway",
		Name:      "sessions",
		Help:      "Open client connections",
	}, []string{"proto"})

	// LoginQueue tracks login flows waiting on a worker step.
	LoginQueue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ambonmud",
		Subsystem: "engine",
		Name:      "logins_pending",
		Help:      "Login flows in progress",
	})

	// SaverPending tracks dirty records waiting for the next flush.
	SaverPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ambonmud",
		Subsystem: "persist",
		Name:      "save_pending",
		Help:      "Player records queued for the next save flush",
	})
)

// RegisterEnvelopeRejected exposes the verifier's drop count. The node
// keeps its own atomic counters; read sums them. Call at most once per
// process.
func RegisterEnvelopeRejected(read func() float64) {
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "ambonmud",
		Subsystem: "bus",
		Name:      "envelope_rejected_total",
		Help:      "Sealed envelopes dropped at verification",
	}, read)
}

// Serve runs the scrape endpoint until ctx is canceled. Blocks; callers run
// it in a group. A listen error is returned immediately.
func Serve(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("metrics listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shctx)
		return nil
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
