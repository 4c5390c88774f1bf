package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/coord"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/zone"
)

// countingCoord counts location-index reads going to the coordinator.
type countingCoord struct {
	coord.Coordinator
	reads int
}

func (c *countingCoord) PlayerEngine(ctx context.Context, nameLower string) (string, error) {
	c.reads++
	return c.Coordinator.PlayerEngine(ctx, nameLower)
}

func newTestRouter(crd coord.Coordinator, inter bus.InterEngineBus, now func() int64) *router {
	zones := zone.NewRegistry("engine-a", nil, nil, zap.NewNop())
	return newRouter("engine-a", zones, crd, inter, now, zap.NewNop())
}

func drainTells(inter *bus.LocalInterEngine) []event.CrossEngineTell {
	var out []event.CrossEngineTell
	for {
		select {
		case ev := <-inter.Events():
			if tell, ok := ev.(event.CrossEngineTell); ok {
				out = append(out, tell)
			}
		default:
			return out
		}
	}
}

func TestRouteTellCachesLocationReads(t *testing.T) {
	crd := &countingCoord{Coordinator: coord.NewMemory()}
	require.NoError(t, crd.SetPlayerEngine(context.Background(), "bob", "engine-b"))

	nowMs := int64(1_000_000)
	inter := bus.NewLocalInterEngine(16)
	r := newTestRouter(crd, inter, func() int64 { return nowMs })

	require.True(t, r.RouteTell("Ara", "bob", "hello"))
	require.True(t, r.RouteTell("Ara", "bob", "again"))
	assert.Equal(t, 1, crd.reads, "repeat tells inside the ttl reuse the cached location")

	nowMs += locCacheTTL.Milliseconds() + 1
	require.True(t, r.RouteTell("Ara", "bob", "later"))
	assert.Equal(t, 2, crd.reads, "a stale entry goes back to the coordinator")

	tells := drainTells(inter)
	require.Len(t, tells, 3)
	for _, tell := range tells {
		assert.Equal(t, "engine-b", tell.TargetEngine)
		assert.Equal(t, "bob", tell.ToNameLower)
	}
}

func TestRouteTellRefusesSelfAndUnknown(t *testing.T) {
	crd := &countingCoord{Coordinator: coord.NewMemory()}
	require.NoError(t, crd.SetPlayerEngine(context.Background(), "ara", "engine-a"))

	inter := bus.NewLocalInterEngine(16)
	r := newTestRouter(crd, inter, func() int64 { return 1_000_000 })

	assert.False(t, r.RouteTell("Bel", "ara", "hi"),
		"an index entry pointing here while the player is unattached means gone or mid-transfer")
	assert.False(t, r.RouteTell("Bel", "nobody", "hi"))
	assert.Empty(t, drainTells(inter))
}

func TestPlayerEngineWithoutCoordinator(t *testing.T) {
	inter := bus.NewLocalInterEngine(16)
	r := newTestRouter(nil, inter, func() int64 { return 0 })
	_, ok := r.PlayerEngine("anyone")
	assert.False(t, ok)
}

func TestIndexWritesQueueAndDrain(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Mode = config.ModeEngine
	crd := coord.NewMemory()
	e := &Engine{cfg: cfg, log: zap.NewNop(), crd: crd, indexQ: make(chan indexOp, 4)}

	// Enqueue is the only thing the tick path does.
	e.indexWrite("ara", "engine-a")
	e.indexWrite("bob", "engine-b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.pumpIndexWrites(ctx) // canceled context still drains what is queued

	got, err := crd.PlayerEngine(context.Background(), "ara")
	require.NoError(t, err)
	assert.Equal(t, "engine-a", got)
	got, err = crd.PlayerEngine(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "engine-b", got)
}
