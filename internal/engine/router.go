package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/coord"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/zone"
)

// indexTimeout bounds the location-index read a tell performs. Runs on the
// engine goroutine, so it stays short.
const indexTimeout = 50 * time.Millisecond

// locCacheTTL is how long a location-index answer is reused before asking
// the coordinator again. Handoffs rewrite the index on commit, so the
// staleness window only risks a dropped tell mid-transfer; what it buys is
// at most one coordinator round-trip per target name per window, no matter
// how tell-heavy a tick gets.
const locCacheTTL = 2 * time.Second

const locCacheMax = 1024

type locEntry struct {
	engine  string
	ok      bool
	staleMs int64
}

// router resolves cross-engine destinations for the handlers. Zone
// ownership goes through the registry's cache; player location reads go to
// the coordinator behind a short-TTL cache.
type router struct {
	self  string
	zones *zone.Registry
	coord coord.Coordinator
	inter bus.InterEngineBus
	now   func() int64
	log   *zap.Logger

	loc map[string]locEntry
}

func newRouter(self string, zones *zone.Registry, c coord.Coordinator, inter bus.InterEngineBus, now func() int64, log *zap.Logger) *router {
	return &router{
		self:  self,
		zones: zones,
		coord: c,
		inter: inter,
		now:   now,
		log:   log.With(zap.String("component", "router")),
		loc:   make(map[string]locEntry),
	}
}

func (r *router) OwnerEngine(zoneName string) (string, bool) {
	return r.zones.Owner(zoneName)
}

// RouteTell forwards a tell to the engine the index places the target on.
// False means the target is not known anywhere (or this node has no peers).
func (r *router) RouteTell(fromName, toNameLower, text string) bool {
	if r.inter == nil {
		return false
	}
	engineID, ok := r.PlayerEngine(toNameLower)
	if !ok || engineID == r.self {
		// An index entry pointing here while the player is not attached
		// means they are mid-transfer or just left; treat as gone.
		return false
	}
	ev := event.CrossEngineTell{
		TargetEngine: engineID,
		FromName:     fromName,
		ToNameLower:  toNameLower,
		Text:         text,
	}
	if err := r.inter.Publish(ev); err != nil {
		r.log.Warn("tell forward failed", zap.String("engine", engineID), zap.Error(err))
		return false
	}
	return true
}

// PlayerEngine reads the location index, serving repeats from the cache
// until the entry goes stale. Errors are never cached.
func (r *router) PlayerEngine(nameLower string) (string, bool) {
	if r.coord == nil {
		return "", false
	}
	now := r.now()
	if e, hit := r.loc[nameLower]; hit && now < e.staleMs {
		return e.engine, e.ok
	}
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()
	engineID, err := r.coord.PlayerEngine(ctx, nameLower)
	if err != nil {
		r.log.Debug("location index read failed", zap.String("name", nameLower), zap.Error(err))
		return "", false
	}
	if len(r.loc) >= locCacheMax {
		r.loc = make(map[string]locEntry)
	}
	r.loc[nameLower] = locEntry{
		engine:  engineID,
		ok:      engineID != "",
		staleMs: now + locCacheTTL.Milliseconds(),
	}
	return engineID, engineID != ""
}
