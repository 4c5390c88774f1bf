// Package zone resolves which engine owns a zone and which instance of
// that engine a session should land on, and watches zone populations for
// scale signals. Ownership starts from the static config map; when a
// coordinator is wired its answers win, with the static map as the
// fallback while the coordinator is unreachable.
package zone

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/coord"
)

const (
	ownerCacheTTL = 5 * time.Second
	lookupTimeout = 50 * time.Millisecond
)

// Instance selection policies.
const (
	PolicyLeastLoaded = "least_loaded"
	PolicySticky      = "sticky"
)

type cachedOwner struct {
	engine    string
	fetchedAt time.Time
}

// Registry answers owner and instance queries. Engine goroutine only;
// coordinator lookups are bounded by a short timeout and cached, so a
// slow coordinator degrades to stale-but-serviceable answers instead of
// stalling the tick.
type Registry struct {
	self   string
	static map[string]string
	coord  coord.Coordinator // nil in standalone
	log    *zap.Logger

	owners map[string]cachedOwner
}

func NewRegistry(self string, static map[string]string, c coord.Coordinator, log *zap.Logger) *Registry {
	return &Registry{
		self:   self,
		static: static,
		coord:  c,
		log:    log,
		owners: make(map[string]cachedOwner),
	}
}

// Owner names the engine owning the zone and whether that is this engine.
// Unmapped zones belong to whoever is asking.
func (r *Registry) Owner(zone string) (string, bool) {
	engine := r.lookupOwner(zone)
	if engine == "" {
		engine = r.self
	}
	return engine, engine == r.self
}

func (r *Registry) lookupOwner(zone string) string {
	if r.coord == nil {
		return r.static[zone]
	}
	if c, ok := r.owners[zone]; ok && time.Since(c.fetchedAt) < ownerCacheTTL {
		return c.engine
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	engine, err := r.coord.ZoneOwner(ctx, zone)
	if err != nil || engine == "" {
		if err != nil {
			r.log.Debug("zone owner lookup failed, using static map",
				zap.String("zone", zone), zap.Error(err))
		}
		engine = r.static[zone]
	}
	r.owners[zone] = cachedOwner{engine: engine, fetchedAt: time.Now()}
	return engine
}

// Announce claims ownership of the zones this engine hosts, so other
// engines resolve them here.
func (r *Registry) Announce(ctx context.Context, zones []string) {
	if r.coord == nil {
		return
	}
	for _, z := range zones {
		if err := r.coord.SetZoneOwner(ctx, z, r.self); err != nil {
			r.log.Warn("zone announce failed", zap.String("zone", z), zap.Error(err))
		}
	}
}

// SelectInstance picks an instance of a zone for a joining session.
// prior is the session's previous instance ("" when none); avoid is an
// instance to spread away from, used to keep a party's members off the
// leader's box when the policy allows.
func (r *Registry) SelectInstance(zone, policy, prior, avoid string) string {
	counts := r.instances(zone)
	if len(counts) == 0 {
		return ""
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if policy == PolicySticky && prior != "" {
		if _, ok := counts[prior]; ok {
			return prior
		}
	}
	best := ""
	for _, id := range ids {
		if id == avoid && len(ids) > 1 {
			continue
		}
		if best == "" || counts[id] < counts[best] {
			best = id
		}
	}
	if best == "" {
		best = ids[0]
	}
	return best
}

func (r *Registry) instances(zone string) map[string]int {
	if r.coord == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	counts, err := r.coord.Instances(ctx, zone)
	if err != nil {
		r.log.Debug("instance lookup failed", zap.String("zone", zone), zap.Error(err))
		return nil
	}
	return counts
}
