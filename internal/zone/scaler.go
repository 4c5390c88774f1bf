package zone

import (
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/event"
)

// Scaler watches per-zone populations and emits scale decisions with
// threshold hysteresis: a zone must sit above the high-water mark for the
// whole sustain window before scaling up, and below the low-water mark
// for the whole cooldown window before scaling down. A zone never drops
// below one instance.
type Scaler struct {
	cfg config.ZonesConfig
	now func() int64
	log *zap.Logger

	overSince  map[string]int64
	underSince map[string]int64
	instances  map[string]int
}

func NewScaler(cfg config.ZonesConfig, now func() int64, log *zap.Logger) *Scaler {
	return &Scaler{
		cfg:        cfg,
		now:        now,
		log:        log,
		overSince:  make(map[string]int64),
		underSince: make(map[string]int64),
		instances:  make(map[string]int),
	}
}

// Instances reports the scaler's current target for a zone.
func (s *Scaler) Instances(zone string) int {
	if n := s.instances[zone]; n > 0 {
		return n
	}
	return 1
}

// Observe feeds one population sample. Returns a decision when a
// threshold has been sustained long enough, nil otherwise.
func (s *Scaler) Observe(zone string, count int) *event.ScaleDecision {
	nowMs := s.now()
	cur := s.Instances(zone)

	perInstance := count
	if cur > 1 {
		perInstance = count / cur
	}

	if perInstance > s.cfg.HighWater {
		delete(s.underSince, zone)
		since, ok := s.overSince[zone]
		if !ok {
			s.overSince[zone] = nowMs
			return nil
		}
		if nowMs-since < s.cfg.SustainWindow.Milliseconds() {
			return nil
		}
		delete(s.overSince, zone)
		if cur >= s.cfg.MaxInstances {
			return nil
		}
		s.instances[zone] = cur + 1
		s.log.Info("zone scale up",
			zap.String("zone", zone),
			zap.Int("players", count),
			zap.Int("instances", cur+1))
		return &event.ScaleDecision{Zone: zone, Direction: "up", Instances: cur + 1}
	}

	if perInstance < s.cfg.LowWater {
		delete(s.overSince, zone)
		since, ok := s.underSince[zone]
		if !ok {
			s.underSince[zone] = nowMs
			return nil
		}
		if nowMs-since < s.cfg.CooldownWindow.Milliseconds() {
			return nil
		}
		delete(s.underSince, zone)
		if cur <= 1 {
			return nil
		}
		s.instances[zone] = cur - 1
		s.log.Info("zone scale down",
			zap.String("zone", zone),
			zap.Int("players", count),
			zap.Int("instances", cur-1))
		return &event.ScaleDecision{Zone: zone, Direction: "down", Instances: cur - 1}
	}

	// Inside the band: both timers reset.
	delete(s.overSince, zone)
	delete(s.underSince, zone)
	return nil
}
