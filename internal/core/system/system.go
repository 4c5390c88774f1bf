package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput     Phase = iota // 0: drain inbound events under budget
	PhaseScheduled              // 1: due timers (respawns, invite sweeps)
	PhaseRegen                  // 2: HP/mana recovery
	PhaseEffects                // 3: periodic effect ticks + expiry
	PhaseBehavior               // 4: mob scripts, wander, aggro
	PhaseCombat                 // 5: swing resolution, deaths, XP
	PhaseAbilities              // 6: queued casts
	PhaseFlush                  // 7: dirty-set fan-out
	PhaseOutput                 // 8: prompt coalescing + outbound publish
)

// System is one stage of the tick pipeline.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
