// Package system holds the tick pipeline: each stage is a System with a
// fixed Phase, registered on the core runner and executed in order every
// tick. All systems run on the engine goroutine and share the world state
// without locks.
package system

import (
	"container/heap"
	"time"

	"go.uber.org/zap"

	coresys "github.com/ambonmud/server/internal/core/system"
)

// ScheduledAction is one deferred unit of work.
type ScheduledAction struct {
	RunAtMs int64
	Kind    string
	Fn      func()

	seq uint64 // insertion order, breaks RunAtMs ties
}

// actionHeap orders by RunAtMs, then insertion.
type actionHeap []*ScheduledAction

func (h actionHeap) Len() int { return len(h) }
func (h actionHeap) Less(i, j int) bool {
	if h[i].RunAtMs != h[j].RunAtMs {
		return h[i].RunAtMs < h[j].RunAtMs
	}
	return h[i].seq < h[j].seq
}
func (h actionHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *actionHeap) Push(x any)        { *h = append(*h, x.(*ScheduledAction)) }
func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// SchedulerSystem runs delayed actions: respawns, invite sweeps, door
// auto-close, handoff timeouts. Drain is capped per tick; actions past the
// cap stay queued for the next tick. Overload detection is O(1): queue
// depth plus a counter of actions drained more than one tick late. Phase 1.
type SchedulerSystem struct {
	now        func() int64
	maxPerTick int
	lateAfter  int64 // ms past RunAtMs before a drain counts as late
	log        *zap.Logger

	heap actionHeap
	seq  uint64
	late uint64
}

func NewSchedulerSystem(now func() int64, maxPerTick int, tick time.Duration, log *zap.Logger) *SchedulerSystem {
	if maxPerTick <= 0 {
		maxPerTick = 128
	}
	return &SchedulerSystem{
		now:        now,
		maxPerTick: maxPerTick,
		lateAfter:  tick.Milliseconds(),
		log:        log.With(zap.String("component", "sched")),
	}
}

func (s *SchedulerSystem) Phase() coresys.Phase { return coresys.PhaseScheduled }

// Schedule queues fn to run at or after runAtMs. Implements
// handler.Scheduler.
func (s *SchedulerSystem) Schedule(runAtMs int64, kind string, fn func()) {
	s.seq++
	heap.Push(&s.heap, &ScheduledAction{RunAtMs: runAtMs, Kind: kind, Fn: fn, seq: s.seq})
}

func (s *SchedulerSystem) Update(_ time.Duration) {
	now := s.now()
	for _, a := range s.DrainDue(now, s.maxPerTick) {
		a.Fn()
	}
}

// DrainDue pops up to max due actions in (RunAtMs, insertion) order.
func (s *SchedulerSystem) DrainDue(nowMs int64, max int) []*ScheduledAction {
	var out []*ScheduledAction
	for len(s.heap) > 0 && len(out) < max {
		next := s.heap[0]
		if next.RunAtMs > nowMs {
			break
		}
		heap.Pop(&s.heap)
		if nowMs-next.RunAtMs > s.lateAfter {
			s.late++
		}
		out = append(out, next)
	}
	return out
}

// Len reports how many actions are queued.
func (s *SchedulerSystem) Len() int { return len(s.heap) }

// LateDrained reports how many actions have ever run more than one tick
// behind schedule. The pair (Len, LateDrained) is the whole overload
// signal; nothing here scans the queue.
func (s *SchedulerSystem) LateDrained() uint64 { return s.late }
