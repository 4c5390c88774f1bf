package system

import (
	"time"

	coresys "github.com/ambonmud/server/internal/core/system"
	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

// FlushSystem drains the dirty sets into GMCP frames once all simulation
// phases have run, so each session sees at most one frame per package per
// tick no matter how many systems touched it. Phase 7.
type FlushSystem struct {
	deps *handler.Deps
}

func NewFlushSystem(deps *handler.Deps) *FlushSystem {
	return &FlushSystem{deps: deps}
}

func (s *FlushSystem) Phase() coresys.Phase { return coresys.PhaseFlush }

func (s *FlushSystem) Update(_ time.Duration) {
	st := s.deps.World

	// Vitals, and the group rosters those vitals appear in.
	groups := make(map[string]*world.Group)
	st.Dirty.PlayerVitals.Drain(func(id sid.ID) {
		p := st.Player(id)
		if p == nil {
			return
		}
		pkg, body := gmcp.CharVitals(p)
		s.deps.Out.Gmcp(id, pkg, body)
		if g := st.Groups.Of(id); g != nil {
			groups[g.ID] = g
		}
	})

	st.Dirty.PlayerStatus.Drain(func(id sid.ID) {
		p := st.Player(id)
		if p == nil {
			return
		}
		pkg, body := gmcp.CharStatus(p)
		s.deps.Out.Gmcp(id, pkg, body)
	})

	// Membership changes marked by the group handlers.
	st.Dirty.GroupInfo.Drain(func(gid string) {
		if g := st.Groups.ByID(gid); g != nil {
			groups[gid] = g
		}
	})
	for _, g := range groups {
		pkg, body := gmcp.GroupInfo(st, g)
		for _, id := range g.Members {
			s.deps.Out.Gmcp(id, pkg, body)
		}
	}

	// Mob HP batched by room: one frame per room, fanned to occupants.
	rooms := make(map[string]struct{})
	st.Dirty.MobHP.Drain(func(mobID string) {
		if m := st.Mob(mobID); m != nil {
			rooms[m.RoomID] = struct{}{}
		}
	})
	for room := range rooms {
		players := st.PlayersInRoom(room)
		if len(players) == 0 {
			continue
		}
		pkg, body := gmcp.RoomMobs(st, room)
		for _, p := range players {
			s.deps.Out.Gmcp(p.Sid, pkg, body)
		}
	}
}

// OutputSystem closes each tick by releasing the coalesced prompts.
// A session that accumulated five prompt-worthy moments this tick still
// sees exactly one prompt frame. Phase 8.
type OutputSystem struct {
	deps *handler.Deps
}

func NewOutputSystem(deps *handler.Deps) *OutputSystem {
	return &OutputSystem{deps: deps}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.deps.Out.FlushPrompts()
}
