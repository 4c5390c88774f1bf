package handoff

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/content"
	corevent "github.com/ambonmud/server/internal/core/event"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

const ackTimeout = 2 * time.Second

// side is one engine's half of a transfer: its own world, buses, and
// manager, with a manual clock and recording fakes for the systems the
// manager touches.
type side struct {
	t *testing.T

	nowMs  int64
	outBus *bus.LocalOutbound
	inter  *bus.LocalInterEngine
	deps   *handler.Deps
	sched  *fakeSched
	combat *fakeCombat
	fx     *fakeEffects
	mgr    *Manager

	dispatched []string
	indexed    map[string]string
}

func newSide(t *testing.T, engineID string) *side {
	t.Helper()
	w, err := content.Load(filepath.Join("..", "content", "testdata", "world"))
	require.NoError(t, err)

	s := &side{
		t:       t,
		nowMs:   1_000_000,
		outBus:  bus.NewLocalOutbound(1024),
		inter:   bus.NewLocalInterEngine(64),
		sched:   &fakeSched{},
		combat:  &fakeCombat{},
		fx:      &fakeEffects{},
		indexed: make(map[string]string),
	}
	log := zap.NewNop()
	s.deps = &handler.Deps{
		Log:     log,
		World:   world.NewState(w, 5, 60_000),
		Content: w,
		Out:     bus.NewOutput(s.outBus, log),
		Bus:     corevent.NewBus(),
		Now:     func() int64 { return s.nowMs },
		Combat:  s.combat,
		Effects: s.fx,
		Sched:   s.sched,
	}
	s.mgr = NewManager(s.deps, s.inter, engineID, ackTimeout, s.deps.Now, log)
	s.mgr.Dispatch = func(_ *world.Player, line string) {
		s.dispatched = append(s.dispatched, line)
	}
	s.mgr.IndexWrite = func(name, engine string) { s.indexed[name] = engine }
	return s
}

func (s *side) addPlayer(name, room string) *world.Player {
	s.t.Helper()
	p := world.NewPlayer(sid.ID(uint64(len(name))<<16|7), name)
	p.RoomID = room
	p.Race, p.Class, p.Level = "human", "warrior", 3
	p.HP, p.MaxHP, p.BaseMaxHP = 25, 30, 30
	p.Mana, p.MaxMana = 10, 10
	p.Str, p.Dex, p.Con, p.Int, p.Wis, p.Cha = 10, 10, 10, 10, 10, 10
	require.NoError(s.t, s.deps.World.Connect(p))
	return p
}

func (s *side) drainOut() []event.Outbound {
	var out []event.Outbound
	for {
		select {
		case ev := <-s.outBus.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (s *side) drainInter() []event.InterEngine {
	var out []event.InterEngine
	for {
		select {
		case ev := <-s.inter.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func textsIn(events []event.Outbound, id sid.ID) []string {
	var lines []string
	for _, ev := range events {
		if txt, ok := ev.(event.SendText); ok && txt.Sid == id {
			lines = append(lines, txt.Text)
		}
	}
	return lines
}

func hasText(events []event.Outbound, id sid.ID, want string) bool {
	for _, l := range textsIn(events, id) {
		if l == want {
			return true
		}
	}
	return false
}

// prepareOf pulls the single HandoffPrepare a Depart published.
func prepareOf(t *testing.T, events []event.InterEngine) event.HandoffPrepare {
	t.Helper()
	for _, ev := range events {
		if p, ok := ev.(event.HandoffPrepare); ok {
			return p
		}
	}
	t.Fatal("no HandoffPrepare published")
	return event.HandoffPrepare{}
}

func TestDepartPublishesPrepareAndBuffers(t *testing.T) {
	a := newSide(t, "engine-a")
	p := a.addPlayer("alice", "keep:yard")

	require.True(t, a.mgr.Depart(p, "wild:trail", "engine-b"))
	assert.True(t, a.mgr.Pending(p.Sid))

	prep := prepareOf(t, a.drainInter())
	assert.Equal(t, p.Sid, prep.Ticket.Sid)
	assert.Equal(t, "engine-a", prep.Ticket.FromEngine)
	assert.Equal(t, "engine-b", prep.Ticket.ToEngine)
	assert.Equal(t, "wild:trail", prep.Ticket.TargetRoom)
	assert.Equal(t, "alice", prep.Ticket.State.Name)
	assert.Equal(t, 25, prep.Ticket.State.HP)

	// A second depart for the same session must not double-send.
	assert.False(t, a.mgr.Depart(p, "wild:trail", "engine-b"))

	// Lines typed mid-transfer are held, not dispatched.
	assert.True(t, a.mgr.Buffer(p.Sid, "look"))
	assert.Empty(t, a.dispatched)
}

func TestAckTimeoutRollsBackInPlace(t *testing.T) {
	a := newSide(t, "engine-a")
	p := a.addPlayer("alice", "keep:yard")
	a.deps.World.SpawnItem(a.deps.Content.Items.Get("club"), world.InvLoc(p.Sid))

	require.True(t, a.mgr.Depart(p, "wild:trail", "engine-b"))
	a.drainInter()
	a.drainOut()
	require.True(t, a.mgr.Buffer(p.Sid, "say anyone there?"))

	// No ack arrives; the scheduled timeout fires.
	a.nowMs += ackTimeout.Milliseconds()
	a.sched.fire("handoff-timeout")

	assert.False(t, a.mgr.Pending(p.Sid))
	out := a.drainOut()
	assert.True(t, hasText(out, p.Sid, "The way is blocked."))

	// The player never moved and lost nothing.
	got := a.deps.World.Player(p.Sid)
	require.NotNil(t, got)
	assert.Equal(t, "keep:yard", got.RoomID)
	assert.Equal(t, 25, got.HP)
	assert.Len(t, a.deps.World.Inventory(p.Sid), 1)

	// The line typed during the transfer replays locally.
	assert.Equal(t, []string{"say anyone there?"}, a.dispatched)

	_, rolledBack, _, _ := a.mgr.Outcomes()
	assert.Equal(t, uint64(1), rolledBack)
}

func TestLateAckAfterRollbackIsIgnored(t *testing.T) {
	a := newSide(t, "engine-a")
	p := a.addPlayer("alice", "keep:yard")

	require.True(t, a.mgr.Depart(p, "wild:trail", "engine-b"))
	prep := prepareOf(t, a.drainInter())
	a.nowMs += ackTimeout.Milliseconds()
	a.sched.fire("handoff-timeout")
	a.drainOut()

	a.mgr.HandleAck(event.HandoffAck{TicketID: prep.Ticket.ID, Sid: p.Sid, Engine: "engine-b"})

	assert.Empty(t, a.drainInter(), "no commit may follow a rollback")
	assert.NotNil(t, a.deps.World.Player(p.Sid))
}

func TestRejectRollsBack(t *testing.T) {
	a := newSide(t, "engine-a")
	p := a.addPlayer("alice", "keep:yard")

	require.True(t, a.mgr.Depart(p, "wild:trail", "engine-b"))
	prep := prepareOf(t, a.drainInter())
	a.drainOut()

	a.mgr.HandleReject(event.HandoffReject{
		TicketID: prep.Ticket.ID, Sid: p.Sid, Engine: "engine-b", Reason: "unknown room",
	})

	assert.False(t, a.mgr.Pending(p.Sid))
	assert.True(t, hasText(a.drainOut(), p.Sid, "The way is blocked."))
	assert.Equal(t, "keep:yard", a.deps.World.Player(p.Sid).RoomID)
}

func TestAckCommitsAndStripsSender(t *testing.T) {
	a := newSide(t, "engine-a")
	p := a.addPlayer("alice", "keep:yard")
	watcher := a.addPlayer("bob", "keep:yard")

	require.True(t, a.mgr.Depart(p, "wild:trail", "engine-b"))
	prep := prepareOf(t, a.drainInter())
	require.True(t, a.mgr.Buffer(p.Sid, "look"))
	a.drainOut()

	a.mgr.HandleAck(event.HandoffAck{TicketID: prep.Ticket.ID, Sid: p.Sid, Engine: "engine-b"})

	inter := a.drainInter()
	var committed bool
	var routed []event.RoutedInbound
	for _, ev := range inter {
		switch ev := ev.(type) {
		case event.HandoffCommit:
			committed = true
			assert.Equal(t, prep.Ticket.ID, ev.TicketID)
		case event.RoutedInbound:
			routed = append(routed, ev)
		}
	}
	assert.True(t, committed)
	require.Len(t, routed, 1, "buffered line forwards to the new engine")
	assert.Equal(t, "engine-b", routed[0].TargetEngine)
	assert.Equal(t, "LineReceived", routed[0].Inner.Tag)

	out := a.drainOut()
	assert.True(t, hasText(out, p.Sid, "You leave."))
	var redirected bool
	for _, ev := range out {
		if r, ok := ev.(event.SessionRedirect); ok && r.Sid == p.Sid {
			redirected = true
			assert.Equal(t, "engine-b", r.ToEngine)
		}
	}
	assert.True(t, redirected)
	assert.True(t, hasText(out, watcher.Sid, "alice leaves."))

	assert.Nil(t, a.deps.World.Player(p.Sid), "player left this engine")
	assert.Equal(t, []sid.ID{p.Sid}, a.combat.disengaged)
	assert.Equal(t, []sid.ID{p.Sid}, a.fx.cleared)
	assert.Equal(t, "engine-b", a.indexed["alice"])
	assert.False(t, a.mgr.Pending(p.Sid))

	c, _, _, _ := a.mgr.Outcomes()
	assert.Equal(t, uint64(1), c)
}

func TestPrepareReservesAndAcks(t *testing.T) {
	b := newSide(t, "engine-b")
	ticket := sampleTicket("alice", "wild:trail")

	b.mgr.HandlePrepare(event.HandoffPrepare{Ticket: ticket})

	inter := b.drainInter()
	require.Len(t, inter, 1)
	ack, ok := inter[0].(event.HandoffAck)
	require.True(t, ok)
	assert.Equal(t, ticket.ID, ack.TicketID)
	assert.Equal(t, "engine-b", ack.Engine)

	// A retransmitted prepare re-acks without disturbing the slot.
	b.mgr.HandlePrepare(event.HandoffPrepare{Ticket: ticket})
	inter = b.drainInter()
	require.Len(t, inter, 1)
	_, ok = inter[0].(event.HandoffAck)
	assert.True(t, ok)
}

func TestPrepareRejectsUnknownRoom(t *testing.T) {
	b := newSide(t, "engine-b")
	ticket := sampleTicket("alice", "nowhere:void")

	b.mgr.HandlePrepare(event.HandoffPrepare{Ticket: ticket})

	inter := b.drainInter()
	require.Len(t, inter, 1)
	rej, ok := inter[0].(event.HandoffReject)
	require.True(t, ok)
	assert.Equal(t, ticket.ID, rej.TicketID)
	assert.Contains(t, rej.Reason, "unknown room")
}

func TestPrepareRejectsNameAlreadyOnline(t *testing.T) {
	b := newSide(t, "engine-b")
	b.addPlayer("alice", "wild:trail")

	b.mgr.HandlePrepare(event.HandoffPrepare{Ticket: sampleTicket("alice", "wild:trail")})

	inter := b.drainInter()
	require.Len(t, inter, 1)
	rej, ok := inter[0].(event.HandoffReject)
	require.True(t, ok)
	assert.Contains(t, rej.Reason, "name already online")
}

func TestCommitPromotesReservedSlot(t *testing.T) {
	b := newSide(t, "engine-b")
	watcher := b.addPlayer("bob", "wild:trail")

	ticket := sampleTicket("alice", "wild:trail")
	ticket.State.Inventory = []string{"club"}
	ticket.State.Equipment = map[string]string{"torso": "padded-vest"}

	b.mgr.HandlePrepare(event.HandoffPrepare{Ticket: ticket})
	b.drainInter()
	b.mgr.HandleCommit(event.HandoffCommit{TicketID: ticket.ID, Sid: ticket.Sid})

	p := b.deps.World.Player(ticket.Sid)
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, "wild:trail", p.RoomID)
	assert.Equal(t, 25, p.HP)
	assert.Len(t, b.deps.World.Inventory(ticket.Sid), 1)
	require.Len(t, b.deps.World.Equipment(ticket.Sid), 1)
	assert.Equal(t, "padded-vest", b.deps.World.Equipment(ticket.Sid)[0].Template.Key)

	out := b.drainOut()
	assert.True(t, hasText(out, watcher.Sid, "alice arrives."))
	assert.True(t, hasText(out, ticket.Sid, "Overgrown Trail"), "arrival renders the room")

	_, _, _, arrived := b.mgr.Outcomes()
	assert.Equal(t, uint64(1), arrived)
}

func TestExpiredSlotRefusesCommit(t *testing.T) {
	b := newSide(t, "engine-b")
	ticket := sampleTicket("alice", "wild:trail")

	b.mgr.HandlePrepare(event.HandoffPrepare{Ticket: ticket})
	b.drainInter()

	// Sender crashed; the slot's TTL (2x ack timeout) lapses.
	b.nowMs += 2*ackTimeout.Milliseconds() + 1
	b.sched.fire("handoff-expire")

	b.mgr.HandleCommit(event.HandoffCommit{TicketID: ticket.ID, Sid: ticket.Sid})
	assert.Nil(t, b.deps.World.Player(ticket.Sid))
}

func TestSessionGoneDropsTransferState(t *testing.T) {
	a := newSide(t, "engine-a")
	p := a.addPlayer("alice", "keep:yard")
	require.True(t, a.mgr.Depart(p, "wild:trail", "engine-b"))

	a.mgr.SessionGone(p.Sid)
	assert.False(t, a.mgr.Pending(p.Sid))
	assert.False(t, a.mgr.Buffer(p.Sid, "look"))
}

func sampleTicket(name, room string) event.HandoffTicket {
	return event.HandoffTicket{
		ID:         "ticket-" + name,
		Sid:        sid.ID(4242),
		PlayerID:   9,
		FromEngine: "engine-a",
		ToEngine:   "engine-b",
		TargetRoom: room,
		State: event.PlayerSnapshot{
			PlayerID: 9, Name: name, RoomID: "keep:yard",
			HP: 25, MaxHP: 30, BaseMaxHP: 30, Mana: 10, MaxMana: 10,
			Strength: 10, Dexterity: 10, Constitute: 10,
			Intellect: 10, Wisdom: 10, Charisma: 10,
			Race: "human", Class: "warrior", Level: 3,
		},
		CreatedAtMs: 1_000_000,
	}
}

// ---- fakes ----

type schedEntry struct {
	runAt int64
	kind  string
	fn    func()
}

type fakeSched struct{ entries []schedEntry }

func (s *fakeSched) Schedule(runAtMs int64, kind string, fn func()) {
	s.entries = append(s.entries, schedEntry{runAtMs, kind, fn})
}

// fire runs every pending entry of one kind, as the scheduler phase would
// once their time comes.
func (s *fakeSched) fire(kind string) {
	pending := s.entries
	s.entries = nil
	for _, e := range pending {
		if e.kind == kind {
			e.fn()
		} else {
			s.entries = append(s.entries, e)
		}
	}
}

type fakeCombat struct{ disengaged []sid.ID }

func (c *fakeCombat) Start(sid.ID, string)                 {}
func (c *fakeCombat) Flee(sid.ID)                          {}
func (c *fakeCombat) InCombat(sid.ID) bool                 { return false }
func (c *fakeCombat) Target(sid.ID) (string, bool)         { return "", false }
func (c *fakeCombat) Disengage(id sid.ID)                  { c.disengaged = append(c.disengaged, id) }
func (c *fakeCombat) EngageMob(string, sid.ID, float64)    {}
func (c *fakeCombat) DamageMob(sid.ID, string, int)        {}
func (c *fakeCombat) HurtPlayer(sid.ID, int, string)       {}
func (c *fakeCombat) HealPlayer(_, _ sid.ID, hp int) int   { return hp }
func (c *fakeCombat) AwardXP(sid.ID, int64)                {}

type fakeEffects struct{ cleared []sid.ID }

func (f *fakeEffects) Apply(handler.EffectTarget, *content.Effect)               {}
func (f *fakeEffects) ApplyFrom(sid.ID, handler.EffectTarget, *content.Effect)   {}
func (f *fakeEffects) PlayerStatMods(sid.ID) content.StatMods                    { return content.StatMods{} }
func (f *fakeEffects) HasPlayerEffect(sid.ID, string) bool                       { return false }
func (f *fakeEffects) HasMobEffect(string, string) bool                          { return false }
func (f *fakeEffects) AbsorbPlayerDamage(_ sid.ID, amount int) (int, int)        { return amount, 0 }
func (f *fakeEffects) PlayerEffects(sid.ID) []handler.EffectSnapshot             { return nil }
func (f *fakeEffects) ClearPlayer(id sid.ID)                                     { f.cleared = append(f.cleared, id) }
func (f *fakeEffects) ClearMob(string)                                           {}
