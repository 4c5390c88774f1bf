// Package handoff transfers live sessions between engines with an
// acknowledged prepare/commit exchange. The sender keeps the player fully
// in place until the receiver has reserved a slot, so a timeout or reject
// rolls back to exactly the pre-transfer state; the receiver's reserved
// slot carries a TTL so a sender crash cannot strand it.
package handoff

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	corevent "github.com/ambonmud/server/internal/core/event"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/wire"
	"github.com/ambonmud/server/internal/world"
)

// Ticket phases, sender side.
const (
	phaseSent  = "sent"
	phaseAcked = "acked"
)

// maxBuffered bounds the lines held for a session mid-transfer. Beyond
// it, oldest-first would reorder input, so newest lines are dropped.
const maxBuffered = 32

type outTicket struct {
	ticket   event.HandoffTicket
	phase    string
	buffered []string
}

type inSlot struct {
	ticket      event.HandoffTicket
	expiresAtMs int64
}

// Manager implements both sides of the transfer: handler.HandoffService
// for the sending engine and system.HandoffPeer for the inter-engine
// traffic. Engine goroutine only.
type Manager struct {
	deps     *handler.Deps
	inter    bus.InterEngineBus
	engineID string
	ackMs    int64
	now      func() int64
	log      *zap.Logger

	// Dispatch replays buffered lines after a rollback. Set by the
	// composition root to the command registry.
	Dispatch func(p *world.Player, line string)
	// IndexWrite records a player's new owning engine in the location
	// index on commit. Optional.
	IndexWrite func(nameLower, engineID string)

	out map[sid.ID]*outTicket
	in  map[sid.ID]*inSlot

	committed  uint64
	rolledBack uint64
	rejected   uint64
	arrived    uint64
	dropped    uint64 // buffered lines discarded at the cap
}

func NewManager(
	deps *handler.Deps,
	inter bus.InterEngineBus,
	engineID string,
	ackTimeout time.Duration,
	now func() int64,
	log *zap.Logger,
) *Manager {
	return &Manager{
		deps:     deps,
		inter:    inter,
		engineID: engineID,
		ackMs:    ackTimeout.Milliseconds(),
		now:      now,
		log:      log,
		out:      make(map[sid.ID]*outTicket),
		in:       make(map[sid.ID]*inSlot),
	}
}

// ==================== sender ====================

// Depart starts a transfer toward the engine owning the target room's
// zone. The player stays attached and attackable until the ack arrives;
// false means nothing was sent and the move should fail in place.
func (m *Manager) Depart(p *world.Player, targetRoom, targetEngine string) bool {
	if m.inter == nil {
		return false
	}
	if _, dup := m.out[p.Sid]; dup {
		return false
	}
	t := event.HandoffTicket{
		ID:          uuid.NewString(),
		Sid:         p.Sid,
		PlayerID:    p.ID,
		FromEngine:  m.engineID,
		ToEngine:    targetEngine,
		TargetRoom:  targetRoom,
		State:       m.snapshot(p),
		CreatedAtMs: m.now(),
	}
	if err := m.inter.Publish(event.HandoffPrepare{Ticket: t}); err != nil {
		m.log.Warn("handoff prepare publish failed",
			zap.String("player", p.Name),
			zap.String("to", targetEngine),
			zap.Error(err))
		return false
	}
	m.out[p.Sid] = &outTicket{ticket: t, phase: phaseSent}
	id, ticketID := p.Sid, t.ID
	m.deps.Sched.Schedule(m.now()+m.ackMs, "handoff-timeout", func() {
		m.timeout(id, ticketID)
	})
	m.log.Info("handoff sent",
		zap.String("ticket", t.ID),
		zap.String("player", p.Name),
		zap.String("to", targetEngine),
		zap.String("room", targetRoom))
	return true
}

// Pending reports whether the session is mid-transfer on this engine.
func (m *Manager) Pending(id sid.ID) bool {
	_, ok := m.out[id]
	return ok
}

// Buffer holds a line typed while the session is mid-transfer.
func (m *Manager) Buffer(id sid.ID, line string) bool {
	t, ok := m.out[id]
	if !ok {
		return false
	}
	if len(t.buffered) >= maxBuffered {
		m.dropped++
		return true
	}
	t.buffered = append(t.buffered, line)
	return true
}

func (m *Manager) timeout(id sid.ID, ticketID string) {
	t, ok := m.out[id]
	if !ok || t.ticket.ID != ticketID || t.phase != phaseSent {
		return
	}
	m.log.Warn("handoff ack timeout",
		zap.String("ticket", ticketID),
		zap.String("to", t.ticket.ToEngine))
	m.rollback(id, t)
}

// HandleReject is the receiver refusing our prepare.
func (m *Manager) HandleReject(ev event.HandoffReject) {
	t, ok := m.out[ev.Sid]
	if !ok || t.ticket.ID != ev.TicketID {
		return
	}
	m.log.Info("handoff rejected",
		zap.String("ticket", ev.TicketID),
		zap.String("by", ev.Engine),
		zap.String("reason", ev.Reason))
	m.rollback(ev.Sid, t)
}

// rollback erases the transfer as if it never started. The player never
// moved, so only the pending state and the buffered lines need handling.
func (m *Manager) rollback(id sid.ID, t *outTicket) {
	delete(m.out, id)
	m.rolledBack++
	p := m.deps.World.Player(id)
	if p == nil {
		return
	}
	m.deps.Out.Error(id, "The way is blocked.")
	m.deps.Out.Prompt(id)
	if m.Dispatch != nil {
		for _, line := range t.buffered {
			m.Dispatch(p, line)
		}
	}
}

// HandleAck commits the transfer: persist against the destination room,
// update the location index, hand the gateway the new engine, strip the
// player out of every local registry, and forward anything they typed in
// the gap.
func (m *Manager) HandleAck(ev event.HandoffAck) {
	t, ok := m.out[ev.Sid]
	if !ok || t.ticket.ID != ev.TicketID || t.phase != phaseSent {
		return
	}
	p := m.deps.World.Player(ev.Sid)
	if p == nil {
		delete(m.out, ev.Sid)
		return
	}
	t.phase = phaseAcked

	if err := m.inter.Publish(event.HandoffCommit{TicketID: t.ticket.ID, Sid: ev.Sid}); err != nil {
		m.log.Error("handoff commit publish failed",
			zap.String("ticket", t.ticket.ID),
			zap.Error(err))
		m.rollback(ev.Sid, t)
		return
	}

	if m.deps.Saver != nil {
		rec := handler.SnapshotPlayer(m.deps.World, p)
		rec.RoomID = t.ticket.TargetRoom
		m.deps.Saver.Enqueue(rec)
	}
	if m.IndexWrite != nil {
		m.IndexWrite(strings.ToLower(p.Name), t.ticket.ToEngine)
	}

	m.deps.Out.Text(ev.Sid, "You leave.")
	m.deps.Out.Redirect(ev.Sid, t.ticket.ToEngine)

	if res, err := m.deps.World.Groups.Leave(ev.Sid); err == nil {
		handler.NarrateGroupLeave(m.deps, res, p.Name)
	}
	m.deps.Combat.Disengage(ev.Sid)
	m.deps.Effects.ClearPlayer(ev.Sid)
	m.deps.World.RemoveSession(ev.Sid)
	m.deps.World.PurgeSessionItems(ev.Sid)
	oldRoom := p.RoomID
	m.deps.World.Detach(ev.Sid)
	handler.RoomTextPrompt(m.deps, oldRoom, fmt.Sprintf("%s leaves.", p.Name))

	for _, line := range t.buffered {
		boxed, err := wire.Box(event.LineReceived{Sid: ev.Sid, Line: line})
		if err != nil {
			continue
		}
		if err := m.inter.Publish(event.RoutedInbound{
			TargetEngine: t.ticket.ToEngine,
			Inner:        boxed,
		}); err != nil {
			m.log.Warn("buffered line forward failed", zap.Error(err))
			break
		}
	}

	delete(m.out, ev.Sid)
	m.committed++
	m.log.Info("handoff committed",
		zap.String("ticket", t.ticket.ID),
		zap.String("player", p.Name),
		zap.String("to", t.ticket.ToEngine))
}

// ==================== receiver ====================

// HandlePrepare validates a transfer and reserves the session's slot. A
// retransmitted prepare for the same ticket is re-acked, not re-reserved.
func (m *Manager) HandlePrepare(ev event.HandoffPrepare) {
	t := ev.Ticket
	if slot, ok := m.in[t.Sid]; ok && m.now() < slot.expiresAtMs {
		if slot.ticket.ID == t.ID {
			m.ack(t)
			return
		}
		m.reject(t, "session already transferring")
		return
	}
	if m.deps.World.Room(t.TargetRoom) == nil {
		m.reject(t, "unknown room "+t.TargetRoom)
		return
	}
	if m.deps.World.PlayerByName(strings.ToLower(t.State.Name)) != nil {
		m.reject(t, "name already online")
		return
	}
	ttlMs := 2 * m.ackMs
	m.in[t.Sid] = &inSlot{ticket: t, expiresAtMs: m.now() + ttlMs}
	id, ticketID := t.Sid, t.ID
	m.deps.Sched.Schedule(m.now()+ttlMs, "handoff-expire", func() {
		m.expire(id, ticketID)
	})
	m.ack(t)
}

func (m *Manager) ack(t event.HandoffTicket) {
	err := m.inter.Publish(event.HandoffAck{TicketID: t.ID, Sid: t.Sid, Engine: m.engineID})
	if err != nil {
		delete(m.in, t.Sid)
		m.log.Warn("handoff ack publish failed", zap.String("ticket", t.ID), zap.Error(err))
	}
}

func (m *Manager) reject(t event.HandoffTicket, reason string) {
	m.rejected++
	m.log.Info("handoff prepare rejected",
		zap.String("ticket", t.ID),
		zap.String("from", t.FromEngine),
		zap.String("reason", reason))
	err := m.inter.Publish(event.HandoffReject{
		TicketID: t.ID, Sid: t.Sid, Engine: m.engineID, Reason: reason,
	})
	if err != nil {
		m.log.Warn("handoff reject publish failed", zap.String("ticket", t.ID), zap.Error(err))
	}
}

func (m *Manager) expire(id sid.ID, ticketID string) {
	slot, ok := m.in[id]
	if !ok || slot.ticket.ID != ticketID {
		return
	}
	delete(m.in, id)
	m.log.Warn("handoff slot expired without commit",
		zap.String("ticket", ticketID),
		zap.String("from", slot.ticket.FromEngine))
}

// HandleCommit promotes the reserved slot to a live player.
func (m *Manager) HandleCommit(ev event.HandoffCommit) {
	slot, ok := m.in[ev.Sid]
	if !ok || slot.ticket.ID != ev.TicketID {
		m.log.Warn("commit without a reserved slot", zap.String("ticket", ev.TicketID))
		return
	}
	delete(m.in, ev.Sid)

	t := slot.ticket
	p := m.applySnapshot(ev.Sid, t.State, t.TargetRoom)
	if err := m.deps.World.AttachExisting(p); err != nil {
		m.deps.World.PurgeSessionItems(ev.Sid)
		m.deps.Out.CloseSession(ev.Sid, "transfer collision")
		m.log.Error("handoff attach failed",
			zap.String("ticket", t.ID),
			zap.String("player", t.State.Name),
			zap.Error(err))
		return
	}
	m.arrived++

	handler.RoomTextPrompt(m.deps, p.RoomID, fmt.Sprintf("%s arrives.", p.Name), p.Sid)
	p.VisitedRooms[p.RoomID] = struct{}{}
	m.deps.World.Dirty.PlayerVitals.Mark(p.Sid)
	m.deps.World.Dirty.PlayerStatus.Mark(p.Sid)
	corevent.Emit(m.deps.Bus, corevent.RoomChanged{Sid: p.Sid, From: "", To: p.RoomID})

	m.log.Info("handoff arrived",
		zap.String("ticket", t.ID),
		zap.String("player", p.Name),
		zap.String("room", p.RoomID))
	handler.HandleLook(p, "", m.deps)
}

// SessionGone drops any transfer state for a disconnected session. A
// receiver slot left behind on the sender's side expires by TTL there.
func (m *Manager) SessionGone(id sid.ID) {
	delete(m.out, id)
	delete(m.in, id)
}

// Outcomes reports lifetime counters for metrics.
func (m *Manager) Outcomes() (committed, rolledBack, rejected, arrived uint64) {
	return m.committed, m.rolledBack, m.rejected, m.arrived
}

// ==================== state codec ====================

func (m *Manager) snapshot(p *world.Player) event.PlayerSnapshot {
	s := event.PlayerSnapshot{
		PlayerID:   p.ID,
		Name:       p.Name,
		RoomID:     p.RoomID,
		HP:         p.HP,
		MaxHP:      p.MaxHP,
		BaseMaxHP:  p.BaseMaxHP,
		Mana:       p.Mana,
		MaxMana:    p.MaxMana,
		Strength:   p.Str,
		Dexterity:  p.Dex,
		Constitute: p.Con,
		Intellect:  p.Int,
		Wisdom:     p.Wis,
		Charisma:   p.Cha,
		Race:       p.Race,
		Class:      p.Class,
		Level:      p.Level,
		XPTotal:    p.XPTotal,
		Gold:       p.Gold,
		IsStaff:    p.IsStaff,
		Ansi:       p.Ansi,

		ActiveQuests: make(map[string]int, len(p.QuestProgress)),
		Achievements: make(map[string]int, len(p.AchievementCount)),
		ActiveTitle:  p.ActiveTitle,
	}
	for k, v := range p.QuestProgress {
		s.ActiveQuests[k] = v
	}
	for k := range p.CompletedQuests {
		s.CompletedQuests = append(s.CompletedQuests, k)
	}
	for k, v := range p.AchievementCount {
		s.Achievements[k] = v
	}
	for k := range p.Unlocked {
		s.UnlockedAchieve = append(s.UnlockedAchieve, k)
	}
	for r := range p.VisitedRooms {
		s.VisitedRooms = append(s.VisitedRooms, r)
	}
	for _, it := range m.deps.World.Inventory(p.Sid) {
		s.Inventory = append(s.Inventory, it.Template.Key)
	}
	worn := m.deps.World.Equipment(p.Sid)
	if len(worn) > 0 {
		s.Equipment = make(map[string]string, len(worn))
		for _, it := range worn {
			s.Equipment[it.Loc.Slot] = it.Template.Key
		}
	}
	return s
}

func (m *Manager) applySnapshot(id sid.ID, s event.PlayerSnapshot, room string) *world.Player {
	p := world.NewPlayer(id, s.Name)
	p.ID = s.PlayerID
	p.RoomID = room
	p.HP, p.MaxHP, p.BaseMaxHP = s.HP, s.MaxHP, s.BaseMaxHP
	p.Mana, p.MaxMana = s.Mana, s.MaxMana
	p.Str, p.Dex, p.Con = s.Strength, s.Dexterity, s.Constitute
	p.Int, p.Wis, p.Cha = s.Intellect, s.Wisdom, s.Charisma
	p.Race, p.Class, p.Level = s.Race, s.Class, s.Level
	p.XPTotal, p.Gold = s.XPTotal, s.Gold
	p.IsStaff, p.Ansi = s.IsStaff, s.Ansi
	p.ActiveTitle = s.ActiveTitle

	for k, v := range s.ActiveQuests {
		p.QuestProgress[k] = v
	}
	for _, k := range s.CompletedQuests {
		p.CompletedQuests[k] = struct{}{}
	}
	for k, v := range s.Achievements {
		p.AchievementCount[k] = v
	}
	for _, k := range s.UnlockedAchieve {
		p.Unlocked[k] = struct{}{}
		if a := m.deps.Content.Achievements.Get(k); a != nil && a.Title != "" {
			p.Titles = append(p.Titles, a.Title)
		}
	}
	for _, r := range s.VisitedRooms {
		p.VisitedRooms[r] = struct{}{}
	}

	spawn := func(key string, loc world.Location) {
		tpl := m.deps.Content.Items.Get(key)
		if tpl == nil {
			m.log.Warn("transferred item template unknown",
				zap.String("item", key), zap.String("player", s.Name))
			return
		}
		m.deps.World.SpawnItem(tpl, loc)
	}
	for _, key := range s.Inventory {
		spawn(key, world.InvLoc(id))
	}
	for slot, key := range s.Equipment {
		spawn(key, world.EquipLoc(id, slot))
	}
	return p
}
