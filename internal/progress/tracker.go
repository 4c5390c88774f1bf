// Package progress turns domain events into quest progress, achievement
// counters, and title unlocks. Pure bookkeeping: combat, movement, and
// abilities emit; the tracker consumes on the next tick and never touches
// persistence synchronously.
package progress

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/content"
	corevent "github.com/ambonmud/server/internal/core/event"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/world"
)

// Achievement kinds beyond the quest-shared kill/visit/level.
const (
	kindHeal    = "heal"
	kindCollect = "collect"
	kindTalk    = "talk"
)

type Tracker struct {
	deps *handler.Deps
	log  *zap.Logger
}

func NewTracker(deps *handler.Deps, log *zap.Logger) *Tracker {
	return &Tracker{deps: deps, log: log}
}

// Attach subscribes the tracker to the engine's domain bus.
func (t *Tracker) Attach(bus *corevent.Bus) {
	corevent.Subscribe(bus, t.onKill)
	corevent.Subscribe(bus, t.onRoomChanged)
	corevent.Subscribe(bus, t.onLeveled)
	corevent.Subscribe(bus, t.onHeal)
	corevent.Subscribe(bus, t.onItem)
	corevent.Subscribe(bus, t.onDialogue)
}

func (t *Tracker) onKill(ev corevent.EntityKilled) {
	for _, id := range ev.Credited {
		p := t.deps.World.Player(id)
		if p == nil {
			continue
		}
		t.bumpQuests(p, content.ObjectiveKill, ev.Template, 1)
		t.bumpAchievements(p, content.ObjectiveKill, ev.Template, 1)
	}
}

func (t *Tracker) onRoomChanged(ev corevent.RoomChanged) {
	p := t.deps.World.Player(ev.Sid)
	if p == nil {
		return
	}
	_, seen := p.VisitedRooms[ev.To]
	p.VisitedRooms[ev.To] = struct{}{}
	t.bumpQuests(p, content.ObjectiveVisit, ev.To, 1)
	if !seen {
		t.bumpAchievements(p, content.ObjectiveVisit, ev.To, 1)
	}
}

func (t *Tracker) onLeveled(ev corevent.PlayerLeveled) {
	p := t.deps.World.Player(ev.Sid)
	if p == nil {
		return
	}
	t.bumpQuests(p, content.ObjectiveLevel, "", 0)
	t.bumpAchievements(p, content.ObjectiveLevel, "", 0)
}

func (t *Tracker) onHeal(ev corevent.HealPerformed) {
	p := t.deps.World.Player(ev.Healer)
	if p == nil || ev.Amount <= 0 {
		return
	}
	t.bumpAchievements(p, kindHeal, "", ev.Amount)
}

func (t *Tracker) onItem(ev corevent.ItemAcquired) {
	p := t.deps.World.Player(ev.Sid)
	if p == nil {
		return
	}
	t.bumpAchievements(p, kindCollect, ev.Template, 1)
}

func (t *Tracker) onDialogue(ev corevent.MobDialogue) {
	p := t.deps.World.Player(ev.Sid)
	if p == nil {
		return
	}
	t.bumpAchievements(p, kindTalk, ev.Template, 1)
}

// bumpQuests advances every active quest whose objective matches. Kill
// and visit objectives count up; level objectives track the player's
// level directly.
func (t *Tracker) bumpQuests(p *world.Player, kind, target string, delta int) {
	changed := false
	for key, have := range p.QuestProgress {
		q := t.deps.Content.Quests.Get(key)
		if q == nil || q.Objective.Kind != kind || have >= q.Objective.Count {
			continue
		}
		if q.Objective.Target != "" && q.Objective.Target != target {
			continue
		}
		next := have + delta
		if kind == content.ObjectiveLevel {
			next = p.Level
		}
		if next > q.Objective.Count {
			next = q.Objective.Count
		}
		if next == have {
			continue
		}
		p.QuestProgress[key] = next
		changed = true
		if next >= q.Objective.Count {
			t.deps.Out.Info(p.Sid, fmt.Sprintf("Quest update: %s (ready to turn in)", q.Name))
		} else {
			t.deps.Out.Info(p.Sid, fmt.Sprintf("Quest update: %s (%d/%d)", q.Name, next, q.Objective.Count))
		}
		t.deps.Out.Prompt(p.Sid)
	}
	if changed {
		t.deps.World.Dirty.PlayerStatus.Mark(p.Sid)
		handler.SavePlayer(t.deps, p)
	}
}

// bumpAchievements advances matching counters and unlocks at the
// threshold. Untargeted visit achievements count distinct rooms seen;
// level achievements track the level itself; heal accumulates HP.
func (t *Tracker) bumpAchievements(p *world.Player, kind, target string, delta int) {
	changed := false
	for _, a := range t.deps.Content.Achievements.All() {
		if a.Kind != kind {
			continue
		}
		if _, done := p.Unlocked[a.Key]; done {
			continue
		}
		if a.Target != "" && a.Target != target {
			continue
		}
		next := p.AchievementCount[a.Key] + delta
		switch kind {
		case content.ObjectiveVisit:
			if a.Target == "" {
				next = len(p.VisitedRooms)
			}
		case content.ObjectiveLevel:
			next = p.Level
		}
		if next > a.Count {
			next = a.Count
		}
		if next == p.AchievementCount[a.Key] {
			continue
		}
		p.AchievementCount[a.Key] = next
		changed = true
		if next >= a.Count {
			t.unlock(p, a)
		}
	}
	if changed {
		t.deps.World.Dirty.PlayerStatus.Mark(p.Sid)
		handler.SavePlayer(t.deps, p)
	}
}

func (t *Tracker) unlock(p *world.Player, a *content.Achievement) {
	p.Unlocked[a.Key] = struct{}{}
	t.deps.Out.Info(p.Sid, fmt.Sprintf("Achievement unlocked: %s!", a.Name))
	if a.Title != "" {
		p.Titles = append(p.Titles, a.Title)
		t.deps.Out.Info(p.Sid, fmt.Sprintf("You have earned the title '%s'. (see 'title')", a.Title))
	}
	t.deps.Out.Prompt(p.Sid)
	t.log.Info("achievement unlocked",
		zap.String("player", p.Name),
		zap.String("achievement", a.Key))
}
