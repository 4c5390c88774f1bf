package handler

import (
	"fmt"
	"strings"

	"github.com/ambonmud/server/internal/content"
	corevent "github.com/ambonmud/server/internal/core/event"
	"github.com/ambonmud/server/internal/world"
)

// HandleQuests shows the journal: active quests with progress, then a
// completion tally.
func HandleQuests(p *world.Player, _ string, deps *Deps) {
	if len(p.QuestProgress) == 0 {
		deps.Out.Text(p.Sid, "Your journal is empty.")
	} else {
		deps.Out.Text(p.Sid, "Your journal:")
		for key, progress := range p.QuestProgress {
			q := deps.Content.Quests.Get(key)
			if q == nil {
				continue
			}
			state := fmt.Sprintf("%d/%d", progress, q.Objective.Count)
			if progress >= q.Objective.Count {
				state = "ready to turn in"
			}
			deps.Out.Text(p.Sid, fmt.Sprintf("  %s (%s) - %s", q.Name, state, q.Description))
		}
	}
	if n := len(p.CompletedQuests); n > 0 {
		deps.Out.Text(p.Sid, fmt.Sprintf("Completed: %d quest(s).", n))
	}
	deps.Out.Prompt(p.Sid)
}

// HandleTalk converses with a mob: dialogue first, then quest offers and
// turn-ins tied to that template.
func HandleTalk(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Talk to whom?")
		deps.Out.Prompt(p.Sid)
		return
	}
	m := deps.World.FindMobInRoom(p.RoomID, strings.ToLower(arg))
	if m == nil {
		deps.Out.Error(p.Sid, "They aren't here.")
		deps.Out.Prompt(p.Sid)
		return
	}

	spoke := false
	if len(m.Dialogue) > 0 {
		line := m.Dialogue[int(deps.Now()/1000)%len(m.Dialogue)]
		deps.Out.Text(p.Sid, fmt.Sprintf("%s says, '%s'", m.Name, line))
		spoke = true
	}

	for _, q := range deps.Content.Quests.ByGiver(m.TemplateKey) {
		if _, done := p.CompletedQuests[q.Key]; done {
			continue
		}
		progress, active := p.QuestProgress[q.Key]
		switch {
		case !active:
			offerQuest(p, m, q, deps)
		case progress >= q.Objective.Count:
			turnInQuest(p, m, q, deps)
		default:
			deps.Out.Text(p.Sid, fmt.Sprintf("%s says, 'How goes it? (%s: %d/%d)'",
				m.Name, q.Name, progress, q.Objective.Count))
		}
		spoke = true
	}

	if !spoke {
		deps.Out.Text(p.Sid, fmt.Sprintf("%s has nothing to say.", m.Name))
	}
	corevent.Emit(deps.Bus, corevent.MobDialogue{Sid: p.Sid, Template: m.TemplateKey})
	deps.Out.Prompt(p.Sid)
}

func offerQuest(p *world.Player, m *world.Mob, q *content.Quest, deps *Deps) {
	p.QuestProgress[q.Key] = 0
	// Exploration already done counts; nobody re-walks a room for a
	// journal entry.
	if q.Objective.Kind == content.ObjectiveVisit {
		if _, seen := p.VisitedRooms[q.Objective.Target]; seen {
			p.QuestProgress[q.Key] = q.Objective.Count
		}
	}
	deps.Out.Info(p.Sid, fmt.Sprintf("New quest: %s", q.Name))
	deps.Out.Text(p.Sid, fmt.Sprintf("%s says, '%s'", m.Name, q.Description))
	deps.World.Dirty.PlayerStatus.Mark(p.Sid)
}

func turnInQuest(p *world.Player, m *world.Mob, q *content.Quest, deps *Deps) {
	delete(p.QuestProgress, q.Key)
	p.CompletedQuests[q.Key] = struct{}{}
	deps.Out.Info(p.Sid, fmt.Sprintf("Quest complete: %s", q.Name))
	deps.Out.Text(p.Sid, fmt.Sprintf("%s says, 'Well done.'", m.Name))
	if q.Reward.Gold > 0 {
		p.Gold += int64(q.Reward.Gold)
		deps.Out.Info(p.Sid, fmt.Sprintf("You receive %d gold.", q.Reward.Gold))
	}
	deps.World.Dirty.PlayerStatus.Mark(p.Sid)
	if q.Reward.XP > 0 {
		deps.Combat.AwardXP(p.Sid, int64(q.Reward.XP))
	}
	SavePlayer(deps, p)
}

// HandleAchievements lists every achievement with progress.
func HandleAchievements(p *world.Player, _ string, deps *Deps) {
	all := deps.Content.Achievements.All()
	if len(all) == 0 {
		deps.Out.Text(p.Sid, "No deeds are tracked in this world.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Text(p.Sid, "Achievements:")
	for _, a := range all {
		if _, ok := p.Unlocked[a.Key]; ok {
			deps.Out.Text(p.Sid, fmt.Sprintf("  [x] %s", a.Name))
			continue
		}
		deps.Out.Text(p.Sid, fmt.Sprintf("  [ ] %s (%d/%d)", a.Name, p.AchievementCount[a.Key], a.Count))
	}
	deps.Out.Prompt(p.Sid)
}

// HandleTitle selects among unlocked titles. "title none" clears it.
func HandleTitle(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		if len(p.Titles) == 0 {
			deps.Out.Text(p.Sid, "You have earned no titles yet.")
		} else {
			deps.Out.Text(p.Sid, "Titles you have earned (use 'title <name>' or 'title none'):")
			for _, t := range p.Titles {
				marker := "  "
				if t == p.ActiveTitle {
					marker = "* "
				}
				deps.Out.Text(p.Sid, "  "+marker+t)
			}
		}
		deps.Out.Prompt(p.Sid)
		return
	}
	if strings.EqualFold(arg, "none") {
		p.ActiveTitle = ""
		deps.World.Dirty.PlayerStatus.Mark(p.Sid)
		deps.Out.Text(p.Sid, "Title cleared.")
		deps.Out.Prompt(p.Sid)
		return
	}
	k := strings.ToLower(arg)
	for _, t := range p.Titles {
		if strings.HasPrefix(strings.ToLower(t), k) {
			p.ActiveTitle = t
			deps.World.Dirty.PlayerStatus.Mark(p.Sid)
			deps.Out.Text(p.Sid, fmt.Sprintf("You are now %s.", p.DisplayName()))
			deps.Out.Prompt(p.Sid)
			return
		}
	}
	deps.Out.Error(p.Sid, "You have earned no such title.")
	deps.Out.Prompt(p.Sid)
}
