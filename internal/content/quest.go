package content

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Objective kinds shared by quests and achievements.
const (
	ObjectiveKill  = "kill"
	ObjectiveVisit = "visit"
	ObjectiveLevel = "level"
)

type Quest struct {
	Key         string    `yaml:"key"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Giver       string    `yaml:"giver"` // mob template key
	Objective   Objective `yaml:"objective"`
	Reward      Reward    `yaml:"reward"`
}

type Objective struct {
	Kind   string `yaml:"kind"`
	Target string `yaml:"target"` // mob key for kill, room id for visit
	Count  int    `yaml:"count"`
}

type Reward struct {
	XP   int `yaml:"xp"`
	Gold int `yaml:"gold"`
}

type Achievement struct {
	Key    string `yaml:"key"`
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Target string `yaml:"target"` // empty matches anything of the kind
	Count  int    `yaml:"count"`
	Title  string `yaml:"title"` // unlocked for the player's use
}

type questFile struct {
	Quests []*Quest `yaml:"quests"`
}

type achievementFile struct {
	Achievements []*Achievement `yaml:"achievements"`
}

type QuestTable struct {
	byKey   map[string]*Quest
	byGiver map[string][]*Quest
}

type AchievementTable struct {
	byKey map[string]*Achievement
	order []*Achievement
}

func LoadQuestTable(path string) (*QuestTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quests %s: %w", path, err)
	}
	var f questFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse quests %s: %w", path, err)
	}
	byKey := make(map[string]*Quest, len(f.Quests))
	byGiver := make(map[string][]*Quest)
	for _, q := range f.Quests {
		if q.Key == "" {
			return nil, fmt.Errorf("quests %s: entry with empty key", path)
		}
		if _, dup := byKey[q.Key]; dup {
			return nil, fmt.Errorf("quests %s: duplicate key %q", path, q.Key)
		}
		if err := checkObjective(q.Objective); err != nil {
			return nil, fmt.Errorf("quests %s: %q: %w", path, q.Key, err)
		}
		byKey[q.Key] = q
		if q.Giver != "" {
			byGiver[q.Giver] = append(byGiver[q.Giver], q)
		}
	}
	return &QuestTable{byKey: byKey, byGiver: byGiver}, nil
}

func LoadAchievementTable(path string) (*AchievementTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read achievements %s: %w", path, err)
	}
	var f achievementFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse achievements %s: %w", path, err)
	}
	byKey := make(map[string]*Achievement, len(f.Achievements))
	for _, a := range f.Achievements {
		if a.Key == "" {
			return nil, fmt.Errorf("achievements %s: entry with empty key", path)
		}
		if _, dup := byKey[a.Key]; dup {
			return nil, fmt.Errorf("achievements %s: duplicate key %q", path, a.Key)
		}
		if err := checkObjective(Objective{Kind: a.Kind, Target: a.Target, Count: a.Count}); err != nil {
			return nil, fmt.Errorf("achievements %s: %q: %w", path, a.Key, err)
		}
		byKey[a.Key] = a
	}
	return &AchievementTable{byKey: byKey, order: f.Achievements}, nil
}

func checkObjective(o Objective) error {
	switch o.Kind {
	case ObjectiveKill, ObjectiveVisit, ObjectiveLevel:
	default:
		return fmt.Errorf("unknown objective kind %q", o.Kind)
	}
	if o.Count <= 0 {
		return fmt.Errorf("objective count must be positive")
	}
	return nil
}

func (t *QuestTable) Get(key string) *Quest       { return t.byKey[key] }
func (t *QuestTable) Count() int                  { return len(t.byKey) }
func (t *QuestTable) ByGiver(mob string) []*Quest { return t.byGiver[mob] }

func (t *AchievementTable) Get(key string) *Achievement { return t.byKey[key] }
func (t *AchievementTable) Count() int                  { return len(t.byKey) }
func (t *AchievementTable) All() []*Achievement         { return t.order }
