package content

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type MobTemplate struct {
	Key       string   `yaml:"key"`
	Name      string   `yaml:"name"`
	Level     int      `yaml:"level"`
	HP        int      `yaml:"hp"`
	MinDamage int      `yaml:"min_damage"`
	MaxDamage int      `yaml:"max_damage"`
	Armor     int      `yaml:"armor"`
	XP        int      `yaml:"xp"`
	Gold      GoldSpan `yaml:"gold"`
	Drops     []Drop   `yaml:"drops"`
	Behavior  string   `yaml:"behavior"` // lua decision table; empty picks the default
	Shop      string   `yaml:"shop"`     // vendors carry a shop key
	Dialogue  []string `yaml:"dialogue"`
	Quests    []string `yaml:"quests"` // quest keys this mob hands out
	Keywords  []string `yaml:"keywords"`
}

type GoldSpan struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type Drop struct {
	Item   string  `yaml:"item"`
	Chance float64 `yaml:"chance"` // 0..1
}

type Spawn struct {
	Mob     string   `yaml:"mob"`
	Room    string   `yaml:"room"` // fully qualified
	Count   int      `yaml:"count"`
	Respawn Duration `yaml:"respawn"`
}

type mobFile struct {
	Mobs   []*MobTemplate `yaml:"mobs"`
	Spawns []Spawn        `yaml:"spawns"`
}

type MobTable struct {
	byKey  map[string]*MobTemplate
	spawns []Spawn
}

func LoadMobTable(path string) (*MobTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mobs %s: %w", path, err)
	}
	var f mobFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse mobs %s: %w", path, err)
	}
	byKey := make(map[string]*MobTemplate, len(f.Mobs))
	for _, m := range f.Mobs {
		if m.Key == "" {
			return nil, fmt.Errorf("mobs %s: template with empty key", path)
		}
		if _, dup := byKey[m.Key]; dup {
			return nil, fmt.Errorf("mobs %s: duplicate key %q", path, m.Key)
		}
		if m.HP <= 0 {
			m.HP = 1
		}
		if len(m.Keywords) == 0 {
			m.Keywords = keywordsFromName(m.Name)
		}
		byKey[m.Key] = m
	}
	for _, s := range f.Spawns {
		if s.Count <= 0 {
			return nil, fmt.Errorf("mobs %s: spawn of %q has count %d", path, s.Mob, s.Count)
		}
		if _, ok := byKey[s.Mob]; !ok {
			return nil, fmt.Errorf("mobs %s: spawn references unknown mob %q", path, s.Mob)
		}
	}
	return &MobTable{byKey: byKey, spawns: f.Spawns}, nil
}

func (t *MobTable) Get(key string) *MobTemplate { return t.byKey[key] }
func (t *MobTable) Count() int                  { return len(t.byKey) }
func (t *MobTable) Spawns() []Spawn             { return t.spawns }

func (t *MobTable) All(fn func(*MobTemplate)) {
	for _, m := range t.byKey {
		fn(m)
	}
}
