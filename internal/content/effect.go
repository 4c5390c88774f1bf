package content

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Status effect kinds.
const (
	EffectDOT        = "dot"
	EffectHOT        = "hot"
	EffectStatBuff   = "stat_buff"
	EffectStatDebuff = "stat_debuff"
	EffectStun       = "stun"
	EffectRoot       = "root"
	EffectShield     = "shield"
)

type Effect struct {
	Key       string   `yaml:"key"`
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	Duration  Duration `yaml:"duration"`
	Period    Duration `yaml:"period"` // dot/hot pulse interval
	Amount    int      `yaml:"amount"` // per pulse, or total shield absorb
	Stats     StatMods `yaml:"stats"`  // buff/debuff adjustment
	MaxStacks int      `yaml:"max_stacks"`
}

type effectFile struct {
	Effects []*Effect `yaml:"effects"`
}

type EffectTable struct {
	byKey map[string]*Effect
}

func LoadEffectTable(path string) (*EffectTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read effects %s: %w", path, err)
	}
	var f effectFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse effects %s: %w", path, err)
	}
	byKey := make(map[string]*Effect, len(f.Effects))
	for _, e := range f.Effects {
		if e.Key == "" {
			return nil, fmt.Errorf("effects %s: entry with empty key", path)
		}
		if _, dup := byKey[e.Key]; dup {
			return nil, fmt.Errorf("effects %s: duplicate key %q", path, e.Key)
		}
		switch e.Kind {
		case EffectDOT, EffectHOT, EffectStatBuff, EffectStatDebuff,
			EffectStun, EffectRoot, EffectShield:
		default:
			return nil, fmt.Errorf("effects %s: %q has unknown kind %q", path, e.Key, e.Kind)
		}
		if (e.Kind == EffectDOT || e.Kind == EffectHOT) && e.Period <= 0 {
			return nil, fmt.Errorf("effects %s: %q needs a period", path, e.Key)
		}
		if e.Duration <= 0 {
			return nil, fmt.Errorf("effects %s: %q needs a duration", path, e.Key)
		}
		if e.MaxStacks <= 0 {
			e.MaxStacks = 1
		}
		byKey[e.Key] = e
	}
	return &EffectTable{byKey: byKey}, nil
}

func (t *EffectTable) Get(key string) *Effect { return t.byKey[key] }
func (t *EffectTable) Count() int             { return len(t.byKey) }
