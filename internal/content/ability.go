package content

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Ability targeting modes.
const (
	TargetSelf  = "self"
	TargetEnemy = "enemy"
	TargetAlly  = "ally"
)

// Ability kinds.
const (
	AbilityDamage = "damage"
	AbilityHeal   = "heal"
	AbilityStatus = "status"
	AbilityArea   = "area" // damage every engaged mob in the room
)

type Ability struct {
	Key      string   `yaml:"key"`
	Name     string   `yaml:"name"`
	Class    string   `yaml:"class"` // empty means any class
	Level    int      `yaml:"level"`
	Mana     int      `yaml:"mana"`
	Cooldown Duration `yaml:"cooldown"`
	Target   string   `yaml:"target"`
	Kind     string   `yaml:"kind"`
	Min      int      `yaml:"min"` // damage or heal roll bounds
	Max      int      `yaml:"max"`
	Effect   string   `yaml:"effect"` // status kind applies this effect key
}

type abilityFile struct {
	Abilities []*Ability `yaml:"abilities"`
}

type AbilityTable struct {
	byKey map[string]*Ability
	order []*Ability // file order, for listing
}

func LoadAbilityTable(path string) (*AbilityTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read abilities %s: %w", path, err)
	}
	var f abilityFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse abilities %s: %w", path, err)
	}
	byKey := make(map[string]*Ability, len(f.Abilities))
	for _, a := range f.Abilities {
		if a.Key == "" {
			return nil, fmt.Errorf("abilities %s: entry with empty key", path)
		}
		if _, dup := byKey[a.Key]; dup {
			return nil, fmt.Errorf("abilities %s: duplicate key %q", path, a.Key)
		}
		switch a.Kind {
		case AbilityDamage, AbilityHeal, AbilityStatus, AbilityArea:
		default:
			return nil, fmt.Errorf("abilities %s: %q has unknown kind %q", path, a.Key, a.Kind)
		}
		switch a.Target {
		case TargetSelf, TargetEnemy, TargetAlly:
		case "":
			// Sensible default per kind.
			if a.Kind == AbilityHeal {
				a.Target = TargetAlly
			} else {
				a.Target = TargetEnemy
			}
		default:
			return nil, fmt.Errorf("abilities %s: %q has unknown target %q", path, a.Key, a.Target)
		}
		if a.Level <= 0 {
			a.Level = 1
		}
		byKey[a.Key] = a
	}
	return &AbilityTable{byKey: byKey, order: f.Abilities}, nil
}

func (t *AbilityTable) Get(key string) *Ability { return t.byKey[key] }
func (t *AbilityTable) Count() int              { return len(t.byKey) }

// ForClass returns abilities usable by the class at the level, in file order.
func (t *AbilityTable) ForClass(class string, level int) []*Ability {
	var out []*Ability
	for _, a := range t.order {
		if a.Level > level {
			continue
		}
		if a.Class != "" && a.Class != class {
			continue
		}
		out = append(out, a)
	}
	return out
}
