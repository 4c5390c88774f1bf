package content

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Item kinds.
const (
	ItemWeapon     = "weapon"
	ItemArmor      = "armor"
	ItemTrinket    = "trinket"
	ItemConsumable = "consumable"
	ItemJunk       = "junk"
)

// Equipment slots. A template with an empty slot cannot be equipped.
var EquipSlots = []string{"weapon", "head", "torso", "hands", "feet", "trinket"}

type ItemTemplate struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Kind        string   `yaml:"kind"`
	Slot        string   `yaml:"slot"`
	MinDamage   int      `yaml:"min_damage"`
	MaxDamage   int      `yaml:"max_damage"`
	AttackBonus int      `yaml:"attack_bonus"`
	Armor       int      `yaml:"armor"`
	Stats       StatMods `yaml:"stats"`
	HealHP      int      `yaml:"heal_hp"`
	HealMana    int      `yaml:"heal_mana"`
	Value       int      `yaml:"value"` // base gold value
	Keywords    []string `yaml:"keywords"`
}

// StatMods is an additive stat adjustment, used by equipment and by
// stat buff/debuff effects.
type StatMods struct {
	Str int `yaml:"str"`
	Dex int `yaml:"dex"`
	Con int `yaml:"con"`
	Int int `yaml:"int"`
	Wis int `yaml:"wis"`
	Cha int `yaml:"cha"`
}

func (s StatMods) IsZero() bool {
	return s == StatMods{}
}

func (s StatMods) Add(o StatMods) StatMods {
	return StatMods{
		Str: s.Str + o.Str, Dex: s.Dex + o.Dex, Con: s.Con + o.Con,
		Int: s.Int + o.Int, Wis: s.Wis + o.Wis, Cha: s.Cha + o.Cha,
	}
}

type itemFile struct {
	Items []*ItemTemplate `yaml:"items"`
}

type ItemTable struct {
	byKey map[string]*ItemTemplate
}

func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items %s: %w", path, err)
	}
	var f itemFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse items %s: %w", path, err)
	}
	byKey := make(map[string]*ItemTemplate, len(f.Items))
	for _, it := range f.Items {
		if it.Key == "" {
			return nil, fmt.Errorf("items %s: template with empty key", path)
		}
		if _, dup := byKey[it.Key]; dup {
			return nil, fmt.Errorf("items %s: duplicate key %q", path, it.Key)
		}
		if it.Kind == "" {
			it.Kind = ItemJunk
		}
		if it.Slot != "" && !validSlot(it.Slot) {
			return nil, fmt.Errorf("items %s: %q has unknown slot %q", path, it.Key, it.Slot)
		}
		if len(it.Keywords) == 0 {
			it.Keywords = keywordsFromName(it.Name)
		}
		byKey[it.Key] = it
	}
	return &ItemTable{byKey: byKey}, nil
}

func (t *ItemTable) Get(key string) *ItemTemplate { return t.byKey[key] }
func (t *ItemTable) Count() int                   { return len(t.byKey) }

func validSlot(slot string) bool {
	for _, s := range EquipSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// keywordsFromName splits a display name into lowercase match words,
// dropping articles.
func keywordsFromName(name string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(name)) {
		switch w {
		case "a", "an", "the", "of", "some":
			continue
		}
		out = append(out, w)
	}
	return out
}

// MatchesKeyword reports whether keyword is a prefix of any match word.
func MatchesKeyword(keywords []string, keyword string) bool {
	k := strings.ToLower(keyword)
	for _, w := range keywords {
		if strings.HasPrefix(w, k) {
			return true
		}
	}
	return false
}
