// Package content loads the static game definition from a directory of
// YAML files: zones and rooms, mob and item templates, abilities, status
// effects, quests, achievements, shops, and classes. Loaded tables are
// immutable; runtime state lives in the world package.
package content

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type World struct {
	Zones        map[string]*Zone
	Rooms        map[string]*Room // fully qualified id
	Mobs         *MobTable
	Items        *ItemTable
	Abilities    *AbilityTable
	Effects      *EffectTable
	Quests       *QuestTable
	Achievements *AchievementTable
	Shops        *ShopTable
	Classes      *ClassTable

	StartRoom string
	MOTD      []string
}

type worldFile struct {
	StartRoom string   `yaml:"start_room"`
	MOTD      []string `yaml:"motd"`
}

// Load reads the full content tree rooted at dir:
//
//	dir/world.yaml        start room, message of the day
//	dir/zones/*.yaml      one zone per file
//	dir/mobs.yaml         templates and spawn points
//	dir/items.yaml
//	dir/abilities.yaml
//	dir/effects.yaml
//	dir/quests.yaml
//	dir/achievements.yaml
//	dir/shops.yaml
//	dir/classes.yaml
func Load(dir string) (*World, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "world.yaml"))
	if err != nil {
		return nil, fmt.Errorf("read world.yaml: %w", err)
	}
	var wf worldFile
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("parse world.yaml: %w", err)
	}

	zones, err := LoadZones(filepath.Join(dir, "zones"))
	if err != nil {
		return nil, err
	}
	mobs, err := LoadMobTable(filepath.Join(dir, "mobs.yaml"))
	if err != nil {
		return nil, err
	}
	items, err := LoadItemTable(filepath.Join(dir, "items.yaml"))
	if err != nil {
		return nil, err
	}
	abilities, err := LoadAbilityTable(filepath.Join(dir, "abilities.yaml"))
	if err != nil {
		return nil, err
	}
	effects, err := LoadEffectTable(filepath.Join(dir, "effects.yaml"))
	if err != nil {
		return nil, err
	}
	quests, err := LoadQuestTable(filepath.Join(dir, "quests.yaml"))
	if err != nil {
		return nil, err
	}
	achievements, err := LoadAchievementTable(filepath.Join(dir, "achievements.yaml"))
	if err != nil {
		return nil, err
	}
	shops, err := LoadShopTable(filepath.Join(dir, "shops.yaml"))
	if err != nil {
		return nil, err
	}
	classes, err := LoadClassTable(filepath.Join(dir, "classes.yaml"))
	if err != nil {
		return nil, err
	}

	w := &World{
		Zones:        zones,
		Rooms:        make(map[string]*Room),
		Mobs:         mobs,
		Items:        items,
		Abilities:    abilities,
		Effects:      effects,
		Quests:       quests,
		Achievements: achievements,
		Shops:        shops,
		Classes:      classes,
		StartRoom:    wf.StartRoom,
		MOTD:         wf.MOTD,
	}
	for _, z := range zones {
		for _, r := range z.Rooms {
			if _, dup := w.Rooms[r.ID]; dup {
				return nil, fmt.Errorf("duplicate room id %q", r.ID)
			}
			w.Rooms[r.ID] = r
		}
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// validate cross-checks references between tables. Every broken reference
// is a boot failure; a half-loaded world is worse than no world.
func (w *World) validate() error {
	if w.StartRoom == "" {
		return fmt.Errorf("world.yaml: start_room is required")
	}
	if _, ok := w.Rooms[w.StartRoom]; !ok {
		return fmt.Errorf("world.yaml: start_room %q does not exist", w.StartRoom)
	}
	for _, r := range w.Rooms {
		for dir, target := range r.Exits {
			if _, ok := w.Rooms[target]; !ok {
				return fmt.Errorf("room %s: exit %s leads to unknown room %q", r.ID, dir, target)
			}
		}
		for dir, target := range r.RemoteExits {
			if _, ok := w.Rooms[target]; !ok {
				return fmt.Errorf("room %s: remote exit %s leads to unknown room %q", r.ID, dir, target)
			}
			if ZoneOf(target) == r.Zone {
				return fmt.Errorf("room %s: remote exit %s stays inside zone %s", r.ID, dir, r.Zone)
			}
		}
		for _, f := range r.Features {
			switch f.Kind {
			case FeatureDoor:
				if _, ok := r.Exits[f.Exit]; !ok {
					if _, remote := r.RemoteExits[f.Exit]; !remote {
						return fmt.Errorf("room %s: door %q gates missing exit %q", r.ID, f.Key, f.Exit)
					}
				}
			case FeatureContainer:
				for _, item := range f.Items {
					if w.Items.Get(item) == nil {
						return fmt.Errorf("room %s: container %q holds unknown item %q", r.ID, f.Key, item)
					}
				}
			case FeatureLever:
				target := w.Rooms[f.TargetRoom]
				if target == nil {
					return fmt.Errorf("room %s: lever %q targets unknown room %q", r.ID, f.Key, f.TargetRoom)
				}
				tf := target.Feature(f.TargetFeature)
				if tf == nil || tf.Kind != FeatureDoor {
					return fmt.Errorf("room %s: lever %q targets missing door %q in %s", r.ID, f.Key, f.TargetFeature, f.TargetRoom)
				}
			case FeatureSign:
			default:
				return fmt.Errorf("room %s: feature %q has unknown kind %q", r.ID, f.Key, f.Kind)
			}
		}
	}
	var err error
	w.Mobs.All(func(m *MobTemplate) {
		if err != nil {
			return
		}
		for _, d := range m.Drops {
			if w.Items.Get(d.Item) == nil {
				err = fmt.Errorf("mob %s: drop references unknown item %q", m.Key, d.Item)
				return
			}
		}
		if m.Shop != "" && w.Shops.Get(m.Shop) == nil {
			err = fmt.Errorf("mob %s: unknown shop %q", m.Key, m.Shop)
			return
		}
		for _, q := range m.Quests {
			if w.Quests.Get(q) == nil {
				err = fmt.Errorf("mob %s: unknown quest %q", m.Key, q)
				return
			}
		}
	})
	if err != nil {
		return err
	}
	for _, s := range w.Mobs.Spawns() {
		if _, ok := w.Rooms[s.Room]; !ok {
			return fmt.Errorf("spawn of %s: unknown room %q", s.Mob, s.Room)
		}
	}
	for _, q := range mapValues(w.Quests.byKey) {
		if q.Objective.Kind == ObjectiveKill && w.Mobs.Get(q.Objective.Target) == nil {
			return fmt.Errorf("quest %s: kill objective targets unknown mob %q", q.Key, q.Objective.Target)
		}
		if q.Objective.Kind == ObjectiveVisit {
			if _, ok := w.Rooms[q.Objective.Target]; !ok {
				return fmt.Errorf("quest %s: visit objective targets unknown room %q", q.Key, q.Objective.Target)
			}
		}
		if q.Giver != "" && w.Mobs.Get(q.Giver) == nil {
			return fmt.Errorf("quest %s: unknown giver %q", q.Key, q.Giver)
		}
	}
	for _, a := range w.Abilities.byKey {
		if a.Kind == AbilityStatus && w.Effects.Get(a.Effect) == nil {
			return fmt.Errorf("ability %s: unknown effect %q", a.Key, a.Effect)
		}
	}
	for _, s := range w.Shops.byKey {
		for _, e := range s.Stock {
			if w.Items.Get(e.Item) == nil {
				return fmt.Errorf("shop %s: stocks unknown item %q", s.Key, e.Item)
			}
		}
	}
	return nil
}

func mapValues[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
