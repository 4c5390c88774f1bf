package content

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Class struct {
	Key        string   `yaml:"key"`
	Name       string   `yaml:"name"`
	HPPerLevel int      `yaml:"hp_per_level"`
	MPPerLevel int      `yaml:"mp_per_level"`
	BaseHP     int      `yaml:"base_hp"`
	BaseMana   int      `yaml:"base_mana"`
	Stats      StatMods `yaml:"stats"` // starting stats, absolute
}

type Race struct {
	Key   string   `yaml:"key"`
	Name  string   `yaml:"name"`
	Stats StatMods `yaml:"stats"` // adjustment on top of class stats
}

type classFile struct {
	Classes []*Class `yaml:"classes"`
	Races   []*Race  `yaml:"races"`
}

type ClassTable struct {
	classes map[string]*Class
	races   map[string]*Race
	order   classFile
}

func LoadClassTable(path string) (*ClassTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classes %s: %w", path, err)
	}
	var f classFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse classes %s: %w", path, err)
	}
	if len(f.Classes) == 0 || len(f.Races) == 0 {
		return nil, fmt.Errorf("classes %s: needs at least one class and one race", path)
	}
	classes := make(map[string]*Class, len(f.Classes))
	for _, c := range f.Classes {
		if _, dup := classes[c.Key]; dup {
			return nil, fmt.Errorf("classes %s: duplicate class %q", path, c.Key)
		}
		classes[c.Key] = c
	}
	races := make(map[string]*Race, len(f.Races))
	for _, r := range f.Races {
		if _, dup := races[r.Key]; dup {
			return nil, fmt.Errorf("classes %s: duplicate race %q", path, r.Key)
		}
		races[r.Key] = r
	}
	return &ClassTable{classes: classes, races: races, order: f}, nil
}

func (t *ClassTable) Class(key string) *Class { return t.classes[key] }
func (t *ClassTable) Race(key string) *Race   { return t.races[key] }
func (t *ClassTable) Classes() []*Class       { return t.order.Classes }
func (t *ClassTable) Races() []*Race          { return t.order.Races }
