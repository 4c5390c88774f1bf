package content

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Room identifiers are "zone:local" everywhere outside the zone files
// themselves. Inside a zone file, plain local ids are allowed and get
// qualified at load time.

type Zone struct {
	Key   string  `yaml:"zone"`
	Name  string  `yaml:"name"`
	Rooms []*Room `yaml:"rooms"`
}

type Room struct {
	Local       string            `yaml:"id"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Exits       map[string]string `yaml:"exits"`
	RemoteExits map[string]string `yaml:"remote_exits"` // always fully qualified, may cross zones
	Features    []*Feature        `yaml:"features"`

	// ID is the fully qualified "zone:local" form, filled at load time.
	ID   string `yaml:"-"`
	Zone string `yaml:"-"`
}

// Feature kinds.
const (
	FeatureDoor      = "door"
	FeatureContainer = "container"
	FeatureLever     = "lever"
	FeatureSign      = "sign"
)

type Feature struct {
	Kind string `yaml:"kind"`
	Key  string `yaml:"id"`
	Name string `yaml:"name"`

	// door
	Exit string `yaml:"exit"` // direction the door gates
	Open bool   `yaml:"open"` // initial state

	// container
	Items []string `yaml:"items"` // item template keys placed inside at boot

	// lever
	TargetRoom    string `yaml:"target_room"` // local or qualified
	TargetFeature string `yaml:"target_feature"`

	// sign
	Text string `yaml:"text"`
}

// Directions in canonical order, with their reverses for arrival messages.
var Directions = []string{"north", "south", "east", "west", "up", "down"}

var reverseDir = map[string]string{
	"north": "south", "south": "north",
	"east": "west", "west": "east",
	"up": "down", "down": "up",
}

// ReverseDir returns the opposite direction, or "" for unknown ones.
func ReverseDir(dir string) string { return reverseDir[dir] }

// QualifyRoomID turns a local room id into "zone:local". Already qualified
// ids pass through unchanged.
func QualifyRoomID(zone, id string) string {
	if strings.Contains(id, ":") {
		return id
	}
	return zone + ":" + id
}

// ZoneOf extracts the zone part of a qualified room id.
func ZoneOf(roomID string) string {
	if i := strings.IndexByte(roomID, ':'); i >= 0 {
		return roomID[:i]
	}
	return roomID
}

// LoadZones reads every *.yaml file under dir, one zone per file.
func LoadZones(dir string) (map[string]*Zone, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read zone dir %s: %w", dir, err)
	}
	zones := make(map[string]*Zone)
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read zone %s: %w", path, err)
		}
		var z Zone
		if err := yaml.Unmarshal(raw, &z); err != nil {
			return nil, fmt.Errorf("parse zone %s: %w", path, err)
		}
		if z.Key == "" {
			return nil, fmt.Errorf("zone %s: missing zone key", path)
		}
		if _, dup := zones[z.Key]; dup {
			return nil, fmt.Errorf("zone %s: duplicate zone key %q", path, z.Key)
		}
		for _, r := range z.Rooms {
			r.Zone = z.Key
			r.ID = QualifyRoomID(z.Key, r.Local)
			qualified := make(map[string]string, len(r.Exits))
			for dir, target := range r.Exits {
				qualified[dir] = QualifyRoomID(z.Key, target)
			}
			r.Exits = qualified
			for _, f := range r.Features {
				if f.Kind == FeatureLever && f.TargetRoom != "" {
					f.TargetRoom = QualifyRoomID(z.Key, f.TargetRoom)
				}
			}
		}
		zones[z.Key] = &z
	}
	if len(zones) == 0 {
		return nil, fmt.Errorf("zone dir %s: no zones found", dir)
	}
	return zones, nil
}

// Feature lookup by key within a room.
func (r *Room) Feature(key string) *Feature {
	for _, f := range r.Features {
		if f.Key == key {
			return f
		}
	}
	return nil
}

// DoorFor returns the door feature gating the given exit, if any.
func (r *Room) DoorFor(dir string) *Feature {
	for _, f := range r.Features {
		if f.Kind == FeatureDoor && f.Exit == dir {
			return f
		}
	}
	return nil
}
