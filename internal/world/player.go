package world

import (
	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/sid"
)

// Player is the live state of one connected character. All fields are
// accessed only from the engine goroutine; no locks needed.
type Player struct {
	Sid    sid.ID
	ID     int64 // persistent character id
	Name   string
	RoomID string

	Race  string
	Class string
	Level int

	HP        int
	MaxHP     int
	BaseMaxHP int // before equipment and effects
	Mana      int
	MaxMana   int

	// Base stats. Equipment and status effects layer on top; use the
	// Total* helpers when a derived value is needed.
	Str int
	Dex int
	Con int
	Int int
	Wis int
	Cha int

	XPTotal int64
	Gold    int64

	IsStaff bool
	Ansi    bool

	// Epoch guards async work: worker results carry the epoch they were
	// started under and are dropped when the session has moved on.
	Epoch uint32

	// Quest and achievement state. Progress counters key by quest or
	// achievement key; completed sets are membership-only.
	QuestProgress    map[string]int
	CompletedQuests  map[string]struct{}
	AchievementCount map[string]int
	Unlocked         map[string]struct{}
	Titles           []string
	ActiveTitle      string

	// VisitedRooms backs visit objectives. Distinct rooms only.
	VisitedRooms map[string]struct{}
}

func NewPlayer(id sid.ID, name string) *Player {
	return &Player{
		Sid:              id,
		Name:             name,
		QuestProgress:    make(map[string]int),
		CompletedQuests:  make(map[string]struct{}),
		AchievementCount: make(map[string]int),
		Unlocked:         make(map[string]struct{}),
		VisitedRooms:     make(map[string]struct{}),
	}
}

// DisplayName is the name plus the active title, if any.
func (p *Player) DisplayName() string {
	if p.ActiveTitle == "" {
		return p.Name
	}
	return p.Name + " " + p.ActiveTitle
}

// Stats returns base stats plus the given adjustments from equipment and
// effects.
func (p *Player) Stats(mods content.StatMods) content.StatMods {
	return content.StatMods{
		Str: p.Str, Dex: p.Dex, Con: p.Con,
		Int: p.Int, Wis: p.Wis, Cha: p.Cha,
	}.Add(mods)
}

// Mob is a live spawned creature. Instances copy their template's combat
// numbers at spawn so staff tuning of one instance never bleeds into
// others. Engine goroutine only.
type Mob struct {
	ID          string // unique instance id, "tpl#n"
	TemplateKey string
	Name        string
	RoomID      string

	Level     int
	HP        int
	MaxHP     int
	MinDamage int
	MaxDamage int
	Armor     int

	XP       int
	GoldMin  int
	GoldMax  int
	Drops    []content.Drop
	Behavior string
	Shop     string
	Dialogue []string
	Quests   []string
	Keywords []string

	// SpawnRoom and RespawnMs drive the respawn schedule after death.
	SpawnRoom string
	RespawnMs int64

	// NextWanderAtMs is behavior state; zero means not yet scheduled.
	NextWanderAtMs int64
}

// NewMob instantiates a template into a room.
func NewMob(id string, tpl *content.MobTemplate, room string) *Mob {
	return &Mob{
		ID:          id,
		TemplateKey: tpl.Key,
		Name:        tpl.Name,
		RoomID:      room,
		Level:       tpl.Level,
		HP:          tpl.HP,
		MaxHP:       tpl.HP,
		MinDamage:   tpl.MinDamage,
		MaxDamage:   tpl.MaxDamage,
		Armor:       tpl.Armor,
		XP:          tpl.XP,
		GoldMin:     tpl.Gold.Min,
		GoldMax:     tpl.Gold.Max,
		Drops:       tpl.Drops,
		Behavior:    tpl.Behavior,
		Shop:        tpl.Shop,
		Dialogue:    tpl.Dialogue,
		Quests:      tpl.Quests,
		Keywords:    tpl.Keywords,
		SpawnRoom:   room,
	}
}
