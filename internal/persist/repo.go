// Package persist owns the durable player records. The engine never calls
// it directly from the tick goroutine; lookups run on login workers and
// writes go through the coalescing Saver.
package persist

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("persist: record not found")
	ErrNameTaken = errors.New("persist: name already exists")
)

// Record is the durable form of one character. Progress maps serialize to
// JSONB in the Postgres implementation.
type Record struct {
	ID           int64
	Name         string
	PasswordHash string

	Race  string
	Class string
	Level int

	HP      int
	MaxHP   int
	Mana    int
	MaxMana int

	Str int
	Dex int
	Con int
	Int int
	Wis int
	Cha int

	XPTotal int64
	Gold    int64
	RoomID  string

	IsStaff bool
	Ansi    bool

	QuestProgress    map[string]int
	CompletedQuests  []string
	AchievementCount map[string]int
	Unlocked         []string
	ActiveTitle      string
	VisitedRooms     []string

	Inventory []string          // item template keys
	Equipment map[string]string // slot -> template key

	CreatedAt time.Time
	LastSeen  time.Time
}

// Clone deep-copies the record so callers on different goroutines never
// share maps.
func (r *Record) Clone() *Record {
	c := *r
	c.QuestProgress = copyIntMap(r.QuestProgress)
	c.CompletedQuests = append([]string(nil), r.CompletedQuests...)
	c.AchievementCount = copyIntMap(r.AchievementCount)
	c.Unlocked = append([]string(nil), r.Unlocked...)
	c.VisitedRooms = append([]string(nil), r.VisitedRooms...)
	c.Inventory = append([]string(nil), r.Inventory...)
	if r.Equipment != nil {
		c.Equipment = make(map[string]string, len(r.Equipment))
		for k, v := range r.Equipment {
			c.Equipment[k] = v
		}
	}
	return &c
}

func copyIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Repo is the persistence contract. FindByName is case-insensitive. Save
// overwrites by id and is idempotent: saving the same record twice leaves
// the same row.
type Repo interface {
	FindByName(ctx context.Context, name string) (*Record, error)
	FindByID(ctx context.Context, id int64) (*Record, error)
	Create(ctx context.Context, rec *Record) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Close()
}
