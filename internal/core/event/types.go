package event

import "github.com/ambonmud/server/internal/sid"

// Domain events emitted by the tick systems and consumed one tick later
// (double-buffered) by progression tracking and other listeners.

// EntityKilled fires when a mob dies. Credited holds every session that
// had a threat entry on the mob at the moment of death.
type EntityKilled struct {
	MobID    string
	Template string
	Room     string
	Killer   sid.ID
	Credited []sid.ID
}

// PlayerLeveled fires after a level-up has been applied.
type PlayerLeveled struct {
	Sid      sid.ID
	NewLevel int
}

// HealPerformed fires when one player restores another's HP.
type HealPerformed struct {
	Healer sid.ID
	Target sid.ID
	Amount int
}

// RoomChanged fires after a player moves between rooms.
type RoomChanged struct {
	Sid  sid.ID
	From string
	To   string
}

// ItemAcquired fires when an item instance enters a player's inventory.
type ItemAcquired struct {
	Sid      sid.ID
	Template string
}

// MobDialogue fires when a player talks to a quest giver.
type MobDialogue struct {
	Sid      sid.ID
	Template string
}
