package world

import "github.com/ambonmud/server/internal/sid"

// Threat tracks per-mob hate toward sessions. Amounts are float64 and may
// go negative; an entry exists from first touch until the mob or player is
// removed. Ties on Top break toward the earliest entry, so the opener
// holds a mob against equal later threat.
type Threat struct {
	rows map[string]*threatRow
	seq  uint64
}

type threatRow struct {
	entries map[sid.ID]*threatEntry
}

type threatEntry struct {
	amount float64
	seq    uint64 // insertion order, lower wins ties
}

func newThreat() *Threat {
	return &Threat{rows: make(map[string]*threatRow)}
}

// Add accumulates delta for (mob, id), creating the entry on first touch.
func (t *Threat) Add(mob string, id sid.ID, delta float64) {
	row := t.rows[mob]
	if row == nil {
		row = &threatRow{entries: make(map[sid.ID]*threatEntry)}
		t.rows[mob] = row
	}
	e := row.entries[id]
	if e == nil {
		t.seq++
		e = &threatEntry{seq: t.seq}
		row.entries[id] = e
	}
	e.amount += delta
}

// Top returns the session with the highest threat for which pred holds.
// Pred filters out targets the mob cannot reach (wrong room, dead).
func (t *Threat) Top(mob string, pred func(sid.ID) bool) (sid.ID, bool) {
	row := t.rows[mob]
	if row == nil {
		return 0, false
	}
	var (
		best  sid.ID
		bestE *threatEntry
		found bool
	)
	for id, e := range row.entries {
		if pred != nil && !pred(id) {
			continue
		}
		if !found || e.amount > bestE.amount ||
			(e.amount == bestE.amount && e.seq < bestE.seq) {
			best, bestE, found = id, e, true
		}
	}
	return best, found
}

// Amount reads the current threat, zero when absent.
func (t *Threat) Amount(mob string, id sid.ID) float64 {
	if row := t.rows[mob]; row != nil {
		if e := row.entries[id]; e != nil {
			return e.amount
		}
	}
	return 0
}

// HasEntry reports whether any session threatens the mob.
func (t *Threat) HasEntry(mob string) bool {
	row := t.rows[mob]
	return row != nil && len(row.entries) > 0
}

// HasThreat reports whether the specific session has an entry for the mob.
func (t *Threat) HasThreat(mob string, id sid.ID) bool {
	row := t.rows[mob]
	if row == nil {
		return false
	}
	_, ok := row.entries[id]
	return ok
}

// HasAnyOf reports whether any of the given sessions threaten the mob.
func (t *Threat) HasAnyOf(mob string, ids map[sid.ID]struct{}) bool {
	row := t.rows[mob]
	if row == nil {
		return false
	}
	if len(ids) < len(row.entries) {
		for id := range ids {
			if _, ok := row.entries[id]; ok {
				return true
			}
		}
		return false
	}
	for id := range row.entries {
		if _, ok := ids[id]; ok {
			return true
		}
	}
	return false
}

// Contributors returns every session with an entry for the mob, in
// insertion order.
func (t *Threat) Contributors(mob string) []sid.ID {
	row := t.rows[mob]
	if row == nil {
		return nil
	}
	out := make([]sid.ID, 0, len(row.entries))
	for id := range row.entries {
		out = append(out, id)
	}
	// Insertion order via seq.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && row.entries[out[j]].seq < row.entries[out[j-1]].seq; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// RemovePlayer drops the session from every row.
func (t *Threat) RemovePlayer(id sid.ID) {
	for mob, row := range t.rows {
		delete(row.entries, id)
		if len(row.entries) == 0 {
			delete(t.rows, mob)
		}
	}
}

// RemoveMob drops the whole row.
func (t *Threat) RemoveMob(mob string) {
	delete(t.rows, mob)
}

// RemapSession moves old's entries to new, merging additively where new
// already has one. Entry age follows the older of the two.
func (t *Threat) RemapSession(old, new sid.ID) {
	for _, row := range t.rows {
		oldE, ok := row.entries[old]
		if !ok {
			continue
		}
		delete(row.entries, old)
		if newE, exists := row.entries[new]; exists {
			newE.amount += oldE.amount
			if oldE.seq < newE.seq {
				newE.seq = oldE.seq
			}
		} else {
			row.entries[new] = oldE
		}
	}
}

// RowCount reports how many mobs currently have threat state.
func (t *Threat) RowCount() int { return len(t.rows) }
