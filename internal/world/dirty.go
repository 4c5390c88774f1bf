package world

import "github.com/ambonmud/server/internal/sid"

// DirtySet is an O(1)-insert membership set drained once per tick by the
// flush phase. Drain visits and clears in one pass; no intermediate slice.
type DirtySet[T comparable] struct {
	m map[T]struct{}
}

func newDirtySet[T comparable]() DirtySet[T] {
	return DirtySet[T]{m: make(map[T]struct{})}
}

func (d DirtySet[T]) Mark(v T)     { d.m[v] = struct{}{} }
func (d DirtySet[T]) Forget(v T)   { delete(d.m, v) }
func (d DirtySet[T]) Has(v T) bool { _, ok := d.m[v]; return ok }
func (d DirtySet[T]) Len() int     { return len(d.m) }

func (d DirtySet[T]) Drain(fn func(T)) {
	for v := range d.m {
		delete(d.m, v)
		fn(v)
	}
}

// Dirty groups the per-tick change sets. Marking twice in one tick still
// flushes once.
type Dirty struct {
	PlayerVitals DirtySet[sid.ID] // hp or mana changed
	PlayerStatus DirtySet[sid.ID] // level, effects, quest or title changed
	MobHP        DirtySet[string]
	GroupInfo    DirtySet[string]
}

func newDirty() *Dirty {
	return &Dirty{
		PlayerVitals: newDirtySet[sid.ID](),
		PlayerStatus: newDirtySet[sid.ID](),
		MobHP:        newDirtySet[string](),
		GroupInfo:    newDirtySet[string](),
	}
}
