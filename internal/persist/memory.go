package persist

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is the in-process Repo for tests and database.memory = true.
// Login workers call it concurrently, so unlike the world registries it
// carries a lock.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[int64]*Record
	byName map[string]int64 // lowercase name
	nextID int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[int64]*Record),
		byName: make(map[string]int64),
	}
}

func (r *MemoryRepo) FindByName(_ context.Context, name string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepo) FindByID(_ context.Context, id int64) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *MemoryRepo) Create(_ context.Context, rec *Record) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lower := strings.ToLower(rec.Name)
	if _, taken := r.byName[lower]; taken {
		return nil, ErrNameTaken
	}
	r.nextID++
	stored := rec.Clone()
	stored.ID = r.nextID
	now := time.Now()
	stored.CreatedAt = now
	stored.LastSeen = now
	r.byID[stored.ID] = stored
	r.byName[lower] = stored.ID
	return stored.Clone(), nil
}

// Save mirrors the SQL repo: name, password hash, and created_at are
// write-once, so whatever the snapshot carries for them is ignored.
func (r *MemoryRepo) Save(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byID[rec.ID]
	if !ok {
		return ErrNotFound
	}
	stored := rec.Clone()
	stored.Name = old.Name
	stored.PasswordHash = old.PasswordHash
	stored.CreatedAt = old.CreatedAt
	stored.LastSeen = time.Now()
	r.byID[rec.ID] = stored
	return nil
}

func (r *MemoryRepo) Close() {}

// Count reports stored records; test helper.
func (r *MemoryRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
