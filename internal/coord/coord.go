// Package coord abstracts the small amount of cluster-shared state: gateway
// lease ids, zone ownership and instance counts, and the player-location
// index used for O(1) cross-engine routing.
//
// Key shapes are part of the operational contract:
//
//	lease/<n>                         holder id, with TTL
//	zone/<zone>/owner                 engine id
//	zone/<zone>/instance/<id>/count   player count
//	player/<lower-name>/engine        engine id
//
// Single-process deployments use the in-memory implementation; clusters use
// the Redis one.
package coord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNoLease is returned when every lease slot is claimed.
var ErrNoLease = errors.New("coord: no lease available")

// Coordinator is the shared-state surface. Implementations must make writes
// visible to subsequent reads (the handoff commit path depends on the
// player-location write being acknowledged before the commit proceeds).
type Coordinator interface {
	// AcquireLease claims a free gateway lease id for holder.
	AcquireLease(ctx context.Context, holder string) (uint16, error)
	// ReleaseLease frees a lease explicitly (normally TTL expiry covers
	// crashes).
	ReleaseLease(ctx context.Context, lease uint16) error

	ZoneOwner(ctx context.Context, zone string) (string, error)
	SetZoneOwner(ctx context.Context, zone, engineID string) error
	Instances(ctx context.Context, zone string) (map[string]int, error)
	SetInstanceCount(ctx context.Context, zone, instanceID string, count int) error

	PlayerEngine(ctx context.Context, nameLower string) (string, error)
	SetPlayerEngine(ctx context.Context, nameLower, engineID string) error
	DeletePlayerEngine(ctx context.Context, nameLower string) error

	Close() error
}

func leaseKey(n uint16) string      { return fmt.Sprintf("lease/%d", n) }
func ownerKey(zone string) string   { return "zone/" + zone + "/owner" }
func playerKey(name string) string  { return "player/" + strings.ToLower(name) + "/engine" }
func instanceKey(zone, id string) string {
	return "zone/" + zone + "/instance/" + id + "/count"
}

// Memory is the single-process Coordinator. Safe for concurrent use; the
// gateway accept path and the engine goroutine both touch it.
type Memory struct {
	mu        sync.RWMutex
	nextLease uint16
	leases    map[uint16]string
	owners    map[string]string
	instances map[string]map[string]int // zone → instance → count
	players   map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		leases:    make(map[uint16]string),
		owners:    make(map[string]string),
		instances: make(map[string]map[string]int),
		players:   make(map[string]string),
	}
}

func (m *Memory) AcquireLease(_ context.Context, holder string) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < 1024; i++ {
		n := m.nextLease
		m.nextLease = (m.nextLease + 1) % 1024
		if _, taken := m.leases[n]; !taken {
			m.leases[n] = holder
			return n, nil
		}
	}
	return 0, ErrNoLease
}

func (m *Memory) ReleaseLease(_ context.Context, lease uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, lease)
	return nil
}

func (m *Memory) ZoneOwner(_ context.Context, zone string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owners[zone], nil
}

func (m *Memory) SetZoneOwner(_ context.Context, zone, engineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[zone] = engineID
	return nil
}

func (m *Memory) Instances(_ context.Context, zone string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.instances[zone]))
	for id, n := range m.instances[zone] {
		out[id] = n
	}
	return out, nil
}

func (m *Memory) SetInstanceCount(_ context.Context, zone, instanceID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	zi := m.instances[zone]
	if zi == nil {
		zi = make(map[string]int)
		m.instances[zone] = zi
	}
	zi[instanceID] = count
	return nil
}

func (m *Memory) PlayerEngine(_ context.Context, nameLower string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.players[strings.ToLower(nameLower)], nil
}

func (m *Memory) SetPlayerEngine(_ context.Context, nameLower, engineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[strings.ToLower(nameLower)] = engineID
	return nil
}

func (m *Memory) DeletePlayerEngine(_ context.Context, nameLower string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, strings.ToLower(nameLower))
	return nil
}

func (m *Memory) Close() error { return nil }
