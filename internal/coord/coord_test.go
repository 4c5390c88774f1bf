package coord

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryLeases(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a, err := m.AcquireLease(ctx, "gw-a")
	require.NoError(t, err)
	b, err := m.AcquireLease(ctx, "gw-b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	require.NoError(t, m.ReleaseLease(ctx, a))
	// Released slot becomes claimable again somewhere in the rotation.
	seen := map[uint16]bool{b: true}
	for i := 0; i < 1023; i++ {
		n, err := m.AcquireLease(ctx, "gw-c")
		require.NoError(t, err)
		assert.False(t, seen[n], "lease %d issued twice", n)
		seen[n] = true
	}
	_, err = m.AcquireLease(ctx, "gw-d")
	assert.ErrorIs(t, err, ErrNoLease)
}

func TestMemoryZoneAndPlayerKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	owner, err := m.ZoneOwner(ctx, "forest")
	require.NoError(t, err)
	assert.Empty(t, owner)

	require.NoError(t, m.SetZoneOwner(ctx, "forest", "eng-b"))
	owner, err = m.ZoneOwner(ctx, "forest")
	require.NoError(t, err)
	assert.Equal(t, "eng-b", owner)

	require.NoError(t, m.SetInstanceCount(ctx, "forest", "i1", 12))
	require.NoError(t, m.SetInstanceCount(ctx, "forest", "i2", 3))
	inst, err := m.Instances(ctx, "forest")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"i1": 12, "i2": 3}, inst)

	require.NoError(t, m.SetPlayerEngine(ctx, "Alice", "eng-b"))
	eng, err := m.PlayerEngine(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "eng-b", eng)

	require.NoError(t, m.DeletePlayerEngine(ctx, "ALICE"))
	eng, err = m.PlayerEngine(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, eng)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), mr.Addr(), "", time.Minute, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return mr, r
}

func TestRedisLeaseClaim(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)

	a, err := r.AcquireLease(ctx, "gw-a")
	require.NoError(t, err)
	b, err := r.AcquireLease(ctx, "gw-b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	require.NoError(t, r.RefreshLease(ctx, a))
	require.NoError(t, r.ReleaseLease(ctx, a))
}

func TestRedisZoneKeys(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)

	require.NoError(t, r.SetZoneOwner(ctx, "hub", "eng-a"))
	assert.Equal(t, "eng-a", mustGet(t, mr, "zone/hub/owner"))

	owner, err := r.ZoneOwner(ctx, "hub")
	require.NoError(t, err)
	assert.Equal(t, "eng-a", owner)

	missing, err := r.ZoneOwner(ctx, "nowhere")
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, r.SetInstanceCount(ctx, "hub", "i1", 40))
	require.NoError(t, r.SetInstanceCount(ctx, "hub", "i2", 7))
	inst, err := r.Instances(ctx, "hub")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"i1": 40, "i2": 7}, inst)
}

func TestRedisPlayerIndex(t *testing.T) {
	ctx := context.Background()
	mr, r := newTestRedis(t)

	require.NoError(t, r.SetPlayerEngine(ctx, "alice", "eng-b"))
	assert.Equal(t, "eng-b", mustGet(t, mr, "player/alice/engine"))

	eng, err := r.PlayerEngine(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "eng-b", eng)

	require.NoError(t, r.DeletePlayerEngine(ctx, "alice"))
	eng, err = r.PlayerEngine(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, eng)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
