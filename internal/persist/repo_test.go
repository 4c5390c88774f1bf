package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func newRecord(name string) *Record {
	return &Record{
		Name:         name,
		PasswordHash: "$2a$10$fake",
		Race:         "human",
		Class:        "warrior",
		Level:        1,
		HP:           20, MaxHP: 20,
		Mana: 10, MaxMana: 10,
		Str: 12, Dex: 10, Con: 11, Int: 9, Wis: 10, Cha: 10,
		RoomID:        "hub:square",
		QuestProgress: map[string]int{},
	}
}

func TestMemoryRepoCreateAndFind(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	created, err := repo.Create(ctx, newRecord("Alice"))
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	// Case-insensitive lookup.
	found, err := repo.FindByName(ctx, "aLiCe")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "Alice", found.Name)

	byID, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", byID.Name)

	_, err = repo.FindByName(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepoDuplicateName(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	_, err := repo.Create(ctx, newRecord("Alice"))
	require.NoError(t, err)

	_, err = repo.Create(ctx, newRecord("ALICE"))
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestMemoryRepoSaveIdempotent(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	rec, err := repo.Create(ctx, newRecord("Alice"))
	require.NoError(t, err)

	rec.Gold = 42
	rec.RoomID = "forest:edge"
	require.NoError(t, repo.Save(ctx, rec))
	require.NoError(t, repo.Save(ctx, rec))

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Gold)
	assert.Equal(t, "forest:edge", got.RoomID)
	assert.Equal(t, 1, repo.Count())
}

func TestMemoryRepoSaveUnknownID(t *testing.T) {
	repo := NewMemoryRepo()
	rec := newRecord("Ghost")
	rec.ID = 999
	assert.ErrorIs(t, repo.Save(context.Background(), rec), ErrNotFound)
}

func TestMemoryRepoCloneIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	rec, err := repo.Create(ctx, newRecord("Alice"))
	require.NoError(t, err)

	// Mutating the returned record must not leak into the store.
	rec.QuestProgress["rats"] = 3
	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, got.QuestProgress)
}

func TestSaverCoalescesAndFlushes(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := NewMemoryRepo()
	ctx := context.Background()
	rec, err := repo.Create(ctx, newRecord("Alice"))
	require.NoError(t, err)

	saver := NewSaver(repo, time.Hour, zaptest.NewLogger(t))

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = saver.Run(runCtx)
	}()

	// Two enqueues for the same id coalesce; the later snapshot wins.
	first := rec.Clone()
	first.Gold = 1
	saver.Enqueue(first)
	second := rec.Clone()
	second.Gold = 2
	saver.Enqueue(second)
	assert.Equal(t, 1, saver.Pending())

	saver.FlushNow()
	require.Eventually(t, func() bool { return saver.Pending() == 0 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Gold)
}

func TestSaverFinalFlushOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := NewMemoryRepo()
	ctx := context.Background()
	rec, err := repo.Create(ctx, newRecord("Alice"))
	require.NoError(t, err)

	saver := NewSaver(repo, time.Hour, zaptest.NewLogger(t))
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = saver.Run(runCtx)
	}()

	snap := rec.Clone()
	snap.Level = 5
	saver.Enqueue(snap)
	cancel()
	<-done

	got, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Level)
}
