package persist

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Saver batches player writes so the engine goroutine never waits on the
// database. Enqueue coalesces by player id (last snapshot wins); the Run
// loop flushes on an interval and once more on shutdown. Lost-write window
// is bounded by the interval.
type Saver struct {
	repo     Repo
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	pending map[int64]*Record

	wake chan struct{}
}

func NewSaver(repo Repo, interval time.Duration, log *zap.Logger) *Saver {
	return &Saver{
		repo:     repo,
		interval: interval,
		log:      log.With(zap.String("component", "saver")),
		pending:  make(map[int64]*Record),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue schedules a record for the next flush. Non-blocking; callers on
// the engine goroutine hand over ownership of rec.
func (s *Saver) Enqueue(rec *Record) {
	if rec == nil || rec.ID == 0 {
		return
	}
	s.mu.Lock()
	s.pending[rec.ID] = rec
	s.mu.Unlock()
}

// FlushNow forces an immediate flush cycle without waiting the interval.
func (s *Saver) FlushNow() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run flushes until ctx is cancelled, then drains one final time so a
// graceful shutdown loses nothing.
func (s *Saver) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			s.flush(ctx)
		case <-s.wake:
			s.flush(ctx)
		}
	}
}

// Pending reports how many records await the next flush.
func (s *Saver) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Saver) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make(map[int64]*Record)
	s.mu.Unlock()

	for id, rec := range batch {
		backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := s.repo.Save(ctx, rec); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			s.log.Error("player save failed", zap.Int64("player", id), zap.Error(err))
		}
	}
}
