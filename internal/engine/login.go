package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/persist"
	"github.com/ambonmud/server/internal/sid"
)

// ErrLoginBusy is the step error posted when every worker is behind and the
// job queue is full. The flow reports the vault as unreachable and re-asks.
var ErrLoginBusy = errors.New("engine: login workers saturated")

// loginStepTimeout bounds one repository call. A hung database fails the
// step instead of pinning a worker.
const loginStepTimeout = 5 * time.Second

type loginJobKind uint8

const (
	jobLookup loginJobKind = iota
	jobVerify
	jobCreate
)

type loginJob struct {
	kind     loginJobKind
	sid      sid.ID
	epoch    uint32
	name     string
	rec      *persist.Record
	password string
}

// LoginPool runs the blocking account steps (repository lookups, bcrypt)
// off the engine goroutine. Each result re-enters the pipeline as a
// LoginCompleted event on the inbound bus, so the engine consumes it in
// the input phase like any other event and the flow's epoch check drops
// results that arrive after the session moved on.
type LoginPool struct {
	repo    persist.Repo
	inbound bus.InboundBus
	log     *zap.Logger
	jobs    chan loginJob
	workers int
}

func NewLoginPool(repo persist.Repo, inbound bus.InboundBus, workers int, log *zap.Logger) *LoginPool {
	if workers <= 0 {
		workers = 4
	}
	return &LoginPool{
		repo:    repo,
		inbound: inbound,
		log:     log.With(zap.String("component", "login")),
		jobs:    make(chan loginJob, workers*16),
		workers: workers,
	}
}

// Run services jobs until ctx is canceled.
func (p *LoginPool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.jobs:
					p.step(ctx, job)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Lookup fetches the account record by name.
func (p *LoginPool) Lookup(id sid.ID, epoch uint32, name string) {
	p.submit(loginJob{kind: jobLookup, sid: id, epoch: epoch, name: name}, "lookup")
}

// Verify checks the password against the stored hash.
func (p *LoginPool) Verify(id sid.ID, epoch uint32, rec *persist.Record, password string) {
	p.submit(loginJob{kind: jobVerify, sid: id, epoch: epoch, rec: rec, password: password}, "verify")
}

// Create hashes the password and inserts the record.
func (p *LoginPool) Create(id sid.ID, epoch uint32, rec *persist.Record, password string) {
	p.submit(loginJob{kind: jobCreate, sid: id, epoch: epoch, rec: rec, password: password}, "create")
}

// submit is called on the engine goroutine and must not block. A full job
// queue fails the step immediately rather than stalling the tick.
func (p *LoginPool) submit(job loginJob, step string) {
	select {
	case p.jobs <- job:
	default:
		p.log.Warn("login job rejected", zap.Uint64("sid", uint64(job.sid)), zap.String("step", step))
		p.post(event.LoginCompleted{Sid: job.sid, Epoch: job.epoch, Step: step, Err: ErrLoginBusy})
	}
}

func (p *LoginPool) step(ctx context.Context, job loginJob) {
	ctx, cancel := context.WithTimeout(ctx, loginStepTimeout)
	defer cancel()

	switch job.kind {
	case jobLookup:
		rec, err := p.repo.FindByName(ctx, job.name)
		p.post(event.LoginCompleted{Sid: job.sid, Epoch: job.epoch, Step: "lookup", Err: err, Data: rec})

	case jobVerify:
		err := bcrypt.CompareHashAndPassword([]byte(job.rec.PasswordHash), []byte(job.password))
		p.post(event.LoginCompleted{Sid: job.sid, Epoch: job.epoch, Step: "verify", Err: err, Data: job.rec})

	case jobCreate:
		hash, err := bcrypt.GenerateFromPassword([]byte(job.password), bcrypt.DefaultCost)
		if err != nil {
			p.post(event.LoginCompleted{Sid: job.sid, Epoch: job.epoch, Step: "create", Err: err})
			return
		}
		job.rec.PasswordHash = string(hash)
		created, err := p.repo.Create(ctx, job.rec)
		p.post(event.LoginCompleted{Sid: job.sid, Epoch: job.epoch, Step: "create", Err: err, Data: created})
	}
}

// post hands the result to the engine. Drops log loudly: a full inbound bus
// means the engine is already drowning, and the flow's retry path covers
// the lost step.
func (p *LoginPool) post(ev event.LoginCompleted) {
	if err := p.inbound.Publish(ev); err != nil {
		p.log.Warn("login result dropped",
			zap.Uint64("sid", uint64(ev.Sid)),
			zap.String("step", ev.Step),
			zap.Error(err))
	}
}
