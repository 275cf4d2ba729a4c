// Package executor runs deletion tasks through a fixed-size worker pool,
// enforcing the global concurrency cap across every tenant and resource type
// in a run.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudreap/cloudreap/gateway"
	"github.com/cloudreap/cloudreap/tracking"
	"github.com/cloudreap/cloudreap/types"
)

// Task is one deletion to execute. Credentials carries the tenant's full
// ordered list; the pool picks which to use per resource type.
type Task struct {
	Tenant      string
	AuthURL     string
	Resource    types.Resource
	Credentials []types.Credential
}

// ResultFunc observes every completed attempt, after its outcome has been
// persisted to tracking.
type ResultFunc func(task Task, outcome types.Outcome)

// Pool is the shared deletion executor. Its worker count is the hard cap on
// simultaneously in-flight delete calls.
type Pool struct {
	gw       gateway.Gateway
	tracker  tracking.Tracker
	logger   zerolog.Logger
	onResult ResultFunc

	tasks    chan Task
	workers  int
	pending  sync.WaitGroup
	workerWG sync.WaitGroup
	stopped  atomic.Bool

	sessions sessionCache
}

// NewPool creates a pool with the given worker count (the global
// max-simultaneous-deletes cap). onResult may be nil.
func NewPool(gw gateway.Gateway, tracker tracking.Tracker, workers int, logger zerolog.Logger, onResult ResultFunc) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		gw:       gw,
		tracker:  tracker,
		logger:   logger.With().Str("component", "executor").Logger(),
		onResult: onResult,
		tasks:    make(chan Task, workers*2),
		workers:  workers,
	}
}

// Start launches the workers. The context gates new work only: a cancelled
// context stops workers from picking up queued tasks, but a delete call
// already in flight is allowed to complete so tracking stays consistent.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.workerWG.Add(1)
		go func() {
			defer p.workerWG.Done()
			for task := range p.tasks {
				p.process(ctx, task)
				p.pending.Done()
			}
		}()
	}
}

// Submit enqueues a task. It returns false once the pool is shutting down or
// the context is cancelled, in which case the task was not accepted.
func (p *Pool) Submit(ctx context.Context, task Task) bool {
	if p.stopped.Load() || ctx.Err() != nil {
		return false
	}
	p.pending.Add(1)
	p.tasks <- task
	return true
}

// Wait blocks until every accepted task has been processed. Runs are
// serialized by the coordinator, so pending work always belongs to the
// caller's run.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Shutdown stops the pool and waits for workers to drain. No Submit may be
// in progress or follow it.
func (p *Pool) Shutdown() {
	if p.stopped.Swap(true) {
		return
	}
	close(p.tasks)
	p.workerWG.Wait()
}

func (p *Pool) process(ctx context.Context, task Task) {
	res := task.Resource
	log := p.logger.With().
		Str("tenant", task.Tenant).
		Str("type", string(res.Type)).
		Str("id", res.ID).
		Str("name", res.Name).
		Logger()

	acquired, err := p.tracker.MarkInFlight(task.Tenant, res.Type, res.ID, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("tracking store rejected in-flight claim")
		return
	}
	if !acquired {
		log.Debug().Msg("deletion already in flight, skipping")
		return
	}

	if ctx.Err() != nil {
		// Shutdown arrived between claim and delete; release the claim
		// untouched so the next run picks the resource up again.
		if err := p.tracker.ClearInFlight(task.Tenant, res.Type, res.ID); err != nil {
			log.Error().Err(err).Msg("failed to release in-flight claim")
		}
		return
	}

	outcome := p.delete(ctx, task, log)

	if err := p.tracker.RecordAttempt(task.Tenant, res.Type, res.ID, outcome, time.Now()); err != nil {
		log.Error().Err(err).Msg("failed to record deletion outcome")
	}
	if p.onResult != nil {
		p.onResult(task, outcome)
	}
}

// delete executes the attempt under the credential strategy for the resource
// type and condenses the per-credential results into one outcome.
func (p *Pool) delete(ctx context.Context, task Task, log zerolog.Logger) types.Outcome {
	// In-flight deletions run to completion even during shutdown.
	callCtx := context.WithoutCancel(ctx)

	var sawNotFound, sawTransient bool

	for _, cred := range credentialsFor(task.Resource.Type, task.Credentials) {
		sess, err := p.sessions.get(callCtx, p.gw, task.AuthURL, task.Tenant, cred)
		if err != nil {
			if gateway.IsAuth(err) {
				log.Warn().Err(err).Str("username", cred.Username).Msg("credential rejected")
			} else {
				sawTransient = true
				log.Warn().Err(err).Str("username", cred.Username).Msg("authentication failed")
			}
			continue
		}

		err = sess.Delete(callCtx, task.Resource.Type, task.Resource.ID)
		switch {
		case err == nil:
			log.Info().Str("username", cred.Username).Msg("resource deleted")
			return types.OutcomeSuccess
		case gateway.IsNotFound(err):
			// For key-pairs this credential may simply not own the
			// pair; another one in the list might.
			sawNotFound = true
		case gateway.IsInUse(err):
			log.Warn().Err(err).Msg("resource in use, skipped until next run")
			return types.OutcomeInUse
		case gateway.IsAuth(err):
			log.Warn().Err(err).Str("username", cred.Username).Msg("deletion not permitted for credential")
		default:
			sawTransient = true
			log.Error().Err(err).Str("username", cred.Username).Msg("deletion failed")
		}
	}

	switch {
	case sawTransient:
		return types.OutcomeFailed
	case sawNotFound:
		// Every credential that could see the resource says it is gone.
		return types.OutcomeNotFound
	default:
		return types.OutcomeFailed
	}
}
