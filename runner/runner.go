// Package runner drives one full cleanup cycle: every tenant, every
// configured resource type, evaluate, submit deletions, record. Failures are
// isolated per unit of work; a broken tenant never aborts the run.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudreap/cloudreap/config"
	"github.com/cloudreap/cloudreap/executor"
	"github.com/cloudreap/cloudreap/gateway"
	"github.com/cloudreap/cloudreap/policy"
	"github.com/cloudreap/cloudreap/tracking"
	"github.com/cloudreap/cloudreap/types"
)

// PruneRetention is how long confirmed-deleted rows stay in tracking before
// being pruned.
const PruneRetention = 30 * 24 * time.Hour

// RunReport summarizes one cleanup cycle.
type RunReport struct {
	Started         time.Time
	Duration        time.Duration
	Tenants         int
	TenantsFailed   int
	ResourcesListed int
	Candidates      int
	Submitted       int
	Deleted         int
	Failed          int
	InUse           int
	Pruned          int
	Incomplete      bool
}

// Runner coordinates cleanup cycles. At most one run may be active at a
// time; the daemon enforces that by skipping ticks.
type Runner struct {
	cfg       *config.Config
	gw        gateway.Gateway
	store     *tracking.Store
	pool      *executor.Pool
	evaluator *policy.Evaluator
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu      sync.Mutex
	current *RunReport
}

// New creates a runner. Wire HandleResult as the pool's result callback so
// outcomes land in the active run's report.
func New(cfg *config.Config, gw gateway.Gateway, store *tracking.Store, pool *executor.Pool, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		gw:        gw,
		store:     store,
		pool:      pool,
		evaluator: policy.NewEvaluator(store),
		logger:    logger.With().Str("component", "runner").Logger(),
		tracer:    otel.Tracer("cloudreap/runner"),
	}
}

// HandleResult records a completed deletion attempt against the active run.
func (r *Runner) HandleResult(task executor.Task, outcome types.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	switch outcome {
	case types.OutcomeSuccess, types.OutcomeNotFound:
		r.current.Deleted++
	case types.OutcomeInUse:
		r.current.InUse++
	default:
		r.current.Failed++
	}
}

// RunOnce performs one full cleanup cycle and waits for all submitted
// deletions to finish before returning.
func (r *Runner) RunOnce(ctx context.Context) *RunReport {
	ctx, span := r.tracer.Start(ctx, "cleanup.run")
	defer span.End()

	report := &RunReport{Started: time.Now(), Tenants: len(r.cfg.Cleanup)}
	r.mu.Lock()
	r.current = report
	r.mu.Unlock()

	for i := range r.cfg.Cleanup {
		if ctx.Err() != nil {
			report.Incomplete = true
			break
		}
		r.runTenant(ctx, &r.cfg.Cleanup[i], report)
	}

	// Deletions already queued are allowed to finish even when the run is
	// cut short.
	r.pool.Wait()

	if pruned, err := r.store.Prune(PruneRetention, time.Now()); err != nil {
		r.logger.Error().Err(err).Msg("tracking prune failed")
	} else {
		report.Pruned = pruned
	}

	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()

	report.Duration = time.Since(report.Started)
	span.SetAttributes(
		attribute.Int("cleanup.candidates", report.Candidates),
		attribute.Int("cleanup.deleted", report.Deleted),
		attribute.Int("cleanup.failed", report.Failed),
	)
	r.logger.Info().
		Int("tenants", report.Tenants).
		Int("listed", report.ResourcesListed).
		Int("candidates", report.Candidates).
		Int("deleted", report.Deleted).
		Int("failed", report.Failed).
		Int("in_use", report.InUse).
		Bool("incomplete", report.Incomplete).
		Dur("duration", report.Duration).
		Msg("cleanup run finished")

	return report
}

func (r *Runner) runTenant(ctx context.Context, spec *config.CleanupSpec, report *RunReport) {
	ctx, span := r.tracer.Start(ctx, "cleanup.tenant",
		trace.WithAttributes(attribute.String("tenant", spec.Tenant)))
	defer span.End()

	log := r.logger.With().Str("tenant", spec.Tenant).Logger()

	// Listing always happens under the default credential; additional
	// credentials only matter for key-pair deletion.
	sess, err := r.gw.Authenticate(ctx, spec.AuthURL, spec.Tenant, spec.DefaultCredential())
	if err != nil {
		log.Error().Err(err).Msg("tenant authentication failed, skipping tenant this run")
		report.TenantsFailed++
		return
	}

	for _, rtype := range types.AllResourceTypes() {
		pol := spec.Policy(rtype)
		if pol == nil {
			continue
		}
		if ctx.Err() != nil {
			report.Incomplete = true
			return
		}
		r.runArea(ctx, spec, sess, rtype, pol, report, log)
	}
}

func (r *Runner) runArea(ctx context.Context, spec *config.CleanupSpec, sess gateway.Session, rtype types.ResourceType, pol *config.ResourcePolicy, report *RunReport, log zerolog.Logger) {
	log = log.With().Str("type", string(rtype)).Logger()

	resources, err := sess.List(ctx, rtype)
	if err != nil {
		log.Error().Err(err).Msg("listing failed, skipping resource type this run")
		return
	}
	report.ResourcesListed += len(resources)

	now := time.Now()
	for _, res := range resources {
		if err := r.store.UpsertSeen(spec.Tenant, res, now); err != nil {
			log.Error().Err(err).Str("id", res.ID).Msg("failed to record observation")
		}
	}

	candidates, skips := r.evaluator.Candidates(spec.Tenant, resources, pol, now)
	report.Candidates += len(candidates)

	for _, skip := range skips {
		log.Debug().
			Str("id", skip.Resource.ID).
			Str("name", skip.Resource.Name).
			Str("reason", string(skip.Reason)).
			Msg("resource spared")
	}

	for _, res := range candidates {
		task := executor.Task{
			Tenant:      spec.Tenant,
			AuthURL:     spec.AuthURL,
			Resource:    res,
			Credentials: spec.Credentials,
		}
		if !r.pool.Submit(ctx, task) {
			report.Incomplete = true
			log.Warn().Str("id", res.ID).Msg("shutdown in progress, deletion not submitted")
			return
		}
		report.Submitted++
	}
}
