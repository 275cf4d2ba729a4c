// Package daemon runs the cleanup engine on its schedule and serves the
// operational endpoints.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cloudreap/cloudreap/config"
	"github.com/cloudreap/cloudreap/executor"
	"github.com/cloudreap/cloudreap/gateway"
	"github.com/cloudreap/cloudreap/runner"
	"github.com/cloudreap/cloudreap/tracking"
	"github.com/cloudreap/cloudreap/types"
)

// minReclaim floors the stale in-flight reclaim window for very short run
// intervals.
const minReclaim = 10 * time.Minute

// Daemon owns the tracking store, the shared deletion pool and the runner,
// and drives one cleanup cycle per interval.
type Daemon struct {
	cfg         *config.Config
	logger      zerolog.Logger
	metricsAddr string

	store   *tracking.Store
	pool    *executor.Pool
	runner  *runner.Runner
	metrics *Metrics

	startTime    time.Time
	running      atomic.Bool
	runs         atomic.Int64
	skippedTicks atomic.Int64
}

// New wires the daemon together. The caller owns gw; everything else is
// built here and released by Run on exit.
func New(cfg *config.Config, gw gateway.Gateway, logger zerolog.Logger, metricsAddr string) (*Daemon, error) {
	store, err := tracking.Open(cfg.General.TrackingDatabase, reclaimWindow(cfg.General.RunEveryDuration()))
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:         cfg,
		logger:      logger.With().Str("component", "daemon").Logger(),
		metricsAddr: metricsAddr,
		store:       store,
		metrics:     metrics,
		startTime:   time.Now(),
	}

	// The pool's result hook feeds both the active run's report and the
	// deletion metrics. d.runner is assigned before the pool starts.
	onResult := func(task executor.Task, outcome types.Outcome) {
		d.runner.HandleResult(task, outcome)
		metrics.RecordDeletion(context.Background(), task.Resource.Type, outcome)
	}
	d.pool = executor.NewPool(gw, store, cfg.General.MaxSimultaneousDeletes, logger, onResult)
	d.runner = runner.New(cfg, gw, store, d.pool, logger)

	return d, nil
}

// Run blocks until the context is cancelled or a termination signal
// arrives. In-flight deletions are drained before it returns.
func (d *Daemon) Run(ctx context.Context) error {
	d.pool.Start(ctx)

	var g run.Group

	loopCtx, cancelLoop := context.WithCancel(ctx)
	g.Add(func() error {
		return d.loop(loopCtx)
	}, func(error) {
		cancelLoop()
	})

	srv := &http.Server{
		Addr:              d.metricsAddr,
		Handler:           d.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Add(func() error {
		d.logger.Info().Str("addr", d.metricsAddr).Msg("starting metrics server")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err := g.Run()

	// Stop feeding workers, let in-flight deletions complete, then release
	// the store.
	d.pool.Shutdown()
	if cerr := d.store.Close(); cerr != nil {
		d.logger.Error().Err(cerr).Msg("failed to close tracking store")
	}

	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		d.logger.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loop fires a cycle immediately, then once per configured interval.
func (d *Daemon) loop(ctx context.Context) error {
	interval := d.cfg.General.RunEveryDuration()
	d.logger.Info().
		Dur("interval", interval).
		Int("tenants", len(d.cfg.Cleanup)).
		Int("max_simultaneous_deletes", d.cfg.General.MaxSimultaneousDeletes).
		Msg("cleanup daemon started")

	d.runCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

// runCycle starts a run unless one is still active, in which case the tick
// is skipped rather than overlapped.
func (d *Daemon) runCycle(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		d.skippedTicks.Add(1)
		d.metrics.RecordSkippedTick(ctx)
		d.logger.Warn().Msg("previous run still in progress, skipping this tick")
		return
	}
	defer d.running.Store(false)

	report := d.runner.RunOnce(ctx)
	d.runs.Add(1)
	d.metrics.RecordRun(ctx, report)
}

// RunOnce executes a single cleanup cycle and releases the daemon's
// resources. Used by the one-shot command.
func (d *Daemon) RunOnce(ctx context.Context) (*runner.RunReport, error) {
	d.pool.Start(ctx)
	report := d.runner.RunOnce(ctx)
	d.pool.Shutdown()
	if err := d.store.Close(); err != nil {
		return report, err
	}
	return report, nil
}

// RunCount returns how many cycles have completed.
func (d *Daemon) RunCount() int64 {
	return d.runs.Load()
}

// SkippedTicks returns how many ticks were skipped due to an active run.
func (d *Daemon) SkippedTicks() int64 {
	return d.skippedTicks.Load()
}

func (d *Daemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	healthy := func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "ok uptime=%ds runs=%d\n", int64(time.Since(d.startTime).Seconds()), d.runs.Load())
	}
	mux.HandleFunc("/health", healthy)
	mux.HandleFunc("/-/healthy", healthy)
	mux.HandleFunc("/-/ready", healthy)
	return mux
}

// reclaimWindow is how long an in-flight marker survives a crash before the
// resource becomes eligible again: twice the run interval, floored.
func reclaimWindow(interval time.Duration) time.Duration {
	window := 2 * interval
	if window < minReclaim {
		window = minReclaim
	}
	return window
}
