// Package pipeline wires the upscale stage and the optimization pool
// together, reports progress and owns cancellation.
package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"upscale-batch/internal/model"
	"upscale-batch/internal/optimize"
	"upscale-batch/internal/queue"
	"upscale-batch/internal/upscale"
	"upscale-batch/internal/waifu"
)

const DefaultPollInterval = 250 * time.Millisecond

// ErrPoolStopped reports that every optimization worker exited while work
// was still expected.
var ErrPoolStopped = errors.New("optimization pool stopped unexpectedly")

// Snapshot is a point-in-time view of the run.
type Snapshot struct {
	Total       int
	Upscaled    int
	Skipped     int
	Retries     int
	Queued      int
	Active      int
	Optimized   int
	Abandoned   int
	Current     string
	Elapsed     time.Duration
	UpscaleDone bool
	Cancelled   bool
	Finished    bool
}

type Reporter interface {
	Report(s Snapshot)
}

type ReporterFunc func(Snapshot)

func (f ReporterFunc) Report(s Snapshot) { f(s) }

type Options struct {
	Invoker       waifu.Invoker
	TempDir       string
	OutputDir     string
	Workers       int
	PollInterval  time.Duration
	YieldDelay    time.Duration
	RetryDelay    time.Duration
	PendingMarker string
	DoneMarker    string
	Logger        *zap.Logger
	Reporter      Reporter
	UpscaleHooks  upscale.Hooks
	OptimizeHooks optimize.Hooks
	// Optimize overrides the per-file optimizer, mainly for tests.
	Optimize func(path string) (optimize.Result, error)
}

type Result struct {
	Total     int
	Skipped   int
	Upscaled  int
	Retries   int
	Optimized int
	Abandoned int
	// Leftover counts upscaled files still queued when the run stopped.
	Leftover int
	// SavedBytes is the net size reduction across optimized files.
	SavedBytes int64
	Cancelled  bool
}

type Orchestrator struct {
	opts Options
	log  *zap.Logger

	mu              sync.Mutex
	cancel          context.CancelFunc
	cancelRequested bool
}

func New(opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{opts: opts, log: log}
}

// Cancel asks a running (or about to start) Run to stop. The image being
// upscaled and the items held by workers are finished first. Safe to call
// more than once and from any goroutine.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelRequested = true
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) Run(ctx context.Context, tasks []model.ImageTask) (Result, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	o.mu.Lock()
	o.cancel = cancelRun
	if o.cancelRequested {
		cancelRun()
	}
	o.mu.Unlock()

	if err := Prepare(o.opts.TempDir); err != nil {
		return Result{}, err
	}
	defer o.cleanup()

	q := queue.New()
	var active atomic.Int64
	ctrl := upscale.NewController(o.opts.Invoker, q, upscale.Options{
		TempDir:    o.opts.TempDir,
		OutputDir:  o.opts.OutputDir,
		RetryDelay: o.opts.RetryDelay,
		Logger:     o.log.Named("upscale"),
		Hooks:      o.opts.UpscaleHooks,
	})
	pool := optimize.NewPool(q, optimize.Options{
		Workers:       o.opts.Workers,
		YieldDelay:    o.opts.YieldDelay,
		PendingMarker: o.opts.PendingMarker,
		DoneMarker:    o.opts.DoneMarker,
		Active:        &active,
		Logger:        o.log.Named("optimize"),
		Hooks:         o.opts.OptimizeHooks,
		Optimize:      o.opts.Optimize,
	})

	// The pool is stopped explicitly, never by the parent context directly.
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()

	var upscaleDone, fatal atomic.Bool
	poolDone := make(chan struct{})
	started := time.Now()

	o.log.Info("pipeline started", zap.Int("images", len(tasks)), zap.Int("workers", pool.Workers()))

	var g errgroup.Group
	g.Go(func() error {
		defer upscaleDone.Store(true)
		err := ctrl.Run(runCtx, tasks)
		if err != nil {
			fatal.Store(true)
			o.log.Error("upscale stage failed", zap.Error(err))
			cancelRun()
		}
		return err
	})
	g.Go(func() error {
		defer close(poolDone)
		return pool.Run(poolCtx)
	})

	snapshot := func() Snapshot {
		us := ctrl.Stats()
		ps := pool.Stats()
		return Snapshot{
			Total:       len(tasks),
			Upscaled:    us.Upscaled,
			Skipped:     us.Skipped,
			Retries:     us.Retries,
			Queued:      q.Len(),
			Active:      int(active.Load()),
			Optimized:   ps.Optimized,
			Abandoned:   ps.Abandoned,
			Current:     us.Current,
			Elapsed:     time.Since(started),
			UpscaleDone: upscaleDone.Load(),
			Cancelled:   runCtx.Err() != nil && !fatal.Load(),
		}
	}

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	poolExited := false

	for {
		s := snapshot()
		o.report(s)
		if runCtx.Err() != nil {
			break
		}
		if s.UpscaleDone && s.Queued == 0 && s.Active == 0 {
			break
		}
		select {
		case <-ticker.C:
		case <-runCtx.Done():
		case <-poolDone:
			poolExited = true
		}
		if poolExited {
			break
		}
	}

	if poolExited {
		fatal.Store(true)
		o.log.Error("optimization workers exited", zap.Int("queued", q.Len()))
		cancelRun()
	}
	cancelPool()
	if runCtx.Err() != nil {
		o.log.Info("cancellation requested, draining optimization workers")
		o.drain(snapshot, ticker, poolDone)
	}

	err := g.Wait()
	q.Close()
	if poolExited && err == nil {
		err = ErrPoolStopped
	}

	final := snapshot()
	final.Finished = true
	o.report(final)

	res := Result{
		Total:      final.Total,
		Skipped:    final.Skipped,
		Upscaled:   final.Upscaled,
		Retries:    final.Retries,
		Optimized:  final.Optimized,
		Abandoned:  final.Abandoned,
		Leftover:   final.Queued,
		SavedBytes: pool.Stats().SavedSize,
		Cancelled:  final.Cancelled,
	}
	o.log.Info("pipeline finished",
		zap.Int("upscaled", res.Upscaled),
		zap.Int("skipped", res.Skipped),
		zap.Int("optimized", res.Optimized),
		zap.Int("abandoned", res.Abandoned),
		zap.Int("leftover", res.Leftover),
		zap.Int64("saved_bytes", res.SavedBytes),
		zap.Bool("cancelled", res.Cancelled),
		zap.Duration("elapsed", final.Elapsed),
	)
	return res, err
}

// drain keeps reporting until the pool has exited or nothing is queued or
// in flight.
func (o *Orchestrator) drain(snapshot func() Snapshot, ticker *time.Ticker, poolDone <-chan struct{}) {
	for {
		s := snapshot()
		o.report(s)
		select {
		case <-poolDone:
			return
		default:
		}
		if s.Queued == 0 && s.Active == 0 {
			return
		}
		select {
		case <-ticker.C:
		case <-poolDone:
		}
	}
}

func (o *Orchestrator) report(s Snapshot) {
	if o.opts.Reporter != nil {
		o.opts.Reporter.Report(s)
	}
}

func (o *Orchestrator) cleanup() {
	if err := os.RemoveAll(o.opts.TempDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.log.Warn("remove temp directory", zap.String("path", o.opts.TempDir), zap.Error(err))
	}
}
