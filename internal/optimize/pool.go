package optimize

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"upscale-batch/internal/config"
	"upscale-batch/internal/model"
)

// Source is the consumer side of the optimization queue.
type Source interface {
	Dequeue(ctx context.Context) (string, bool)
}

type Hooks struct {
	OnOptimized func(res Result, final string)
	OnAbandoned func(path string, err error)
}

type Options struct {
	Workers       int
	YieldDelay    time.Duration
	PendingMarker string
	DoneMarker    string
	// Active is the shared in-flight counter. It is incremented before a
	// file is touched and decremented once it is recompressed.
	Active   *atomic.Int64
	Logger   *zap.Logger
	Hooks    Hooks
	Optimize func(path string) (Result, error)
}

type Stats struct {
	Optimized int
	Abandoned int
	Active    int
	SavedSize int64
}

type Pool struct {
	src  Source
	opts Options
	log  *zap.Logger

	active    *atomic.Int64
	optimized atomic.Int64
	abandoned atomic.Int64
	saved     atomic.Int64
}

func NewPool(src Source, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultWorkers(runtime.NumCPU())
	}
	if opts.Optimize == nil {
		opts.Optimize = Optimize
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	active := opts.Active
	if active == nil {
		active = new(atomic.Int64)
	}
	return &Pool{src: src, opts: opts, log: log, active: active}
}

func (p *Pool) Workers() int {
	return p.opts.Workers
}

func (p *Pool) Active() int {
	return int(p.active.Load())
}

func (p *Pool) Stats() Stats {
	return Stats{
		Optimized: int(p.optimized.Load()),
		Abandoned: int(p.abandoned.Load()),
		Active:    int(p.active.Load()),
		SavedSize: p.saved.Load(),
	}
}

// Run blocks until every worker has exited. Workers stop pulling new items
// once ctx is done; the item in hand is always finished. Items still queued
// at that point stay in the queue.
func (p *Pool) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	for w := 1; w <= p.opts.Workers; w++ {
		workerID := w
		wg.Go(func() {
			p.work(ctx, workerID)
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		return r.AsError()
	}
	return nil
}

func (p *Pool) work(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}
		path, ok := p.src.Dequeue(ctx)
		if !ok {
			return
		}
		p.process(workerID, path)

		if p.opts.YieldDelay > 0 {
			t := time.NewTimer(p.opts.YieldDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

func (p *Pool) process(workerID int, path string) {
	img := model.ImageProgress{Path: path, State: model.StateEnqueued}
	log := p.log.With(zap.Int("worker", workerID), zap.String("path", path))

	res, err := p.optimizeOne(path)
	if err != nil {
		p.abandon(&img, log, "optimize failed", err)
		return
	}

	final, err := MarkDone(res.Path, p.opts.PendingMarker, p.opts.DoneMarker)
	if err != nil {
		p.abandon(&img, log, "rename failed", err)
		return
	}

	p.advance(&img, model.StateOptimized, log)
	p.optimized.Add(1)
	p.saved.Add(res.Before - res.After)
	log.Info("optimized image",
		zap.String("output", final),
		zap.String("state", img.State),
		zap.Bool("converted", res.Converted),
		zap.Int64("bytes_before", res.Before),
		zap.Int64("bytes_after", res.After),
	)
	if p.opts.Hooks.OnOptimized != nil {
		p.opts.Hooks.OnOptimized(res, final)
	}
}

// optimizeOne runs the optimizer with the item counted as active. A panic
// is returned as an error so the worker keeps pulling.
func (p *Pool) optimizeOne(path string) (res Result, err error) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("optimizer panic: %v", r)
		}
	}()
	return p.opts.Optimize(path)
}

func (p *Pool) abandon(img *model.ImageProgress, log *zap.Logger, msg string, err error) {
	p.advance(img, model.StateAbandoned, log)
	p.abandoned.Add(1)
	log.Error(msg, zap.String("state", img.State), zap.Error(err))
	if p.opts.Hooks.OnAbandoned != nil {
		p.opts.Hooks.OnAbandoned(img.Path, err)
	}
}

func (p *Pool) advance(img *model.ImageProgress, to string, log *zap.Logger) {
	if err := model.TransitionImageState(img, to); err != nil {
		log.Warn("image state", zap.Error(err))
	}
}
