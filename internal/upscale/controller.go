// Package upscale runs the sequential upscale stage: one image at a time,
// one tool invocation per pass, degrading parameters when the tool fails.
package upscale

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"upscale-batch/internal/model"
	"upscale-batch/internal/waifu"
)

// ErrRetryExhausted means the tool kept failing at batch size 1 and split
// size 1. The run cannot continue.
var ErrRetryExhausted = errors.New("upscale retries exhausted")

// Enqueuer receives every finished upscale output.
type Enqueuer interface {
	Enqueue(path string)
}

type Hooks struct {
	OnEnqueue func(path string)
	// OnRetry is called with the parameters of the upcoming attempt.
	OnRetry func(path string, passIndex int, next model.Pass, status int)
	OnSkip  func(path string)
}

type Options struct {
	TempDir    string
	OutputDir  string
	RetryDelay time.Duration
	Logger     *zap.Logger
	Hooks      Hooks
}

type Stats struct {
	Upscaled int
	Skipped  int
	Retries  int
	// Current is the image being upscaled, empty between images.
	Current string
}

type Controller struct {
	invoker waifu.Invoker
	queue   Enqueuer
	opts    Options
	log     *zap.Logger

	upscaled atomic.Int64
	skipped  atomic.Int64
	retries  atomic.Int64

	mu      sync.Mutex
	current string
}

func NewController(invoker waifu.Invoker, queue Enqueuer, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{invoker: invoker, queue: queue, opts: opts, log: log}
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	return Stats{
		Upscaled: int(c.upscaled.Load()),
		Skipped:  int(c.skipped.Load()),
		Retries:  int(c.retries.Load()),
		Current:  current,
	}
}

// Run processes tasks in order. Cancellation is checked between images only;
// an image whose first pass has started is always finished. A cancelled run
// returns nil. Fatal errors (missing tool, exhausted retries) stop the stage
// and are returned.
func (c *Controller) Run(ctx context.Context, tasks []model.ImageTask) error {
	for _, task := range tasks {
		if ctx.Err() != nil {
			c.log.Info("upscale stage cancelled", zap.Int("remaining", c.remaining(tasks)))
			return nil
		}
		if err := c.processImage(task); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) remaining(tasks []model.ImageTask) int {
	n := len(tasks) - int(c.upscaled.Load()) - int(c.skipped.Load())
	if n < 0 {
		return 0
	}
	return n
}

func (c *Controller) processImage(task model.ImageTask) error {
	progress := model.ImageProgress{Path: task.Path}
	if err := model.TransitionImageState(&progress, model.StatePending); err != nil {
		return err
	}

	passes := model.PolicyFor(task.Class)
	if len(passes) == 0 {
		if err := model.TransitionImageState(&progress, model.StateSkipped); err != nil {
			return err
		}
		c.skipped.Add(1)
		c.log.Info("skipping image", zap.String("path", task.Path), zap.Stringer("class", task.Class))
		if c.opts.Hooks.OnSkip != nil {
			c.opts.Hooks.OnSkip(task.Path)
		}
		return nil
	}

	c.setCurrent(task.Path)
	defer c.setCurrent("")

	final := FinalPath(c.opts.OutputDir, task.Path)
	intermediate := IntermediatePath(c.opts.TempDir, task.Path)

	input := task.Path
	for i, pass := range passes {
		if err := model.TransitionImageState(&progress, model.PassState(i)); err != nil {
			return err
		}
		output := intermediate
		if i == len(passes)-1 {
			output = final
		}
		if err := c.runPass(&progress, i, pass, input, output); err != nil {
			return err
		}
		input = intermediate
	}

	if len(passes) > 1 {
		if err := os.Remove(intermediate); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("remove intermediate", zap.String("path", intermediate), zap.Error(err))
		}
	}

	if err := model.TransitionImageState(&progress, model.StateEnqueued); err != nil {
		return err
	}
	c.queue.Enqueue(final)
	c.upscaled.Add(1)
	c.log.Info("upscaled image",
		zap.String("path", task.Path),
		zap.String("output", final),
		zap.Stringer("class", task.Class),
		zap.Int("retries", progress.Retries),
	)
	if c.opts.Hooks.OnEnqueue != nil {
		c.opts.Hooks.OnEnqueue(final)
	}
	return nil
}

// attemptFailed is a retryable failure: the tool ran and reported a
// negative status.
type attemptFailed struct {
	status int
}

func (e *attemptFailed) Error() string {
	return fmt.Sprintf("upscaler exited with status %d", e.status)
}

func (c *Controller) runPass(progress *model.ImageProgress, index int, pass model.Pass, input, output string) error {
	policy := newLadder(pass, c.opts.RetryDelay)

	operation := func() error {
		params := policy.Current()
		c.log.Debug("invoking upscaler",
			zap.String("input", input),
			zap.String("output", output),
			zap.Int("pass", index+1),
			zap.Int("magnification", params.Magnification),
			zap.Int("batch_size", params.BatchSize),
			zap.Int("split_size", params.SplitSize),
		)
		status, err := c.invoker.Invoke(waifu.Request{
			Input:         input,
			Output:        output,
			Magnification: params.Magnification,
			BatchSize:     params.BatchSize,
			SplitSize:     params.SplitSize,
		})
		if err != nil {
			return backoff.Permanent(err)
		}
		if status < 0 {
			return &attemptFailed{status: status}
		}
		return nil
	}

	notify := func(err error, _ time.Duration) {
		var failed *attemptFailed
		status := 0
		if errors.As(err, &failed) {
			status = failed.status
		}
		progress.Retries++
		c.retries.Add(1)
		next := policy.Current()
		c.log.Warn("upscaler failed, retrying with smaller parameters",
			zap.String("path", progress.Path),
			zap.Int("pass", index+1),
			zap.Int("status", status),
			zap.Int("batch_size", next.BatchSize),
			zap.Int("split_size", next.SplitSize),
		)
		if c.opts.Hooks.OnRetry != nil {
			c.opts.Hooks.OnRetry(progress.Path, index, next, status)
		}
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}
	var failed *attemptFailed
	if errors.As(err, &failed) {
		return fmt.Errorf("%w: %s pass %d (last status %d)", ErrRetryExhausted, progress.Path, index+1, failed.status)
	}
	return fmt.Errorf("upscale %s pass %d: %w", progress.Path, index+1, err)
}

func (c *Controller) setCurrent(path string) {
	c.mu.Lock()
	c.current = path
	c.mu.Unlock()
}

// FinalPath is where the last pass writes: the output dir, source stem,
// always .png.
func FinalPath(outputDir, source string) string {
	return filepath.Join(outputDir, stem(source)+".png")
}

func IntermediatePath(tempDir, source string) string {
	return filepath.Join(tempDir, stem(source)+".png")
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
