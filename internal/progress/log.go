package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"upscale-batch/internal/pipeline"
)

// LogReporter writes a progress line whenever a counter moves, at most once
// per interval, plus the final state.
type LogReporter struct {
	log      *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	last   time.Time
	seen   pipeline.Snapshot
	warned bool
}

func NewLogReporter(log *zap.Logger, interval time.Duration) *LogReporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogReporter{log: log, interval: interval}
}

func (r *LogReporter) Report(s pipeline.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Cancelled && !r.warned {
		r.warned = true
		r.log.Warn("cancellation requested, finishing in-flight images")
	}
	if !s.Finished {
		if !moved(r.seen, s) {
			return
		}
		if !r.last.IsZero() && time.Since(r.last) < r.interval {
			return
		}
	}
	r.seen = s
	r.last = time.Now()
	r.log.Info(Summary(s),
		zap.Int("finished", Finished(s)),
		zap.Int("total", s.Total),
		zap.String("current", currentName(s)),
	)
}

func moved(a, b pipeline.Snapshot) bool {
	return a.Upscaled != b.Upscaled ||
		a.Skipped != b.Skipped ||
		a.Optimized != b.Optimized ||
		a.Abandoned != b.Abandoned ||
		a.Retries != b.Retries
}
