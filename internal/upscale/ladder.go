package upscale

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"upscale-batch/internal/model"
)

// Degrade returns the next, cheaper parameter set after a failed attempt.
// Batch size shrinks by one down to 1, then split size halves down to 1.
// ok is false once both are at the floor.
func Degrade(p model.Pass) (next model.Pass, ok bool) {
	switch {
	case p.BatchSize > 1:
		p.BatchSize--
		return p, true
	case p.SplitSize > 1:
		p.SplitSize /= 2
		return p, true
	default:
		return p, false
	}
}

// ladder is a backoff.BackOff that walks the degradation sequence instead of
// growing a delay. Current holds the parameters for the next attempt.
type ladder struct {
	initial model.Pass
	current model.Pass
	delay   time.Duration
}

var _ backoff.BackOff = (*ladder)(nil)

func newLadder(p model.Pass, delay time.Duration) *ladder {
	return &ladder{initial: p, current: p, delay: delay}
}

func (l *ladder) Reset() {
	l.current = l.initial
}

func (l *ladder) NextBackOff() time.Duration {
	next, ok := Degrade(l.current)
	if !ok {
		return backoff.Stop
	}
	l.current = next
	return l.delay
}

func (l *ladder) Current() model.Pass {
	return l.current
}
