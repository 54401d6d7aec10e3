package progress

import (
	"fmt"
	"path/filepath"
	"strings"

	"upscale-batch/internal/pipeline"
)

// Finished counts images that need no more work this run.
func Finished(s pipeline.Snapshot) int {
	return s.Skipped + s.Optimized + s.Abandoned
}

// Fraction is the share of finished images, in [0, 1].
func Fraction(s pipeline.Snapshot) float64 {
	if s.Total <= 0 {
		return 0
	}
	f := float64(Finished(s)) / float64(s.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Summary is the one-line status used by the plain reporter and the final
// CLI output.
func Summary(s pipeline.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "upscaled %d/%d | skipped %d | queued %d | active %d | optimized %d",
		s.Upscaled, s.Total-s.Skipped, s.Skipped, s.Queued, s.Active, s.Optimized)
	if s.Abandoned > 0 {
		fmt.Fprintf(&b, " | abandoned %d", s.Abandoned)
	}
	if s.Retries > 0 {
		fmt.Fprintf(&b, " | retries %d", s.Retries)
	}
	if eta := EstimateETA(Finished(s), s.Total, s.Elapsed); eta != "" && !s.Finished {
		fmt.Fprintf(&b, " | eta ~ %s", eta)
	}
	return b.String()
}

func currentName(s pipeline.Snapshot) string {
	if s.Current == "" {
		return ""
	}
	return filepath.Base(s.Current)
}
