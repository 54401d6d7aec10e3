package progress

import (
	"fmt"
	"math"
	"time"
)

// EstimateETA extrapolates the remaining time from the average time per
// finished image. Empty when nothing has finished yet.
func EstimateETA(done, total int, elapsed time.Duration) string {
	if done <= 0 || total <= 0 || elapsed <= 0 {
		return ""
	}
	remaining := total - done
	if remaining <= 0 {
		return "0m"
	}
	perItem := elapsed.Seconds() / float64(done)
	return formatETASeconds(perItem * float64(remaining))
}

func formatETASeconds(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	secs := int64(math.Round(seconds))
	if secs < 60 {
		return "<1m"
	}
	minutes := secs / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	remMinutes := minutes % 60
	if hours < 24 {
		if remMinutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, remMinutes)
	}
	days := hours / 24
	remHours := hours % 24
	if remHours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, remHours)
}
