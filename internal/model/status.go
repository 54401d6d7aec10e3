package model

import "fmt"

const (
	StatePending   = "pending"
	StatePass1     = "pass1"
	StatePass2     = "pass2"
	StateSkipped   = "skipped"
	StateEnqueued  = "enqueued"
	StateOptimized = "optimized"
	StateAbandoned = "abandoned"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatePending: true,
	},
	StatePending: {
		StatePass1:   true,
		StateSkipped: true,
	},
	StatePass1: {
		StatePass1:    true, // retry of the same pass
		StatePass2:    true,
		StateEnqueued: true, // single-pass policies
	},
	StatePass2: {
		StatePass2:    true,
		StateEnqueued: true,
	},
	StateEnqueued: {
		StateOptimized: true,
		StateAbandoned: true,
	},
	StateSkipped:   {},
	StateOptimized: {},
	StateAbandoned: {},
}

func IsKnownState(state string) bool {
	_, ok := allowedTransitions[state]
	return ok
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// PassState returns the state an image is in while pass i (zero based) runs.
func PassState(i int) string {
	if i == 0 {
		return StatePass1
	}
	return StatePass2
}

func TransitionImageState(img *ImageProgress, toState string) error {
	from := img.State
	if !CanTransition(from, toState) {
		return fmt.Errorf("invalid image state transition: %q -> %q (path=%s)", from, toState, img.Path)
	}
	img.State = toState
	return nil
}
