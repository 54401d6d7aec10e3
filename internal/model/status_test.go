package model

import "testing"

func TestCanTransition_AllowsExpectedPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{"", StatePending},
		{StatePending, StatePass1},
		{StatePending, StateSkipped},
		{StatePass1, StatePass1},
		{StatePass1, StatePass2},
		{StatePass1, StateEnqueued},
		{StatePass2, StateEnqueued},
		{StateEnqueued, StateOptimized},
		{StateEnqueued, StateAbandoned},
	}

	for _, tc := range cases {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransition_RejectsInvalidPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{StatePending, StateEnqueued},
		{StateSkipped, StatePass1},
		{StatePass2, StatePass1},
		{StateOptimized, StateEnqueued},
		{"not_a_state", StatePending},
	}

	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionImageState_BlocksOptimizeBeforeUpscale(t *testing.T) {
	img := ImageProgress{Path: "a.png", State: StatePending}

	if err := TransitionImageState(&img, StateOptimized); err == nil {
		t.Fatalf("expected illegal transition error")
	}
	if img.State != StatePending {
		t.Fatalf("state changed on rejected transition: %q", img.State)
	}
}

func TestPassState(t *testing.T) {
	if got := PassState(0); got != StatePass1 {
		t.Fatalf("pass 0 state: got %q want %q", got, StatePass1)
	}
	if got := PassState(1); got != StatePass2 {
		t.Fatalf("pass 1 state: got %q want %q", got, StatePass2)
	}
}
