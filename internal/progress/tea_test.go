package progress

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"upscale-batch/internal/pipeline"
)

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestCancelKeyCallsCancelOnce(t *testing.T) {
	calls := 0
	m := newTeaModel("q", func() { calls++ })

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	if calls != 0 || cmd != nil {
		t.Fatalf("unrelated key must not cancel (calls=%d)", calls)
	}
	model, _ = model.(teaModel).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	model, _ = model.(teaModel).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if calls != 1 {
		t.Fatalf("expected one cancel call, got %d", calls)
	}
	if !model.(teaModel).cancelling {
		t.Fatal("expected cancelling state")
	}
	if !strings.Contains(model.View(), "cancelling") {
		t.Fatalf("view should mention cancelling:\n%s", model.View())
	}
}

func TestCtrlCCancels(t *testing.T) {
	calls := 0
	m := newTeaModel("q", func() { calls++ })
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if calls != 1 {
		t.Fatalf("expected ctrl+c to cancel, got %d calls", calls)
	}
	if isQuit(cmd) {
		t.Fatal("ctrl+c must not quit before the run drains")
	}
	if !model.(teaModel).cancelling {
		t.Fatal("expected cancelling state")
	}
}

func TestCustomCancelKey(t *testing.T) {
	calls := 0
	m := newTeaModel("x", func() { calls++ })
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	if calls != 1 {
		t.Fatalf("expected only x to cancel, got %d calls", calls)
	}
}

func TestSnapshotUpdatesViewAndFinishQuits(t *testing.T) {
	m := newTeaModel("q", nil)
	snap := pipeline.Snapshot{
		Total:     4,
		Upscaled:  2,
		Skipped:   1,
		Queued:    1,
		Active:    1,
		Optimized: 1,
		Current:   "/work/src/□c.png",
		Elapsed:   2 * time.Minute,
	}
	model, cmd := m.Update(snapshotMsg(snap))
	if isQuit(cmd) {
		t.Fatal("running snapshot must not quit")
	}
	view := model.View()
	for _, want := range []string{"2/4", "1 queued, 1 active, 1 done", "□c.png", "press q to cancel"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	snap.Finished = true
	snap.Optimized = 3
	model, cmd = model.(teaModel).Update(snapshotMsg(snap))
	if !isQuit(cmd) {
		t.Fatal("finished snapshot should quit the program")
	}
	if !strings.Contains(model.View(), "done") {
		t.Fatalf("final view should say done:\n%s", model.View())
	}
}

func TestStopMsgQuits(t *testing.T) {
	m := newTeaModel("q", nil)
	_, cmd := m.Update(stopMsg{})
	if !isQuit(cmd) {
		t.Fatal("stop should quit")
	}
}

func TestSummary(t *testing.T) {
	got := Summary(pipeline.Snapshot{Total: 3, Skipped: 1, Upscaled: 2, Optimized: 2, Abandoned: 1, Finished: true})
	want := "upscaled 2/2 | skipped 1 | queued 0 | active 0 | optimized 2 | abandoned 1"
	if got != want {
		t.Fatalf("summary:\n got %s\nwant %s", got, want)
	}
}
