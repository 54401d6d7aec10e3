// Package progress renders pipeline snapshots, either as a bubbletea view
// that also listens for the cancel key, or as periodic log lines.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"

	bprogress "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"upscale-batch/internal/pipeline"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	statusStyle = lipgloss.NewStyle().PaddingLeft(2)
)

const maxBarWidth = 60

type snapshotMsg pipeline.Snapshot
type stopMsg struct{}

type teaModel struct {
	snap       pipeline.Snapshot
	bar        bprogress.Model
	cancelKey  string
	onCancel   func()
	cancelling bool
}

func newTeaModel(cancelKey string, onCancel func()) teaModel {
	return teaModel{
		bar:       bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(40)),
		cancelKey: cancelKey,
		onCancel:  onCancel,
	}
}

func (m teaModel) Init() tea.Cmd {
	return nil
}

func (m teaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == m.cancelKey {
			if !m.cancelling {
				m.cancelling = true
				if m.onCancel != nil {
					m.onCancel()
				}
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		w := msg.Width - 4
		if w > maxBarWidth {
			w = maxBarWidth
		}
		if w > 10 {
			m.bar.Width = w
		}
		return m, nil
	case snapshotMsg:
		m.snap = pipeline.Snapshot(msg)
		if m.snap.Cancelled {
			m.cancelling = true
		}
		if m.snap.Finished {
			return m, tea.Quit
		}
		return m, nil
	case stopMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m teaModel) View() string {
	s := m.snap
	var b strings.Builder
	b.WriteString(titleStyle.Render("upscale-batch") + "\n")
	b.WriteString(m.bar.ViewAs(Fraction(s)))
	fmt.Fprintf(&b, " %d/%d\n", Finished(s), s.Total)

	fmt.Fprintf(&b, "%s\n", statusStyle.Render(fmt.Sprintf("upscale   %d done, %d skipped, %d retries", s.Upscaled, s.Skipped, s.Retries)))
	fmt.Fprintf(&b, "%s\n", statusStyle.Render(fmt.Sprintf("optimize  %d queued, %d active, %d done", s.Queued, s.Active, s.Optimized)))
	if s.Abandoned > 0 {
		fmt.Fprintf(&b, "%s\n", statusStyle.Render(errorStyle.Render(fmt.Sprintf("abandoned %d (see log)", s.Abandoned))))
	}
	if name := currentName(s); name != "" {
		fmt.Fprintf(&b, "%s\n", statusStyle.Render(mutedStyle.Render("current   "+name)))
	}
	if eta := EstimateETA(Finished(s), s.Total, s.Elapsed); eta != "" && !s.Finished {
		fmt.Fprintf(&b, "%s\n", statusStyle.Render(mutedStyle.Render("eta ~ "+eta)))
	}

	switch {
	case s.Finished && s.Cancelled:
		b.WriteString(warnStyle.Render("cancelled") + "\n")
	case s.Finished:
		b.WriteString(okStyle.Render("done") + "\n")
	case m.cancelling:
		b.WriteString(warnStyle.Render("cancelling, finishing in-flight images...") + "\n")
	default:
		b.WriteString(mutedStyle.Render(fmt.Sprintf("press %s to cancel", m.cancelKey)) + "\n")
	}
	return b.String()
}

type TUIOptions struct {
	Output    io.Writer
	Input     io.Reader
	CancelKey string
	OnCancel  func()
}

// TUI is a pipeline.Reporter backed by a bubbletea program.
type TUI struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

func NewTUI(opts TUIOptions) *TUI {
	programOpts := []tea.ProgramOption{tea.WithoutSignalHandler()}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	model := newTeaModel(opts.CancelKey, opts.OnCancel)
	return &TUI{
		program: tea.NewProgram(model, programOpts...),
		done:    make(chan struct{}),
	}
}

func (t *TUI) Start() {
	go func() {
		defer close(t.done)
		_, _ = t.program.Run()
	}()
}

func (t *TUI) Report(s pipeline.Snapshot) {
	t.program.Send(snapshotMsg(s))
}

// Stop quits the program if it is still running and waits for it to restore
// the terminal.
func (t *TUI) Stop() {
	t.once.Do(func() {
		t.program.Send(stopMsg{})
		<-t.done
	})
}
