package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/carbonfact/lea/pkg/core"
)

var (
	styleDone     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleSkipped  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleErrored  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	stylePoisoned = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// Terminal writes one line per event and a summary table at the end.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminal builds a terminal sink writing to out.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

// Emit prints one event line.
func (t *Terminal) Emit(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	label := statusStyle(ev.Status).Render(ev.Status.String())
	switch {
	case ev.Err != nil:
		fmt.Fprintf(t.out, "%s %s %s: %v\n", label, ev.Phase, ev.Ref, ev.Err)
	case ev.Status == core.StatusDone && ev.Phase == PhaseMaterialize:
		fmt.Fprintf(t.out, "%s %s %s (%d rows, %s)\n",
			label, ev.Phase, ev.Ref, ev.Rows, ev.Duration.Round(roundTo(ev.Duration)))
	default:
		fmt.Fprintf(t.out, "%s %s %s\n", label, ev.Phase, ev.Ref)
	}
}

// Finish prints the run summary.
func (t *Terminal) Finish(s Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := table.NewWriter()
	w.SetOutputMirror(t.out)
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"environment", "done", "skipped", "errored", "poisoned", "promoted", "took"})
	w.AppendRow(table.Row{
		s.Environment, s.Done, s.Skipped, s.Errored, s.Poisoned,
		s.Promoted, s.Duration.Round(roundTo(s.Duration)),
	})
	w.Render()
}

// roundTo picks a display precision that keeps durations readable.
func roundTo(d time.Duration) time.Duration {
	switch {
	case d >= time.Minute:
		return time.Second
	case d >= time.Second:
		return 10 * time.Millisecond
	default:
		return time.Millisecond
	}
}

func statusStyle(s core.Status) lipgloss.Style {
	switch s {
	case core.StatusDone:
		return styleDone
	case core.StatusSkipped:
		return styleSkipped
	case core.StatusErrored:
		return styleErrored
	case core.StatusSkippedDueToError:
		return stylePoisoned
	default:
		return styleRunning
	}
}
