package progress

import (
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type tickMsg struct{}
type stopMsg struct{}

type transferModel struct {
	label  string
	viewFn func() Stats
	view   Stats
}

func (m transferModel) Init() tea.Cmd {
	return nil
}

func (m transferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case tea.KeyMsg:
		if msg.(tea.KeyMsg).Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case tickMsg:
		m.view = m.viewFn()
		return m, nil
	case stopMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m transferModel) View() string {
	return renderLine(m.label, m.view)
}

// Render starts a live single-line progress display for one transfer,
// refreshed from meter snapshots four times a second. The returned stop func
// pushes a final snapshot and shuts the display down; call it on every exit
// path.
func Render(w io.Writer, label string, meter *Meter) (stop func()) {
	model := transferModel{label: label, viewFn: meter.Snapshot, view: meter.Snapshot()}
	program := tea.NewProgram(model, tea.WithOutput(w), tea.WithoutSignalHandler())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = program.Run()
	}()
	ticker := time.NewTicker(250 * time.Millisecond)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				program.Send(tickMsg{})
			}
		}
	}()
	return func() {
		close(quit)
		ticker.Stop()
		program.Send(tickMsg{})
		program.Send(stopMsg{})
		<-done
	}
}

func renderLine(label string, s Stats) string {
	if s.Total > 0 {
		line := fmt.Sprintf("%s  %s / %s  %5.1f%%  %s/s",
			label, formatBytes(s.BytesDone), formatBytes(s.Total), s.Percent, formatBytes(int64(s.RateBps)))
		if s.ETA > 0 {
			line += fmt.Sprintf("  ETA %s", s.ETA.Round(time.Second))
		}
		return line + "\n"
	}
	return fmt.Sprintf("%s  %s  %s/s\n", label, formatBytes(s.BytesDone), formatBytes(int64(s.RateBps)))
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
