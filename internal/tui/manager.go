package tui

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Manager runs the progress program in the background.
type Manager struct {
	program *tea.Program
	done    chan struct{}
}

// Start launches the program on out. It stops when ctx ends, when every item
// finished, or when the user quits; cancel is invoked in the last case so
// running downloads stop too.
func Start(ctx context.Context, cancel context.CancelFunc, out io.Writer, source Source, items []Item) *Manager {
	model := NewModel(source, items)
	program := tea.NewProgram(model,
		tea.WithOutput(out),
		tea.WithContext(ctx),
		tea.WithoutSignalHandler(),
	)
	m := &Manager{program: program, done: make(chan struct{})}

	go func() {
		defer close(m.done)
		_, _ = program.Run()
		if model.quitting && !model.allDone() && cancel != nil {
			cancel()
		}
	}()
	return m
}

// Finish marks id as done; errText is empty on success.
func (m *Manager) Finish(id, errText string) {
	m.send(FinishMsg{ID: id, Err: errText})
}

// Stop asks the program to exit and waits briefly for it.
func (m *Manager) Stop() {
	m.send(stopMsg{})
	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
	}
}

func (m *Manager) send(msg tea.Msg) {
	select {
	case <-m.done:
	default:
		m.program.Send(msg)
	}
}
