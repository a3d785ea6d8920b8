// Package tui renders live download progress in the terminal by polling the
// progress store.
package tui

import (
	"fmt"
	"strings"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lvcoi/tubeflow/internal/progress"
)

// Source reports the latest snapshot of a session.
type Source interface {
	Lookup(id string) (progress.Snapshot, bool)
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#0B0B0B")).
			Background(lipgloss.Color("#FFE66D")).
			Bold(true).
			Padding(0, 1)

	percentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00F5D4")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2")).
			Bold(true)

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6ADC8")).
			Faint(true)

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF006E"))

	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7FDBFF")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
)

const pollInterval = 200 * time.Millisecond

type tickMsg time.Time

// FinishMsg marks a session as done. Err is the user-facing failure text.
type FinishMsg struct {
	ID  string
	Err string
}

type stopMsg struct{}

type row struct {
	id       string
	label    string
	message  string
	percent  float64
	started  time.Time
	finished time.Time
	done     bool
	failed   string
	bar      progressbar.Model
	spin     spinner.Model
}

// Model shows one bar per tracked session.
type Model struct {
	source   Source
	rows     []*row
	byID     map[string]*row
	width    int
	quitting bool
}

// Item is one session to display.
type Item struct {
	ID    string
	Label string
}

func NewModel(source Source, items []Item) *Model {
	m := &Model{source: source, byID: make(map[string]*row, len(items)), width: 80}
	now := time.Now()
	for _, it := range items {
		spin := spinner.New()
		spin.Spinner = spinner.MiniDot
		spin.Style = spinnerStyle
		r := &row{
			id:      it.ID,
			label:   it.Label,
			message: progress.Initial().Message,
			started: now,
			bar: progressbar.New(
				progressbar.WithGradient("#FF006E", "#00F5FF"),
				progressbar.WithWidth(barWidth(m.width)),
				progressbar.WithoutPercentage(),
			),
			spin: spin,
		}
		m.rows = append(m.rows, r)
		m.byID[it.ID] = r
	}
	return m
}

func barWidth(total int) int {
	width := total - 10
	if width < 10 {
		return 10
	}
	return width
}

func truncateLine(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}
	if width <= 3 {
		return text[:width]
	}
	return text[:width-3] + "..."
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick()}
	for _, r := range m.rows {
		cmds = append(cmds, r.spin.Tick)
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		for _, r := range m.rows {
			r.bar.Width = barWidth(m.width)
		}
	case tickMsg:
		cmds := []tea.Cmd{tick()}
		for _, r := range m.rows {
			if r.done {
				continue
			}
			snap, ok := m.source.Lookup(r.id)
			if !ok {
				continue
			}
			r.message = snap.Message
			if snap.Title != "" {
				r.label = snap.Title
			}
			if pct := snap.Progress / 100; pct > r.percent {
				r.percent = pct
				cmds = append(cmds, r.bar.SetPercent(r.percent))
			}
		}
		return m, tea.Batch(cmds...)
	case FinishMsg:
		r, ok := m.byID[msg.ID]
		if !ok {
			return m, nil
		}
		r.done = true
		r.finished = time.Now()
		r.failed = msg.Err
		var cmd tea.Cmd
		if msg.Err == "" {
			r.percent = 1
			cmd = r.bar.SetPercent(1)
		}
		if m.allDone() {
			m.quitting = true
			return m, tea.Sequence(cmd, tea.Quit)
		}
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case progressbar.FrameMsg:
		cmds := make([]tea.Cmd, 0, len(m.rows))
		for _, r := range m.rows {
			model, cmd := r.bar.Update(msg)
			if updated, ok := model.(progressbar.Model); ok {
				r.bar = updated
			}
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	case spinner.TickMsg:
		cmds := make([]tea.Cmd, 0, len(m.rows))
		for _, r := range m.rows {
			if r.done {
				continue
			}
			updated, cmd := r.spin.Update(msg)
			r.spin = updated
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	case stopMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) allDone() bool {
	for _, r := range m.rows {
		if !r.done {
			return false
		}
	}
	return true
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(" Downloads"))
	b.WriteString(" ")
	b.WriteString(messageStyle.Render(fmt.Sprintf("(%d items, q to quit)", len(m.rows))))
	b.WriteString("\n")

	for _, r := range m.rows {
		status := ""
		switch {
		case r.failed != "":
			status = errorStyle.Render("✗")
		case r.done:
			status = okStyle.Render("✓")
		default:
			status = r.spin.View()
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			status,
			percentStyle.Render(fmt.Sprintf("%5.1f%%", r.percent*100)),
			labelStyle.Render(truncateLine(r.label, m.width-12)),
		))
		b.WriteString(r.bar.View())
		b.WriteString("\n")

		line := r.message
		switch {
		case r.failed != "":
			line = errorStyle.Render(truncateLine(r.failed, m.width-8))
		case r.done:
			line = messageStyle.Render(fmt.Sprintf("completed in %s", formatDurationShort(r.finished.Sub(r.started))))
		default:
			line = messageStyle.Render(truncateLine(line, m.width-8))
		}
		b.WriteString(fmt.Sprintf("        %s\n", line))
	}
	return b.String()
}

func formatDurationShort(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
