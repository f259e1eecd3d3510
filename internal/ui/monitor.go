package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"nucleus/internal/sim"
)

type monitorModel struct {
	title   string
	tasks   int
	steps   int
	events  <-chan sim.Event
	spinner spinner.Model
	prog    progress.Model
	rows    []taskRow
	index   map[uint64]int
	width   int
	done    bool
}

type taskRow struct {
	task   uint64
	cpu    int32
	step   int
	ops    uint64
	status string
	last   string
}

type eventMsg sim.Event
type doneMsg struct{}

// NewMonitorModel returns a Bubble Tea model that renders live workload
// progress: one row per task, fed by the simulator event channel.
func NewMonitorModel(title string, tasks, steps int, events <-chan sim.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	return &monitorModel{
		title:   title,
		tasks:   tasks,
		steps:   steps,
		events:  events,
		spinner: sp,
		prog:    prog,
		index:   make(map[uint64]int, tasks),
		width:   80,
	}
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(sim.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *monitorModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	statusWidth := 12
	lastWidth := m.width - statusWidth - 28
	if lastWidth < 16 {
		lastWidth = 16
	}

	for _, row := range m.rows {
		statusStyled := styleStatus(row.status).Render(fmt.Sprintf("%12s", row.status))
		line := fmt.Sprintf("  task %-4d cpu %-2d %s  %s",
			row.task, row.cpu, statusStyled, truncate(row.last, lastWidth))
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")

	return b.String()
}

func (m *monitorModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *monitorModel) applyEvent(ev sim.Event) tea.Cmd {
	idx, ok := m.index[ev.Task]
	if !ok {
		idx = len(m.rows)
		m.index[ev.Task] = idx
		m.rows = append(m.rows, taskRow{task: ev.Task})
		sort.Slice(m.rows, func(i, j int) bool { return m.rows[i].task < m.rows[j].task })
		for i, row := range m.rows {
			m.index[row.task] = i
		}
		idx = m.index[ev.Task]
	}
	row := &m.rows[idx]
	row.cpu = ev.CPU
	row.ops++
	row.status = ev.Result
	row.last = fmt.Sprintf("%s %s (step %d, %d ops)", ev.Op, ev.Object, ev.Step, row.ops)
	if ev.Step > row.step {
		row.step = ev.Step
	}

	// Progress is step-based: dropped events cannot push it backwards.
	if m.tasks > 0 && m.steps > 0 {
		total := 0
		for _, r := range m.rows {
			total += r.step + 1
		}
		pct := float64(total) / float64(m.tasks*m.steps)
		if pct > 1.0 {
			pct = 1.0
		}
		return m.prog.SetPercent(pct)
	}
	return nil
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "ok":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "fault", "killed", "closed":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "busy", "empty", "timed-out", "dropped", "exhausted":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
