package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"restbench/internal/orchestrator"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")).MarginBottom(1)
	implStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	subtle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type eventMsg orchestrator.Event

// Model is the live dashboard for a benchmark pass, fed by orchestrator
// events. Quitting cancels the orchestration context.
type Model struct {
	events <-chan orchestrator.Event
	cancel context.CancelFunc

	progress progress.Model
	spin     spinner.Model

	totalRuns int
	doneRuns  int

	currentImpl string
	scenario    string
	phase       string

	history  []string
	quitting bool
	width    int
}

func NewModel(events <-chan orchestrator.Event, totalRuns int, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		events:    events,
		cancel:    cancel,
		progress:  progress.New(progress.WithDefaultGradient()),
		spin:      sp,
		totalRuns: totalRuns,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForEvent(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd

	case eventMsg:
		return m.applyEvent(orchestrator.Event(msg))
	}

	return m, nil
}

func (m Model) applyEvent(e orchestrator.Event) (tea.Model, tea.Cmd) {
	switch e.Type {
	case orchestrator.EventImplStarting:
		m.currentImpl = e.Impl
		m.phase = "starting"
		m.scenario = ""
	case orchestrator.EventPhase:
		m.phase = e.Message
	case orchestrator.EventScenarioStart:
		m.scenario = e.Scenario
		m.phase = "running"
	case orchestrator.EventScenarioDone:
		m.doneRuns++
		if e.Result != nil {
			line := fmt.Sprintf("%s / %s", implStyle.Render(e.Impl), e.Scenario)
			if e.Result.Failed() {
				line += " " + errStyle.Render("✗ "+e.Result.Error)
			} else {
				line += fmt.Sprintf("  %.2f req/s (%d requests)", e.Result.RPS, e.Result.TotalRequests)
			}
			m.history = append(m.history, line)
		}
	case orchestrator.EventImplDone:
		m.phase = "done"
	case orchestrator.EventBatchDone:
		m.quitting = true
		return m, tea.Quit
	}

	pct := 0.0
	if m.totalRuns > 0 {
		pct = float64(m.doneRuns) / float64(m.totalRuns)
	}
	return m, tea.Batch(m.progress.SetPercent(pct), waitForEvent(m.events))
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	s := strings.Builder{}
	s.WriteString(titleStyle.Render("🏁 restbench"))
	s.WriteString("\n")

	if m.currentImpl != "" {
		s.WriteString(fmt.Sprintf("%s %s", m.spin.View(), implStyle.Render(m.currentImpl)))
		if m.scenario != "" {
			s.WriteString(" · " + m.scenario)
		}
		if m.phase != "" {
			s.WriteString(subtle.Render(" (" + m.phase + ")"))
		}
		s.WriteString("\n")
	}

	s.WriteString("\n")
	for _, line := range tail(m.history, 12) {
		s.WriteString(line + "\n")
	}

	s.WriteString("\n")
	s.WriteString(m.progress.View())
	s.WriteString("\n")
	s.WriteString(subtle.Render(fmt.Sprintf("%d/%d runs · press q to abort", m.doneRuns, m.totalRuns)))
	return s.String()
}

func waitForEvent(ch <-chan orchestrator.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventMsg(orchestrator.Event{Type: orchestrator.EventBatchDone})
		}
		return eventMsg(e)
	}
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
