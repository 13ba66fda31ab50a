package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/teamster/internal/events"
)

// SessionPaneModel shows the session at a glance: the sizing decision, task
// progress through the dependency graph, open failures, and the
// consolidation verdict.
type SessionPaneModel struct {
	decision string
	teamSize int

	tasks map[string]string // taskID -> "running", "completed", "failed"

	failuresOpen     int
	failuresResolved int
	reassignments    int

	consolidating bool
	consolidation string // last consolidation line
	rollback      string // rollback reason, empty unless recommended

	width   int
	height  int
	focused bool
}

// NewSessionPaneModel creates a new session pane model.
func NewSessionPaneModel() SessionPaneModel {
	return SessionPaneModel{tasks: make(map[string]string)}
}

// Update handles messages for the session pane.
func (m SessionPaneModel) Update(msg tea.Msg) (SessionPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.DecisionMadeEvent:
		m.decision = msg.Kind.String()
		m.teamSize = msg.N

	case events.TaskClaimedEvent:
		if _, exists := m.tasks[msg.TaskID]; !exists {
			m.tasks[msg.TaskID] = "running"
		}

	case events.TaskStartedEvent:
		m.tasks[msg.TaskID] = "running"

	case events.TaskCompletedEvent:
		m.tasks[msg.TaskID] = "completed"

	case events.TaskFailedEvent:
		if msg.Permanent {
			m.tasks[msg.TaskID] = "failed"
		}

	case events.TaskReassignedEvent:
		m.reassignments++
		m.tasks[msg.TaskID] = "running"

	case events.FailureDetectedEvent:
		m.failuresOpen++

	case events.FailureResolvedEvent:
		if m.failuresOpen > 0 {
			m.failuresOpen--
		}
		m.failuresResolved++

	case events.ConsolidationStartedEvent:
		m.consolidating = true
		m.consolidation = "running..."

	case events.ConsolidationResultEvent:
		if msg.Passed {
			m.consolidation = fmt.Sprintf("passed (iteration %d)", msg.Iteration)
		} else {
			m.consolidation = fmt.Sprintf("failed (iteration %d): %s", msg.Iteration, msg.Diagnostic)
		}

	case events.RollbackRecommendedEvent:
		m.rollback = msg.Reason
	}

	return m, nil
}

// View renders the session pane.
func (m SessionPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Session")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.decision != "" {
		b.WriteString(fmt.Sprintf("Decision:  %s (N=%d)\n\n", m.decision, m.teamSize))
	}

	total, completed, running, failed := m.counts()
	b.WriteString(fmt.Sprintf("Tasks:     %d\n", total))
	b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", completed))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", running))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", failed))))

	b.WriteString("\n")

	if total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (completed * barWidth) / total
		failedWidth := (failed * barWidth) / total
		runningWidth := barWidth - completedWidth - failedWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n\n", bar, completed, total))
	}

	b.WriteString(fmt.Sprintf("Failures:  %d open, %d resolved", m.failuresOpen, m.failuresResolved))
	if m.reassignments > 0 {
		b.WriteString(fmt.Sprintf(", %d reassigned", m.reassignments))
	}
	b.WriteString("\n")

	if m.consolidating {
		b.WriteString(fmt.Sprintf("Consolidation: %s\n", m.consolidation))
	}
	if m.rollback != "" {
		b.WriteString(StyleUrgent.Render("ROLLBACK: " + m.rollback))
		b.WriteString("\n")
	}

	content := b.String()

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m SessionPaneModel) counts() (total, completed, running, failed int) {
	for _, status := range m.tasks {
		total++
		switch status {
		case "completed":
			completed++
		case "failed":
			failed++
		default:
			running++
		}
	}
	return total, completed, running, failed
}

// SetSize updates the pane dimensions.
func (m *SessionPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *SessionPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
