package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/teamster/internal/events"
)

// WorkerState tracks one worker's progress through the execution circuit,
// plus a per-worker feed of everything that happened to it.
type WorkerState struct {
	WorkerID  string
	TaskID    string
	Circuit   string // current circuit state name
	Status    string // "working", "completed", "failed", "lost"
	Feed      []string
	SpawnedAt time.Time
	Duration  time.Duration
}

// WorkerPaneModel renders the worker list alongside a scrollable feed for
// the selected worker.
type WorkerPaneModel struct {
	workers     map[string]*WorkerState // workerID -> state
	workerOrder []string                // spawn order for display
	byTask      map[string]string       // taskID -> current owner workerID
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewWorkerPaneModel creates a new worker pane model.
func NewWorkerPaneModel() WorkerPaneModel {
	vp := viewport.New(0, 0)
	return WorkerPaneModel{
		workers:  make(map[string]*WorkerState),
		byTask:   make(map[string]string),
		viewport: vp,
	}
}

// Update handles messages for the worker pane.
func (m WorkerPaneModel) Update(msg tea.Msg) (WorkerPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.workerOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.WorkerSpawnedEvent:
		if _, exists := m.workers[msg.WorkerID]; !exists {
			m.workers[msg.WorkerID] = &WorkerState{
				WorkerID:  msg.WorkerID,
				TaskID:    msg.TaskID,
				Circuit:   "discovery",
				Status:    "working",
				Feed:      []string{feedLine(msg.Timestamp, "spawned for %s", msg.TaskID)},
				SpawnedAt: msg.Timestamp,
			}
			m.workerOrder = append(m.workerOrder, msg.WorkerID)
			m.byTask[msg.TaskID] = msg.WorkerID
			if len(m.workerOrder) == 1 {
				m.selectedIdx = 0
			}
			m.updateViewportContent()
		}

	case events.WorkerStateChangedEvent:
		if w, exists := m.workers[msg.WorkerID]; exists {
			w.Circuit = msg.To
			m.appendFeed(msg.WorkerID, msg.Timestamp, "%s -> %s", msg.From, msg.To)
		}

	case events.WorkerLostEvent:
		if w, exists := m.workers[msg.WorkerID]; exists {
			w.Status = "lost"
			w.Duration = msg.Timestamp.Sub(w.SpawnedAt)
			m.appendFeed(msg.WorkerID, msg.Timestamp, "declared lost")
		}

	case events.TaskClaimedEvent:
		m.byTask[msg.TaskID] = msg.WorkerID
		m.appendFeed(msg.WorkerID, msg.Timestamp, "claimed %s", msg.TaskID)

	case events.TaskStartedEvent:
		m.appendFeed(msg.WorkerID, msg.Timestamp, "started %s", msg.TaskID)

	case events.TaskCompletedEvent:
		if w, exists := m.workers[msg.WorkerID]; exists {
			w.Status = "completed"
			w.Duration = msg.Duration
			m.appendFeed(msg.WorkerID, msg.Timestamp, "completed %s in %v", msg.TaskID, msg.Duration.Round(time.Second))
		}

	case events.TaskFailedEvent:
		if w, exists := m.workers[msg.WorkerID]; exists {
			w.Status = "failed"
			m.appendFeed(msg.WorkerID, msg.Timestamp, "failed %s: %v", msg.TaskID, msg.Err)
		}

	case events.TaskReassignedEvent:
		resume := "from scratch"
		if msg.FromCheckpoint {
			resume = "from checkpoint"
		}
		m.appendFeed(msg.NewWorkerID, msg.Timestamp, "took over %s from %s (%s)", msg.TaskID, msg.LostWorkerID, resume)

	case events.FailureDetectedEvent:
		if workerID := m.failureWorker(msg.Failure.WorkerID, msg.Failure.TaskID); workerID != "" {
			m.appendFeed(workerID, msg.Timestamp, "%s detected, action %s", msg.Failure.Kind, msg.Failure.Action)
		}

	case events.FailureResolvedEvent:
		if workerID := m.failureWorker(msg.Failure.WorkerID, msg.Failure.TaskID); workerID != "" {
			m.appendFeed(workerID, msg.Timestamp, "%s resolved after %v", msg.Failure.Kind, msg.Failure.ResolutionTime().Round(time.Second))
		}
	}

	return m, cmd
}

func feedLine(ts time.Time, format string, args ...interface{}) string {
	return fmt.Sprintf("%s  %s", ts.Format("15:04:05"), fmt.Sprintf(format, args...))
}

func (m *WorkerPaneModel) appendFeed(workerID string, ts time.Time, format string, args ...interface{}) {
	w, exists := m.workers[workerID]
	if !exists {
		return
	}
	w.Feed = append(w.Feed, feedLine(ts, format, args...))
	if m.selectedWorkerID() == workerID {
		m.updateViewportContent()
	}
}

// failureWorker maps a failure event to a worker: by worker ID when set,
// otherwise via the task's current owner.
func (m WorkerPaneModel) failureWorker(workerID, taskID string) string {
	if workerID != "" {
		return workerID
	}
	return m.byTask[taskID]
}

// View renders the worker pane.
func (m WorkerPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	viewportWidth := m.width - listWidth - 4

	listContent := m.renderWorkerList(listWidth)
	viewportContent := m.viewport.View()

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		listContent,
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(viewportContent),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m WorkerPaneModel) renderWorkerList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Workers")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.workerOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, workerID := range m.workerOrder {
			w := m.workers[workerID]
			icon := m.StatusIcon(w.Status)
			name := workerID
			if len(name) > width-6 {
				name = name[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", icon, name)
			if i == m.selectedIdx {
				line = lipgloss.NewStyle().
					Background(lipgloss.Color("62")).
					Foreground(lipgloss.Color("0")).
					Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
			if w.Status == "working" {
				b.WriteString(StyleStatusPending.Render("   " + w.Circuit))
				b.WriteString("\n")
			}
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func (m WorkerPaneModel) StatusIcon(status string) string {
	switch status {
	case "working":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	case "lost":
		return StyleStatusLost.Render("?")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m WorkerPaneModel) selectedWorkerID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.workerOrder) {
		return m.workerOrder[m.selectedIdx]
	}
	return ""
}

func (m *WorkerPaneModel) updateViewportContent() {
	workerID := m.selectedWorkerID()
	if workerID == "" {
		m.viewport.SetContent("Waiting for workers...")
		return
	}

	w, exists := m.workers[workerID]
	if !exists {
		m.viewport.SetContent("Waiting for workers...")
		return
	}

	m.viewport.SetContent(strings.Join(w.Feed, "\n"))
	m.viewport.GotoBottom()
}

func (m *WorkerPaneModel) resizeViewport() {
	listWidth := 28
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *WorkerPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *WorkerPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
