// Package tui renders a live view of a team session: the workers and their
// circuit states, the task graph's progress, failures as the monitor detects
// and resolves them, and the consolidation verdict.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/teamster/internal/config"
	"github.com/aristath/teamster/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneWorkers PaneID = iota
	PaneSession
)

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	workerPane        WorkerPaneModel
	sessionPane       SessionPaneModel
	settingsPane      SettingsPaneModel
	focusedPane       PaneID
	eventSub          <-chan events.Event
	width             int
	height            int
	quitting          bool
	showSettings      bool
	config            *config.Config
	globalConfigPath  string
	projectConfigPath string
}

// New creates a new TUI model.
// It subscribes to all events from the event bus using SubscribeAll.
func New(eventBus *events.EventBus, cfg *config.Config, globalPath, projectPath string) Model {
	return Model{
		workerPane:        NewWorkerPaneModel(),
		sessionPane:       NewSessionPaneModel(),
		settingsPane:      NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:       PaneWorkers,
		eventSub:          eventBus.SubscribeAll(256),
		showSettings:      false,
		config:            cfg,
		globalConfigPath:  globalPath,
		projectConfigPath: projectPath,
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If settings panel is open, route all keys to it (modal behavior)
		if m.showSettings {
			switch msg.String() {
			case KeySettings, "esc":
				m.showSettings = false
				m.settingsPane.SetVisible(false)
			default:
				var cmd tea.Cmd
				m.settingsPane, cmd = m.settingsPane.Update(msg)
				cmds = append(cmds, cmd)

				// The pane closes itself after a successful save
				if !m.settingsPane.IsVisible() {
					m.showSettings = false
				}
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab, KeyShiftTab:
			// Two panes, so forward and backward are the same toggle
			if m.focusedPane == PaneWorkers {
				m.focusedPane = PaneSession
			} else {
				m.focusedPane = PaneWorkers
			}
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneWorkers
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneSession
			m.updateFocusStates()

		default:
			switch m.focusedPane {
			case PaneWorkers:
				var cmd tea.Cmd
				m.workerPane, cmd = m.workerPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneSession:
				var cmd tea.Cmd
				m.sessionPane, cmd = m.sessionPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.Event:
		// Every session event feeds both panes: the worker pane tracks
		// per-worker detail, the session pane tracks aggregates.
		var cmd tea.Cmd
		m.workerPane, cmd = m.workerPane.Update(msg)
		cmds = append(cmds, cmd)
		m.sessionPane, cmd = m.sessionPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	leftPane := m.workerPane.View()
	rightPane := m.sessionPane.View()

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	helpBar := HelpView()

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, helpBar)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar

	m.workerPane.SetSize(leftWidth, availableHeight)
	m.sessionPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.workerPane.SetFocused(m.focusedPane == PaneWorkers)
	m.sessionPane.SetFocused(m.focusedPane == PaneSession)
}
