package tui

import (
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/teamster/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget       string
	minTeam          string
	maxTeam          string
	concurrency      string
	maxFixIterations string
	cascadeThreshold string
	idleTimeout      string
	messageTimeout   string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		visible:     false,
		saved:       false,

		saveTarget:       "global",
		minTeam:          strconv.Itoa(cfg.Thresholds.MinTeam),
		maxTeam:          strconv.Itoa(cfg.Thresholds.MaxTeam),
		concurrency:      strconv.Itoa(cfg.Session.Concurrency),
		maxFixIterations: strconv.Itoa(cfg.Session.MaxFixIterations),
		cascadeThreshold: strconv.Itoa(cfg.Session.CascadeThreshold),
		idleTimeout:      cfg.Timeouts.IdleTimeout.String(),
		messageTimeout:   cfg.Timeouts.CriticalAckTimeout.String(),
	}

	m.buildForm()
	return m
}

func validateInt(s string) error {
	if _, err := strconv.Atoi(s); err != nil {
		return fmt.Errorf("must be a whole number")
	}
	return nil
}

func validateDuration(s string) error {
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("must be a duration like 10m or 1h")
	}
	return nil
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.teamster/config.json)", "global"),
					huh.NewOption("Project (.teamster/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("minTeam").
				Title("Minimum Team Size").
				Value(&m.minTeam).
				Validate(validateInt).
				Placeholder("2"),

			huh.NewInput().
				Key("maxTeam").
				Title("Maximum Team Size").
				Value(&m.maxTeam).
				Validate(validateInt).
				Placeholder("5"),
		).Title("Team Sizing"),

		huh.NewGroup(
			huh.NewInput().
				Key("concurrency").
				Title("Worker Concurrency").
				Value(&m.concurrency).
				Validate(validateInt).
				Placeholder("5"),

			huh.NewInput().
				Key("maxFixIterations").
				Title("Consolidation Fix Iterations").
				Value(&m.maxFixIterations).
				Validate(validateInt).
				Placeholder("2"),

			huh.NewInput().
				Key("cascadeThreshold").
				Title("Cascade Budget").
				Value(&m.cascadeThreshold).
				Validate(validateInt).
				Placeholder("3"),
		).Title("Session"),

		huh.NewGroup(
			huh.NewInput().
				Key("idleTimeout").
				Title("Idle Timeout").
				Value(&m.idleTimeout).
				Validate(validateDuration).
				Placeholder("10m"),

			huh.NewInput().
				Key("messageTimeout").
				Title("Message Ack Timeout").
				Value(&m.messageTimeout).
				Validate(validateDuration).
				Placeholder("5m"),
		).Title("Timeouts"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			// Cancel without saving
			m.visible = false
			m.saved = false
			return m, nil
		}
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.applyFormToConfig()

		targetPath := m.globalPath
		if m.saveTarget == "project" {
			targetPath = m.projectPath
		}

		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
		}

		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
// Fields are validated at input time, so parse failures leave the old value.
func (m *SettingsPaneModel) applyFormToConfig() {
	if v, err := strconv.Atoi(m.minTeam); err == nil {
		m.config.Thresholds.MinTeam = v
	}
	if v, err := strconv.Atoi(m.maxTeam); err == nil {
		m.config.Thresholds.MaxTeam = v
	}
	if v, err := strconv.Atoi(m.concurrency); err == nil {
		m.config.Session.Concurrency = v
	}
	if v, err := strconv.Atoi(m.maxFixIterations); err == nil {
		m.config.Session.MaxFixIterations = v
	}
	if v, err := strconv.Atoi(m.cascadeThreshold); err == nil {
		m.config.Session.CascadeThreshold = v
	}
	if v, err := time.ParseDuration(m.idleTimeout); err == nil {
		m.config.Timeouts.IdleTimeout = v
	}
	if v, err := time.ParseDuration(m.messageTimeout); err == nil {
		m.config.Timeouts.CriticalAckTimeout = v
	}
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string

	if m.saved && m.form.State == huh.StateCompleted {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true).
			Render("✓ Settings saved successfully!")
	} else if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	body := style.Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	// Reset form state when showing
	if v && m.form != nil {
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
