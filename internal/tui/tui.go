// Package tui provides the interactive menu shown when xiaoi runs in a
// terminal without arguments.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"

	"xiaoi/config"
	"xiaoi/internal/application"
	"xiaoi/internal/domain"
)

const taskTimeout = 60 * time.Second

// Speaker is the part of the core the menu drives.
type Speaker interface {
	Init(ctx context.Context, cfg domain.SpeakerConfig) error
	TTS(ctx context.Context, text, did string) error
	SetVolume(ctx context.Context, volume int, did string) (any, error)
	ListDevices(ctx context.Context, cfg domain.SpeakerConfig) ([]domain.Device, error)
	Status() application.Status
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"})
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type screen int

const (
	screenMenu screen = iota
	screenInput
	screenBusy
	screenDevices
	screenResult
)

type menuItem int

const (
	itemTTS menuItem = iota
	itemVolume
	itemDevices
	itemAccount
	itemConnection
	itemQuit
)

var menuLabels = []string{
	itemTTS:        "Send TTS",
	itemVolume:     "Set volume",
	itemDevices:    "List devices",
	itemAccount:    "Account settings",
	itemConnection: "Connection test",
	itemQuit:       "Quit",
}

// field identifies what the text input is collecting.
type field int

const (
	fieldTTS field = iota
	fieldVolume
	fieldUserID
	fieldPassword
	fieldDID
)

type taskDoneMsg struct {
	message string
	err     error
}

type devicesMsg struct {
	devices []domain.Device
	err     error
}

type Model struct {
	speaker Speaker
	cfg     *config.Config
	logger  *slog.Logger

	screen  screen
	cursor  int
	field   field
	input   textinput.Model
	spinner spinner.Model
	devices []domain.Device
	result  string
	err     error
	width   int
}

func New(speaker Speaker, cfg *config.Config, logger *slog.Logger) Model {
	ti := textinput.New()
	ti.CharLimit = 500
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle
	return Model{
		speaker: speaker,
		cfg:     cfg,
		logger:  logger,
		input:   ti,
		spinner: sp,
		width:   80,
	}
}

// Run shows the menu until the user quits or ctx ends.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil {
		return fmt.Errorf("running menu: %w", err)
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		if m.screen != screenBusy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case taskDoneMsg:
		if msg.err != nil {
			m.logger.Debug("menu task failed", "error", msg.err)
		}
		m.screen = screenResult
		m.result = msg.message
		m.err = msg.err
		return m, nil

	case devicesMsg:
		if msg.err != nil {
			m.screen = screenResult
			m.err = msg.err
			return m, nil
		}
		m.screen = screenDevices
		m.devices = msg.devices
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.screen {
		case screenMenu:
			return m.updateMenu(msg)
		case screenInput:
			return m.updateInput(msg)
		case screenDevices, screenResult:
			m.back()
			return m, nil
		}
	}

	if m.screen == screenInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(menuLabels)-1 {
			m.cursor++
		}
	case "q", "esc":
		return m, tea.Quit
	case "enter":
		return m.choose(menuItem(m.cursor))
	}
	return m, nil
}

func (m Model) choose(item menuItem) (tea.Model, tea.Cmd) {
	switch item {
	case itemTTS:
		return m.prompt(fieldTTS, "", "What should the speaker say?")
	case itemVolume:
		return m.prompt(fieldVolume, "", "Volume (0-100)")
	case itemAccount:
		return m.prompt(fieldUserID, m.cfg.Speaker.UserID, "Xiaomi account ID")
	case itemDevices:
		return m.busy(m.listDevices())
	case itemConnection:
		return m.busy(m.testConnection())
	case itemQuit:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) prompt(f field, value, placeholder string) (tea.Model, tea.Cmd) {
	m.screen = screenInput
	m.field = f
	m.input.Reset()
	m.input.SetValue(value)
	m.input.Placeholder = placeholder
	m.input.EchoMode = textinput.EchoNormal
	if f == fieldPassword {
		m.input.EchoMode = textinput.EchoPassword
	}
	return m, m.input.Focus()
}

func (m Model) busy(task tea.Cmd) (tea.Model, tea.Cmd) {
	m.screen = screenBusy
	m.err = nil
	m.result = ""
	return m, tea.Batch(m.spinner.Tick, task)
}

func (m *Model) back() {
	m.screen = screenMenu
	m.input.Blur()
	m.err = nil
	m.result = ""
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.back()
		return m, nil
	case "enter":
		return m.submit(strings.TrimSpace(m.input.Value()))
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(value string) (tea.Model, tea.Cmd) {
	switch m.field {
	case fieldTTS:
		if value == "" {
			m.err = domain.ErrEmptyText
			return m, nil
		}
		return m.busy(m.speak(value))
	case fieldVolume:
		volume, err := strconv.Atoi(value)
		if err != nil || volume < 0 || volume > 100 {
			m.err = domain.ErrInvalidVolume
			return m, nil
		}
		return m.busy(m.setVolume(volume))
	case fieldUserID:
		if err := m.setIfChanged("speaker.user_id", m.cfg.Speaker.UserID, value); err != nil {
			return m, nil
		}
		return m.prompt(fieldPassword, m.cfg.Speaker.Password, "Password (leave empty to keep pass token)")
	case fieldPassword:
		if err := m.setIfChanged("speaker.password", m.cfg.Speaker.Password, value); err != nil {
			return m, nil
		}
		return m.prompt(fieldDID, m.cfg.Speaker.DID, "Speaker name or DID (empty for the first one)")
	case fieldDID:
		if err := m.setIfChanged("speaker.did", m.cfg.Speaker.DID, value); err != nil {
			return m, nil
		}
		m.input.Blur()
		if err := m.cfg.Save(); err != nil {
			m.screen = screenResult
			m.err = err
			return m, nil
		}
		m.screen = screenResult
		m.result = "Saved to " + m.cfg.Path()
		return m, nil
	}
	return m, nil
}

// setIfChanged records an account setting only when the user edited it, so
// values prefilled from the environment are not written to the file.
func (m *Model) setIfChanged(key, current, value string) error {
	if value == current {
		return nil
	}
	if err := m.cfg.Set(key, value); err != nil {
		m.err = err
		return err
	}
	return nil
}

func (m Model) speak(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		if err := m.ensureInit(ctx); err != nil {
			return taskDoneMsg{err: err}
		}
		err := m.speaker.TTS(ctx, text, "")
		return taskDoneMsg{message: "Spoken: " + text, err: err}
	}
}

func (m Model) setVolume(volume int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		if err := m.ensureInit(ctx); err != nil {
			return taskDoneMsg{err: err}
		}
		_, err := m.speaker.SetVolume(ctx, volume, "")
		return taskDoneMsg{message: fmt.Sprintf("Volume set to %d", volume), err: err}
	}
}

func (m Model) listDevices() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		cfg, err := m.cfg.ToSpeakerConfig()
		if err != nil {
			return devicesMsg{err: err}
		}
		devices, err := m.speaker.ListDevices(ctx, cfg)
		return devicesMsg{devices: devices, err: err}
	}
}

func (m Model) testConnection() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		cfg, err := m.cfg.ToSpeakerConfig()
		if err != nil {
			return taskDoneMsg{err: err}
		}
		if err := m.speaker.Init(ctx, cfg); err != nil {
			return taskDoneMsg{err: err}
		}
		st := m.speaker.Status()
		return taskDoneMsg{message: fmt.Sprintf("Connected to %s (%s)", st.BoundDID, st.Model)}
	}
}

func (m Model) ensureInit(ctx context.Context) error {
	if m.speaker.Status().State != application.StateUninitialized {
		return nil
	}
	cfg, err := m.cfg.ToSpeakerConfig()
	if err != nil {
		return err
	}
	return m.speaker.Init(ctx, cfg)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("xiaoi") + "  " + m.statusLine() + "\n\n")

	switch m.screen {
	case screenMenu:
		for i, label := range menuLabels {
			if i == m.cursor {
				b.WriteString(selectedStyle.Render("> "+label) + "\n")
			} else {
				b.WriteString("  " + label + "\n")
			}
		}
		b.WriteString("\n" + dimStyle.Render("↑/↓ move • enter select • q quit"))
	case screenInput:
		b.WriteString(m.input.View() + "\n")
		if m.err != nil {
			b.WriteString(errStyle.Render(m.err.Error()) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter confirm • esc back"))
	case screenBusy:
		b.WriteString(m.spinner.View() + " Working…")
	case screenDevices:
		b.WriteString(boxStyle.Render(DeviceTable(m.devices, m.width-4)) + "\n")
		b.WriteString("\n" + dimStyle.Render("any key to go back"))
	case screenResult:
		if m.err != nil {
			b.WriteString(errStyle.Render("✗ "+m.err.Error()) + "\n")
		} else {
			b.WriteString(okStyle.Render("✓ "+m.result) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("any key to go back"))
	}
	return b.String()
}

func (m Model) statusLine() string {
	configured := errStyle.Render("not configured")
	if m.cfg.Configured() {
		configured = okStyle.Render("configured")
	}
	device := m.cfg.Speaker.DID
	st := m.speaker.Status()
	if st.BoundDID != "" {
		device = st.BoundDID
	}
	if device == "" {
		device = "default speaker"
	}
	return dimStyle.Render(fmt.Sprintf("[%s • %s • %s]", configured, device, st.StateName))
}

// DeviceTable lays devices out in columns measured in terminal cells, so
// names in CJK scripts stay aligned.
func DeviceTable(devices []domain.Device, width int) string {
	if len(devices) == 0 {
		return "No speakers found."
	}

	headers := []string{"NAME", "DID", "MODEL", "STATUS"}
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		name := d.Name
		if d.Alias != "" && d.Alias != d.Name {
			name += " (" + d.Alias + ")"
		}
		rows = append(rows, []string{name, d.DID, d.Model, d.Online.String()})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	if width > 0 {
		total := len(widths) - 1
		for _, w := range widths {
			total += 2 + w
		}
		if over := total - width; over > 0 && widths[0]-over >= 8 {
			widths[0] -= over
		}
	}

	var b strings.Builder
	line := func(cells []string) {
		for i, cell := range cells {
			cell = runewidth.Truncate(cell, widths[i], "…")
			b.WriteString(runewidth.FillRight(cell, widths[i]))
			if i < len(cells)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}
	line(headers)
	for _, r := range rows {
		line(r)
	}
	return strings.TrimRight(b.String(), "\n")
}
