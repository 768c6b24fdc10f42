package tui

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"xiaoi/config"
	"xiaoi/internal/application"
	"xiaoi/internal/domain"
)

type fakeSpeaker struct {
	state   application.ConnectionState
	inits   int
	spoken  []string
	volume  int
	devices []domain.Device
	initErr error
}

func (f *fakeSpeaker) Init(_ context.Context, _ domain.SpeakerConfig) error {
	f.inits++
	if f.initErr != nil {
		return f.initErr
	}
	f.state = application.StateReady
	return nil
}

func (f *fakeSpeaker) TTS(_ context.Context, text, _ string) error {
	f.spoken = append(f.spoken, text)
	return nil
}

func (f *fakeSpeaker) SetVolume(_ context.Context, volume int, _ string) (any, error) {
	f.volume = volume
	return true, nil
}

func (f *fakeSpeaker) ListDevices(_ context.Context, _ domain.SpeakerConfig) ([]domain.Device, error) {
	return f.devices, nil
}

func (f *fakeSpeaker) Status() application.Status {
	return application.Status{State: f.state, StateName: f.state.String(), BoundDID: "111"}
}

func newTestModel(t *testing.T, speaker *fakeSpeaker) Model {
	t.Helper()
	cfg, err := config.LoadOrDefault(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	return New(speaker, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// settle runs cmd and feeds every task result back into the model.
func settle(m Model, cmd tea.Cmd) Model {
	if cmd == nil {
		return m
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			m = settle(m, c)
		}
	case taskDoneMsg, devicesMsg:
		m, _ = send(m, msg)
	}
	return m
}

func typeText(m Model, text string) Model {
	for _, r := range text {
		m, _ = send(m, key(string(r)))
	}
	return m
}

func TestMenu_SendTTS(t *testing.T) {
	speaker := &fakeSpeaker{}
	m := newTestModel(t, speaker)

	m, _ = send(m, key("enter"))
	if m.screen != screenInput || m.field != fieldTTS {
		t.Fatalf("screen: got %d/%d, want TTS input", m.screen, m.field)
	}

	m = typeText(m, "hello")
	m, cmd := send(m, key("enter"))
	if m.screen != screenBusy {
		t.Fatalf("screen: got %d, want busy", m.screen)
	}
	m = settle(m, cmd)

	if m.screen != screenResult || m.err != nil {
		t.Fatalf("result: screen %d err %v", m.screen, m.err)
	}
	if speaker.inits != 1 {
		t.Errorf("inits: got %d, want 1", speaker.inits)
	}
	if len(speaker.spoken) != 1 || speaker.spoken[0] != "hello" {
		t.Errorf("spoken: got %v", speaker.spoken)
	}

	m, _ = send(m, key("x"))
	if m.screen != screenMenu {
		t.Errorf("any key should return to menu, got %d", m.screen)
	}
}

func TestMenu_VolumeValidation(t *testing.T) {
	speaker := &fakeSpeaker{state: application.StateReady}
	m := newTestModel(t, speaker)

	m, _ = send(m, key("down"))
	m, _ = send(m, key("enter"))
	m = typeText(m, "150")
	m, cmd := send(m, key("enter"))

	if cmd != nil || !errors.Is(m.err, domain.ErrInvalidVolume) {
		t.Fatalf("volume 150: got err %v", m.err)
	}

	m.input.SetValue("40")
	m, cmd = send(m, key("enter"))
	m = settle(m, cmd)
	if speaker.volume != 40 {
		t.Errorf("volume: got %d, want 40", speaker.volume)
	}
	if speaker.inits != 0 {
		t.Errorf("ready speaker should not be re-initialized")
	}
}

func TestMenu_AccountSettingsSaves(t *testing.T) {
	m := newTestModel(t, &fakeSpeaker{})

	m.cursor = int(itemAccount)
	m, _ = send(m, key("enter"))
	m = typeText(m, "123456")
	m, _ = send(m, key("enter"))
	if m.field != fieldPassword {
		t.Fatalf("field: got %d, want password", m.field)
	}
	m = typeText(m, "pw")
	m, _ = send(m, key("enter"))
	m = typeText(m, "Bedroom")
	m, _ = send(m, key("enter"))

	if m.err != nil {
		t.Fatalf("saving: %v", m.err)
	}
	reloaded, err := config.Load(m.cfg.Path())
	if err != nil {
		t.Fatalf("reloading config: %v", err)
	}
	if reloaded.Speaker.UserID != "123456" || reloaded.Speaker.Password != "pw" || reloaded.Speaker.DID != "Bedroom" {
		t.Errorf("saved speaker config: got %+v", reloaded.Speaker)
	}
}

func TestMenu_ConnectionTestFailure(t *testing.T) {
	m := newTestModel(t, &fakeSpeaker{initErr: errors.New("login failed")})

	m.cursor = int(itemConnection)
	m, cmd := send(m, key("enter"))
	m = settle(m, cmd)

	if m.screen != screenResult || m.err == nil || !strings.Contains(m.err.Error(), "login failed") {
		t.Errorf("connection test: screen %d err %v", m.screen, m.err)
	}
	if !strings.Contains(m.View(), "login failed") {
		t.Error("view should show the error")
	}
}

func TestMenu_ListDevices(t *testing.T) {
	speaker := &fakeSpeaker{devices: []domain.Device{
		{DID: "111", Name: "客厅音箱", Model: "xiaomi.wifispeaker.lx06", Online: domain.OnlineYes},
		{DID: "222", Name: "Bedroom", Model: "xiaomi.wifispeaker.l05b", Online: domain.OnlineNo},
	}}
	m := newTestModel(t, speaker)

	m.cursor = int(itemDevices)
	m, cmd := send(m, key("enter"))
	m = settle(m, cmd)

	if m.screen != screenDevices || len(m.devices) != 2 {
		t.Fatalf("devices screen: got %d with %d devices", m.screen, len(m.devices))
	}
}

func TestDeviceTable_AlignsWideRunes(t *testing.T) {
	table := DeviceTable([]domain.Device{
		{DID: "111", Name: "客厅音箱", Online: domain.OnlineYes},
		{DID: "222", Name: "Bedroom", Online: domain.OnlineNo},
	}, 0)

	lines := strings.Split(table, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines: got %d, want 3", len(lines))
	}
	col := func(line string) int {
		idx := strings.Index(line, "1")
		if idx < 0 {
			idx = strings.Index(line, "2")
		}
		return runewidth.StringWidth(line[:idx])
	}
	if col(lines[1]) != col(lines[2]) {
		t.Errorf("DID column misaligned:\n%s", table)
	}

	if got := DeviceTable(nil, 80); got != "No speakers found." {
		t.Errorf("empty table: got %q", got)
	}
}

func TestMenu_Quit(t *testing.T) {
	m := newTestModel(t, &fakeSpeaker{})

	_, cmd := send(m, key("q"))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should return tea.Quit")
	}
}
