package application_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"xiaoi/internal/application"
	"xiaoi/internal/domain"
)

func TestBuildModelCandidates(t *testing.T) {
	tests := []struct {
		model string
		want  []string
	}{
		{model: "L05B", want: []string{"l05b"}},
		{model: "  LX06 ", want: []string{"lx06"}},
		{model: "xiaomi.wifispeaker.lx06", want: []string{"xiaomi.wifispeaker.lx06", "lx06"}},
		{model: "Xiaomi Speaker LX06", want: []string{"xiaomi speaker lx06", "xiaomispeakerlx06", "lx06"}},
		{model: "LX06音箱", want: []string{"lx06音箱", "lx06"}},
		{model: "小爱音箱 Pro-L05C", want: []string{"小爱音箱 pro-l05c", "小爱音箱pro-l05c", "l05c"}},
		{model: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, application.BuildModelCandidates(tt.model))
		})
	}
}

func TestResolveTTSCommandForModel(t *testing.T) {
	t.Run("exact model", func(t *testing.T) {
		got := application.ResolveTTSCommandForModel("L05B", domain.SpeakerConfig{})
		assert.Equal(t, domain.ActionCommand{ServiceID: 5, ActionID: 3}, got.Command)
		assert.Equal(t, domain.CommandSourceModel, got.Source)
		assert.Equal(t, "l05b", got.MatchedKey)
	})

	t.Run("vendor prefixed model", func(t *testing.T) {
		got := application.ResolveTTSCommandForModel("xiaomi.wifispeaker.lx06", domain.SpeakerConfig{})
		assert.Equal(t, domain.ActionCommand{ServiceID: 5, ActionID: 1}, got.Command)
		assert.Equal(t, "lx06", got.MatchedKey)
		assert.Equal(t, domain.CommandSourceModel, got.Source)
	})

	t.Run("unknown model uses table default", func(t *testing.T) {
		got := application.ResolveTTSCommandForModel("unknown", domain.SpeakerConfig{})
		assert.Equal(t, domain.ActionCommand{ServiceID: 5, ActionID: 1}, got.Command)
		assert.Equal(t, domain.CommandSourceDefault, got.Source)
		assert.Empty(t, got.MatchedKey)
	})

	t.Run("configured fallback beats table default", func(t *testing.T) {
		cfg := domain.SpeakerConfig{}.WithTTSFallbackCommand(domain.ActionCommand{ServiceID: 7, ActionID: 3})
		got := application.ResolveTTSCommandForModel("unknown", cfg)
		assert.Equal(t, domain.ActionCommand{ServiceID: 7, ActionID: 3}, got.Command)
		assert.Equal(t, domain.CommandSourceDefault, got.Source)
	})

	t.Run("user table overrides builtin key", func(t *testing.T) {
		cfg := domain.SpeakerConfig{}.WithTTSFallbackCommandForModel("l05b", domain.ActionCommand{ServiceID: 9, ActionID: 9})
		got := application.ResolveTTSCommandForModel("L05B", cfg)
		assert.Equal(t, domain.ActionCommand{ServiceID: 9, ActionID: 9}, got.Command)
	})

	t.Run("user default entry", func(t *testing.T) {
		cfg := domain.SpeakerConfig{}.WithTTSFallbackCommandForModel("default", domain.ActionCommand{ServiceID: 2, ActionID: 2})
		got := application.ResolveTTSCommandForModel("", cfg)
		assert.Equal(t, domain.ActionCommand{ServiceID: 2, ActionID: 2}, got.Command)
		assert.Equal(t, domain.CommandSourceDefault, got.Source)
	})

	t.Run("resolution never mutates the builtin table", func(t *testing.T) {
		cfg := domain.SpeakerConfig{}.WithTTSFallbackCommandForModel("lx06", domain.ActionCommand{ServiceID: 1, ActionID: 1})
		application.ResolveTTSCommandForModel("lx06", cfg)
		assert.Equal(t, domain.ActionCommand{ServiceID: 5, ActionID: 1}, application.BuiltinTTSCommands()["lx06"])
	})
}
