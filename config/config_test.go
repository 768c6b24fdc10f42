package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaoi/config"
	"xiaoi/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("XIAOI_DID", "from-env")
	t.Setenv("SPEAKER_PASS", "secret")

	path := writeConfig(t, `
speaker:
  user_id: "123"
  password: ${SPEAKER_PASS}
  did: from-file
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "123", cfg.Speaker.UserID)
	assert.Equal(t, "secret", cfg.Speaker.Password)
	assert.Equal(t, "from-env", cfg.Speaker.DID)
	assert.Equal(t, "auto", cfg.Speaker.TTSMode)
	assert.Equal(t, 3088, cfg.Webhook.Port)
	assert.Equal(t, "localhost", cfg.Webhook.Host)
	assert.Equal(t, "xiaoi", cfg.NATS.SubjectPrefix)
	assert.Equal(t, filepath.Dir(path), cfg.CacheDir)
	assert.True(t, cfg.Configured())
}

func TestToSpeakerConfig(t *testing.T) {
	path := writeConfig(t, `
speaker:
  user_id: "123"
  pass_token: tok
  tts_mode: command
  tts_fallback_command: [7, 3]
  tts_fallback_commands:
    LX06: [5, 1]
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	sc, err := cfg.ToSpeakerConfig()
	require.NoError(t, err)
	assert.Equal(t, domain.TTSModeCommand, sc.TTSMode)
	require.NotNil(t, sc.TTSFallbackCommand)
	assert.Equal(t, domain.ActionCommand{ServiceID: 7, ActionID: 3}, *sc.TTSFallbackCommand)
	assert.Equal(t, domain.ActionCommand{ServiceID: 5, ActionID: 1}, sc.TTSFallbackCommands["lx06"])
}

func TestToSpeakerConfig_RejectsMalformedCommand(t *testing.T) {
	path := writeConfig(t, `
speaker:
  tts_fallback_command: [5, x]
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	_, err = cfg.ToSpeakerConfig()
	var fmtErr *domain.CommandFormatError
	assert.ErrorAs(t, err, &fmtErr)
}

func TestEnsureExistsAndToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	got, err := config.EnsureExists(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Webhook.Token)

	created, err := cfg.EnsureWebhookToken()
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, cfg.Webhook.Token, 64)

	reloaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Webhook.Token, reloaded.Webhook.Token)

	created, err = reloaded.EnsureWebhookToken()
	require.NoError(t, err)
	assert.False(t, created)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := config.LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path())
	assert.False(t, cfg.Configured())
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", config.Mask(""))
	assert.Equal(t, "****", config.Mask("abc"))
	assert.Equal(t, "ab****", config.Mask("abcdef"))
	assert.Equal(t, "abcd****mnop", config.Mask("abcdefghijklmnop"))
}

func TestSave_KeepsEnvironmentOutOfFile(t *testing.T) {
	t.Setenv("MY_SECRET_PW", "hunter2")
	t.Setenv("XIAOI_PASS_TOKEN", "envtoken")

	path := writeConfig(t, `# my speaker
speaker:
  user_id: "123"
  password: ${MY_SECRET_PW} # from the shell
webhook:
  port: 3088
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "hunter2", cfg.Speaker.Password)

	created, err := cfg.EnsureWebhookToken()
	require.NoError(t, err)
	require.True(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	written := string(data)

	assert.Contains(t, written, "${MY_SECRET_PW}")
	assert.Contains(t, written, "# my speaker")
	assert.Contains(t, written, "token: "+cfg.Webhook.Token)
	assert.NotContains(t, written, "hunter2")
	assert.NotContains(t, written, "envtoken")
	assert.NotContains(t, written, "cache_dir")
	assert.NotContains(t, written, "rate_limit_per_minute")

	reloaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", reloaded.Speaker.Password)
	assert.Equal(t, cfg.Webhook.Token, reloaded.Webhook.Token)
}

func TestSave_OnlyEditedKeys(t *testing.T) {
	path := writeConfig(t, `speaker:
  user_id: "123"
  did: Kitchen
nats:
  enabled: false
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.NoError(t, cfg.Set("speaker.did", "Bedroom"))
	require.NoError(t, cfg.Set("speaker.tts_fallback_command", "5,3"))
	require.NoError(t, cfg.Set("telemetry.metrics_enabled", "true"))
	require.NoError(t, cfg.Save())

	reloaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "123", reloaded.Speaker.UserID)
	assert.Equal(t, "Bedroom", reloaded.Speaker.DID)
	assert.True(t, reloaded.Telemetry.MetricsEnabled)
	assert.Len(t, reloaded.Speaker.TTSFallbackCommand, 2)

	require.NoError(t, reloaded.Set("speaker.tts_fallback_command", ""))
	require.NoError(t, reloaded.Save())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "tts_fallback_command")
}
