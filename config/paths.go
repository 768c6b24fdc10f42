package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

const (
	dirName  = ".xiaoi"
	fileName = "config.yaml"
)

const defaultConfig = `# xiaoi configuration
speaker:
  # Mi account id (numeric) and password or passToken
  user_id: ""
  password: ""
  pass_token: ""
  # device name or did as shown in the Mi Home app
  did: ""
  # auto, command or default
  tts_mode: auto
  verbose_log: false
  # tts_fallback_command: [5, 1]
  # tts_fallback_commands:
  #   lx06: [5, 1]

webhook:
  host: localhost
  port: 3088
  # generated on first start when empty
  token: ""
  log_file: webhook.log
  rate_limit_per_minute: 60

mcp:
  log_file: mcp.log

nats:
  enabled: false
  url: nats://127.0.0.1:4222
  subject_prefix: xiaoi

telemetry:
  metrics_enabled: false

log:
  level: info
  format: text
`

// Dir returns the config directory: $XIAOI_HOME or ~/.xiaoi.
func Dir() (string, error) {
	if dir := os.Getenv(envPrefix + "HOME"); dir != "" {
		return homedir.Expand(dir)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// EnsureExists writes the default template when no config file exists at
// path and returns the path used.
func EnsureExists(path string) (string, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return "", err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return "", fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
			return "", fmt.Errorf("writing default config: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	return path, nil
}

// EnsureWebhookToken generates and persists a webhook token when none is
// configured. It reports whether a new token was created.
func (c *Config) EnsureWebhookToken() (bool, error) {
	if c.Webhook.Token != "" {
		return false, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return false, fmt.Errorf("generating webhook token: %w", err)
	}
	if err := c.Set("webhook.token", hex.EncodeToString(buf)); err != nil {
		return false, err
	}
	if err := c.Save(); err != nil {
		return false, err
	}
	return true, nil
}

// Mask hides all but the edges of a secret for display.
func Mask(secret string) string {
	r := []rune(secret)
	switch {
	case len(r) == 0:
		return ""
	case len(r) <= 4:
		return "****"
	case len(r) <= 8:
		return string(r[:2]) + "****"
	default:
		return string(r[:4]) + "****" + string(r[len(r)-4:])
	}
}
