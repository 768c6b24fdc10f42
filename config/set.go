package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"xiaoi/internal/domain"
)

// Keys lists the settings Set accepts.
var Keys = []string{
	"speaker.user_id",
	"speaker.password",
	"speaker.pass_token",
	"speaker.did",
	"speaker.tts_mode",
	"speaker.verbose_log",
	"speaker.tts_fallback_command",
	"webhook.host",
	"webhook.port",
	"webhook.token",
	"webhook.rate_limit_per_minute",
	"nats.enabled",
	"nats.url",
	"telemetry.metrics_enabled",
	"log.level",
}

// Set assigns one setting from its command line form. Values are validated
// the same way Load and ToSpeakerConfig validate them.
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if !slices.Contains(Keys, key) {
		return &domain.ConfigError{Field: key, Reason: "unknown setting (see `xiaoi config set --help`)"}
	}

	switch key {
	case "speaker.user_id":
		c.Speaker.UserID = value
	case "speaker.password":
		c.Speaker.Password = value
	case "speaker.pass_token":
		c.Speaker.PassToken = value
	case "speaker.did":
		c.Speaker.DID = value
	case "speaker.tts_mode":
		mode, err := domain.ParseTTSMode(value)
		if err != nil {
			return err
		}
		c.Speaker.TTSMode = string(mode)
	case "speaker.verbose_log":
		if err := setBool(&c.Speaker.VerboseLog, key, value); err != nil {
			return err
		}
	case "speaker.tts_fallback_command":
		if value == "" {
			c.Speaker.TTSFallbackCommand = nil
			break
		}
		cmd, err := domain.ParseActionCommandString(value)
		if err != nil {
			return err
		}
		c.Speaker.TTSFallbackCommand = []any{cmd.ServiceID, cmd.ActionID}
	case "webhook.host":
		c.Webhook.Host = value
	case "webhook.port":
		port, err := strconv.Atoi(value)
		if err != nil || port < 1 || port > 65535 {
			return &domain.ConfigError{Field: key, Reason: fmt.Sprintf("invalid port %q", value)}
		}
		c.Webhook.Port = port
	case "webhook.token":
		c.Webhook.Token = value
	case "webhook.rate_limit_per_minute":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &domain.ConfigError{Field: key, Reason: fmt.Sprintf("invalid number %q", value)}
		}
		c.Webhook.RateLimitPerMinute = n
	case "nats.enabled":
		if err := setBool(&c.NATS.Enabled, key, value); err != nil {
			return err
		}
	case "nats.url":
		c.NATS.URL = value
	case "telemetry.metrics_enabled":
		if err := setBool(&c.Telemetry.MetricsEnabled, key, value); err != nil {
			return err
		}
	case "log.level":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "error":
			c.Log.Level = strings.ToLower(value)
		default:
			return &domain.ConfigError{Field: key, Reason: fmt.Sprintf("unknown level %q", value)}
		}
	}

	if c.edits == nil {
		c.edits = make(map[string]any)
	}
	c.edits[key] = c.value(key)
	return nil
}

// value returns the typed value stored for a Set key, or nil when the
// setting is cleared.
func (c *Config) value(key string) any {
	switch key {
	case "speaker.user_id":
		return c.Speaker.UserID
	case "speaker.password":
		return c.Speaker.Password
	case "speaker.pass_token":
		return c.Speaker.PassToken
	case "speaker.did":
		return c.Speaker.DID
	case "speaker.tts_mode":
		return c.Speaker.TTSMode
	case "speaker.verbose_log":
		return c.Speaker.VerboseLog
	case "speaker.tts_fallback_command":
		if len(c.Speaker.TTSFallbackCommand) == 0 {
			return nil
		}
		return c.Speaker.TTSFallbackCommand
	case "webhook.host":
		return c.Webhook.Host
	case "webhook.port":
		return c.Webhook.Port
	case "webhook.token":
		return c.Webhook.Token
	case "webhook.rate_limit_per_minute":
		return c.Webhook.RateLimitPerMinute
	case "nats.enabled":
		return c.NATS.Enabled
	case "nats.url":
		return c.NATS.URL
	case "telemetry.metrics_enabled":
		return c.Telemetry.MetricsEnabled
	case "log.level":
		return c.Log.Level
	}
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return &domain.ConfigError{Field: key, Reason: fmt.Sprintf("want true or false, got %q", value)}
	}
	*dst = b
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	out.Speaker.Password = Mask(c.Speaker.Password)
	out.Speaker.PassToken = Mask(c.Speaker.PassToken)
	out.Webhook.Token = Mask(c.Webhook.Token)
	return out
}
