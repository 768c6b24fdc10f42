package domain

import (
	"fmt"
	"maps"
	"strings"
)

type TTSMode string

const (
	TTSModeAuto    TTSMode = "auto"
	TTSModeCommand TTSMode = "command"
	TTSModeDefault TTSMode = "default"
)

func ParseTTSMode(s string) (TTSMode, error) {
	switch TTSMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", TTSModeAuto:
		return TTSModeAuto, nil
	case TTSModeCommand:
		return TTSModeCommand, nil
	case TTSModeDefault:
		return TTSModeDefault, nil
	default:
		return "", &ConfigError{Field: "ttsMode", Reason: fmt.Sprintf("unknown mode %q (want auto, command or default)", s)}
	}
}

// SpeakerConfig is treated as an immutable value: the With* helpers return
// updated copies and never touch the receiver's command map.
type SpeakerConfig struct {
	UserID    string
	Password  string
	PassToken string
	DID       string

	TTSMode    TTSMode
	VerboseLog bool

	// TTSFallbackCommand takes precedence over the "default" table entry.
	TTSFallbackCommand *ActionCommand
	// TTSFallbackCommands is keyed by normalized model.
	TTSFallbackCommands map[string]ActionCommand
}

func (c SpeakerConfig) HasCredentials() bool {
	return c.UserID != "" && (c.Password != "" || c.PassToken != "")
}

func (c SpeakerConfig) Mode() TTSMode {
	if c.TTSMode == "" {
		return TTSModeAuto
	}
	return c.TTSMode
}

func (c SpeakerConfig) Clone() SpeakerConfig {
	out := c
	if c.TTSFallbackCommand != nil {
		cmd := *c.TTSFallbackCommand
		out.TTSFallbackCommand = &cmd
	}
	if c.TTSFallbackCommands != nil {
		out.TTSFallbackCommands = maps.Clone(c.TTSFallbackCommands)
	}
	return out
}

// Merge overlays the non-empty fields of next onto c. VerboseLog always takes
// next's value; per-model commands are merged key by key.
func (c SpeakerConfig) Merge(next SpeakerConfig) SpeakerConfig {
	out := c.Clone()
	if next.UserID != "" {
		out.UserID = next.UserID
	}
	if next.Password != "" {
		out.Password = next.Password
	}
	if next.PassToken != "" {
		out.PassToken = next.PassToken
	}
	if next.DID != "" {
		out.DID = next.DID
	}
	if next.TTSMode != "" {
		out.TTSMode = next.TTSMode
	}
	out.VerboseLog = next.VerboseLog
	if next.TTSFallbackCommand != nil {
		cmd := *next.TTSFallbackCommand
		out.TTSFallbackCommand = &cmd
	}
	for model, cmd := range next.TTSFallbackCommands {
		if out.TTSFallbackCommands == nil {
			out.TTSFallbackCommands = make(map[string]ActionCommand)
		}
		out.TTSFallbackCommands[NormalizeModel(model)] = cmd
	}
	return out
}

func (c SpeakerConfig) WithDID(did string) SpeakerConfig {
	out := c.Clone()
	out.DID = did
	return out
}

func (c SpeakerConfig) WithTTSMode(mode TTSMode) SpeakerConfig {
	out := c.Clone()
	out.TTSMode = mode
	return out
}

func (c SpeakerConfig) WithVerboseLog(enabled bool) SpeakerConfig {
	out := c.Clone()
	out.VerboseLog = enabled
	return out
}

func (c SpeakerConfig) WithTTSFallbackCommand(cmd ActionCommand) SpeakerConfig {
	out := c.Clone()
	out.TTSFallbackCommand = &cmd
	return out
}

func (c SpeakerConfig) WithTTSFallbackCommandForModel(model string, cmd ActionCommand) SpeakerConfig {
	out := c.Clone()
	if out.TTSFallbackCommands == nil {
		out.TTSFallbackCommands = make(map[string]ActionCommand, 1)
	}
	out.TTSFallbackCommands[NormalizeModel(model)] = cmd
	return out
}

// NormalizeModel lowercases and trims a device model for table lookups.
func NormalizeModel(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
