package application

import (
	"maps"
	"strings"
	"unicode"

	"xiaoi/internal/domain"
)

const defaultCommandKey = "default"

var hardFallbackCommand = domain.ActionCommand{ServiceID: 5, ActionID: 1}

// builtinTTSCommands maps normalized speaker models to their text-to-speech
// action. Alias models keep independent entries.
var builtinTTSCommands = map[string]domain.ActionCommand{
	defaultCommandKey: {ServiceID: 5, ActionID: 1},
	"lx06":            {ServiceID: 5, ActionID: 1},
	"l05b":            {ServiceID: 5, ActionID: 3},
	"l05c":            {ServiceID: 5, ActionID: 3},
	"s12":             {ServiceID: 5, ActionID: 1},
	"s12a":            {ServiceID: 5, ActionID: 1},
	"lx01":            {ServiceID: 5, ActionID: 1},
	"lx04":            {ServiceID: 5, ActionID: 1},
	"lx5a":            {ServiceID: 5, ActionID: 1},
	"lx05a":           {ServiceID: 5, ActionID: 1},
	"l06a":            {ServiceID: 5, ActionID: 1},
	"l07a":            {ServiceID: 5, ActionID: 1},
	"l09a":            {ServiceID: 3, ActionID: 1},
	"l15a":            {ServiceID: 7, ActionID: 3},
	"l16a":            {ServiceID: 7, ActionID: 3},
	"l17a":            {ServiceID: 7, ActionID: 3},
	"x08e":            {ServiceID: 7, ActionID: 3},
	"x10a":            {ServiceID: 7, ActionID: 3},
	"oh2p":            {ServiceID: 7, ActionID: 3},
}

// vendorPrefixes are stripped from raw models, longest first.
var vendorPrefixes = []string{
	"xiaomi.wifispeaker.",
	"xiaomi_wifispeaker_",
	"xiaomi-wifispeaker-",
	"xiaomi.",
	"xiaomi_",
	"xiaomi-",
	"mi.",
}

// BuiltinTTSCommands returns a copy of the built-in model table.
func BuiltinTTSCommands() map[string]domain.ActionCommand {
	return maps.Clone(builtinTTSCommands)
}

func NormalizeModel(model string) string {
	return domain.NormalizeModel(model)
}

// BuildModelCandidates lists lookup keys for a raw model in priority order:
// the normalized model, the model without whitespace, its last ASCII alphanumeric
// token and the model without a vendor prefix. Empty and duplicate entries
// are dropped.
func BuildModelCandidates(model string) []string {
	normalized := NormalizeModel(model)
	if normalized == "" {
		return nil
	}

	candidates := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	add := func(c string) {
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		candidates = append(candidates, c)
	}

	add(normalized)

	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, normalized)
	add(compact)

	tokens := strings.FieldsFunc(normalized, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	if len(tokens) > 0 {
		add(tokens[len(tokens)-1])
	}

	for _, prefix := range vendorPrefixes {
		if rest, ok := strings.CutPrefix(compact, prefix); ok && rest != "" {
			add(rest)
			break
		}
	}

	return candidates
}

// ResolveTTSCommandForModel picks the TTS action for a device model. The
// built-in table is overridden key by key by cfg.TTSFallbackCommands. When no
// candidate matches, the configured fallback command wins over the table's
// default entry, which wins over [5,1].
func ResolveTTSCommandForModel(model string, cfg domain.SpeakerConfig) domain.ResolvedCommand {
	table := effectiveCommandTable(cfg)

	for _, candidate := range BuildModelCandidates(model) {
		if cmd, ok := table[candidate]; ok {
			return domain.ResolvedCommand{
				Model:      model,
				MatchedKey: candidate,
				Command:    cmd,
				Source:     domain.CommandSourceModel,
			}
		}
	}

	return domain.ResolvedCommand{
		Model:   model,
		Command: defaultCommand(cfg, table),
		Source:  domain.CommandSourceDefault,
	}
}

// ManualCommand wraps an explicit caller supplied command.
func ManualCommand(model string, cmd domain.ActionCommand) (domain.ResolvedCommand, error) {
	valid, err := domain.ParseActionCommand(cmd)
	if err != nil {
		return domain.ResolvedCommand{}, err
	}
	return domain.ResolvedCommand{
		Model:   model,
		Command: valid,
		Source:  domain.CommandSourceManual,
	}, nil
}

func effectiveCommandTable(cfg domain.SpeakerConfig) map[string]domain.ActionCommand {
	table := maps.Clone(builtinTTSCommands)
	for model, cmd := range cfg.TTSFallbackCommands {
		key := NormalizeModel(model)
		if key == "" || !cmd.Valid() {
			continue
		}
		table[key] = cmd
	}
	return table
}

func defaultCommand(cfg domain.SpeakerConfig, table map[string]domain.ActionCommand) domain.ActionCommand {
	if cfg.TTSFallbackCommand != nil && cfg.TTSFallbackCommand.Valid() {
		return *cfg.TTSFallbackCommand
	}
	if cmd, ok := table[defaultCommandKey]; ok && cmd.Valid() {
		return cmd
	}
	return hardFallbackCommand
}
