package application

import (
	"context"
	"log/slog"
	"reflect"

	"xiaoi/internal/domain"
)

// CommandResult describes a completed command-path TTS call.
type CommandResult struct {
	OK      bool                 `json:"ok"`
	Model   string               `json:"model"`
	Command domain.ActionCommand `json:"command"`
	Source  domain.CommandSource `json:"source"`
}

// TTSDispatcher speaks text on the bound device through the command path
// (a vendor action resolved from the device model), the default path (the
// speaker's own TTS call) or both, depending on the configured mode.
type TTSDispatcher struct {
	vendor VendorClient
	conn   *ConnectionManager
	logger *slog.Logger
}

func NewTTSDispatcher(vendor VendorClient, conn *ConnectionManager, logger *slog.Logger) *TTSDispatcher {
	return &TTSDispatcher{
		vendor: vendor,
		conn:   conn,
		logger: logger,
	}
}

// Speak applies the active mode. In auto mode the command path is tried
// once, then the default path once.
func (d *TTSDispatcher) Speak(ctx context.Context, text string) error {
	cfg := d.conn.ActiveConfig()

	switch cfg.Mode() {
	case domain.TTSModeCommand:
		_, err := d.SpeakByCommand(ctx, text, nil)
		return err
	case domain.TTSModeDefault:
		return d.SpeakByDefault(ctx, text)
	}

	_, cmdErr := d.SpeakByCommand(ctx, text, nil)
	if cmdErr == nil {
		return nil
	}
	d.logf(cfg, "command path failed, falling back to default tts", "error", cmdErr)

	defErr := d.SpeakByDefault(ctx, text)
	if defErr == nil {
		return nil
	}
	return &domain.DualPathTTSError{CommandErr: cmdErr, DefaultErr: defErr}
}

// SpeakByCommand sends text as the argument of a vendor action. A non-nil
// manual command bypasses model resolution.
func (d *TTSDispatcher) SpeakByCommand(ctx context.Context, text string, manual *domain.ActionCommand) (CommandResult, error) {
	cfg := d.conn.ActiveConfig()
	model := d.vendor.BoundModel()

	var resolved domain.ResolvedCommand
	if manual != nil {
		var err error
		resolved, err = ManualCommand(model, *manual)
		if err != nil {
			return CommandResult{}, err
		}
	} else {
		resolved = ResolveTTSCommandForModel(model, cfg)
	}

	d.logf(cfg, "tts via command",
		"model", model,
		"command", resolved.Command.String(),
		"source", resolved.Source,
		"matched", resolved.MatchedKey,
	)

	res, err := d.vendor.DoAction(ctx, resolved.Command.ServiceID, resolved.Command.ActionID, text)
	if err := checkResult("tts command", res, err); err != nil {
		return CommandResult{}, err
	}

	return CommandResult{
		OK:      true,
		Model:   model,
		Command: resolved.Command,
		Source:  resolved.Source,
	}, nil
}

func (d *TTSDispatcher) SpeakByDefault(ctx context.Context, text string) error {
	d.logf(d.conn.ActiveConfig(), "tts via default path", "chars", len([]rune(text)))
	res, err := d.vendor.Speak(ctx, SpeakRequest{Text: text})
	return checkResult("tts default", res, err)
}

func (d *TTSDispatcher) logf(cfg domain.SpeakerConfig, msg string, args ...any) {
	if cfg.VerboseLog {
		d.logger.Info(msg, args...)
		return
	}
	d.logger.Debug(msg, args...)
}

// checkResult turns a transport error or a falsy vendor result into a
// VendorCallError.
func checkResult(op string, res any, err error) error {
	if err != nil {
		return &domain.VendorCallError{Op: op, Err: err}
	}
	if !truthy(res) {
		return &domain.VendorCallError{Op: op, Err: domain.ErrFalsyResult}
	}
	return nil
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return !rv.IsNil()
	default:
		return true
	}
}
