package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"xiaoi/internal/domain"
)

// Speaker is the public surface of the speaker control core. Mutating
// operations are serialized through one OperationQueue and each takes an
// optional target DID; an empty DID means the configured device.
type Speaker struct {
	vendor   VendorClient
	queue    *OperationQueue
	conn     *ConnectionManager
	tts      *TTSDispatcher
	catalog  *Catalog
	observer OperationObserver
	logger   *slog.Logger
}

func NewSpeaker(
	vendor VendorClient,
	opener CatalogOpener,
	cacheDir string,
	observer OperationObserver,
	logger *slog.Logger,
) *Speaker {
	if observer == nil {
		observer = &NoopObserver{}
	}
	conn := NewConnectionManager(vendor, cacheDir, logger)
	return &Speaker{
		vendor:   vendor,
		queue:    NewOperationQueue(),
		conn:     conn,
		tts:      NewTTSDispatcher(vendor, conn, logger),
		catalog:  NewCatalog(opener, logger),
		observer: observer,
		logger:   logger,
	}
}

type Status struct {
	State      ConnectionState `json:"-"`
	StateName  string          `json:"state"`
	Ready      bool            `json:"ready"`
	BoundDID   string          `json:"did,omitempty"`
	Model      string          `json:"model,omitempty"`
	TTSMode    domain.TTSMode  `json:"tts_mode"`
	VerboseLog bool            `json:"verbose_log"`
}

func (s *Speaker) Status() Status {
	state := s.conn.State()
	cfg := s.conn.ActiveConfig()
	st := Status{
		State:      state,
		StateName:  state.String(),
		Ready:      state == StateReady,
		BoundDID:   s.conn.BoundDID(),
		TTSMode:    cfg.Mode(),
		VerboseLog: cfg.VerboseLog,
	}
	if st.Ready {
		st.Model = s.vendor.BoundModel()
	}
	return st
}

func (s *Speaker) Config() domain.SpeakerConfig {
	return s.conn.ActiveConfig()
}

func (s *Speaker) Init(ctx context.Context, cfg domain.SpeakerConfig) error {
	return s.observe(ctx, "init", func() error {
		return s.queue.Do(ctx, func(ctx context.Context) error {
			return s.conn.Init(ctx, cfg)
		})
	})
}

func (s *Speaker) TTS(ctx context.Context, text, did string) error {
	if err := validateText(text); err != nil {
		return err
	}
	return s.run(ctx, "tts", did, func(ctx context.Context) error {
		return s.tts.Speak(ctx, text)
	})
}

// TTSByCommand forces the command path. A nil manual command resolves the
// action from the bound device model.
func (s *Speaker) TTSByCommand(ctx context.Context, text, did string, manual *domain.ActionCommand) (CommandResult, error) {
	if err := validateText(text); err != nil {
		return CommandResult{}, err
	}
	if manual != nil {
		if _, err := domain.ParseActionCommand(*manual); err != nil {
			return CommandResult{}, err
		}
	}

	var result CommandResult
	err := s.run(ctx, "tts_command", did, func(ctx context.Context) error {
		var err error
		result, err = s.tts.SpeakByCommand(ctx, text, manual)
		return err
	})
	if err != nil {
		return CommandResult{}, err
	}
	return result, nil
}

func (s *Speaker) TTSByDefault(ctx context.Context, text, did string) error {
	if err := validateText(text); err != nil {
		return err
	}
	return s.run(ctx, "tts_default", did, func(ctx context.Context) error {
		return s.tts.SpeakByDefault(ctx, text)
	})
}

func (s *Speaker) PlayAudio(ctx context.Context, url, did string) (any, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, domain.ErrEmptyURL
	}

	var result any
	err := s.run(ctx, "play_audio", did, func(ctx context.Context) error {
		res, err := s.vendor.Speak(ctx, SpeakRequest{URL: url})
		if err := checkResult("play audio", res, err); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Speaker) SetVolume(ctx context.Context, volume int, did string) (any, error) {
	if volume < 0 || volume > 100 {
		return nil, domain.ErrInvalidVolume
	}

	var result any
	err := s.run(ctx, "set_volume", did, func(ctx context.Context) error {
		res, err := s.vendor.SetVolume(ctx, volume)
		if err := checkResult("set volume", res, err); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Speaker) DoAction(ctx context.Context, siid, aiid int, params any, did string) (any, error) {
	if _, err := domain.NewActionCommand(siid, aiid); err != nil {
		return nil, err
	}

	var result any
	err := s.run(ctx, "do_action", did, func(ctx context.Context) error {
		res, err := s.vendor.DoAction(ctx, siid, aiid, params)
		if err := checkResult("do action", res, err); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetProperty returns the raw property value; zero values are legitimate.
func (s *Speaker) GetProperty(ctx context.Context, siid, piid int, did string) (any, error) {
	if siid < 0 || piid < 0 {
		return nil, &domain.CommandFormatError{Value: []int{siid, piid}}
	}

	var result any
	err := s.run(ctx, "get_property", did, func(ctx context.Context) error {
		res, err := s.vendor.GetProperty(ctx, siid, piid)
		if err != nil {
			return &domain.VendorCallError{Op: "get property", Err: err}
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListDevices bypasses the queue and the bound session. cfg is merged over
// the current base config.
func (s *Speaker) ListDevices(ctx context.Context, cfg domain.SpeakerConfig) ([]domain.Device, error) {
	var devices []domain.Device
	err := s.observe(ctx, "list_devices", func() error {
		var err error
		devices, err = s.catalog.List(ctx, s.conn.BaseConfig().Merge(cfg))
		return err
	})
	return devices, err
}

func (s *Speaker) SetTTSMode(mode string) error {
	parsed, err := domain.ParseTTSMode(mode)
	if err != nil {
		return err
	}
	s.conn.Update(func(c domain.SpeakerConfig) domain.SpeakerConfig {
		return c.WithTTSMode(parsed)
	})
	s.logger.Info("tts mode updated", "mode", parsed)
	return nil
}

func (s *Speaker) SetDetailedLogEnabled(enabled bool) {
	s.conn.Update(func(c domain.SpeakerConfig) domain.SpeakerConfig {
		return c.WithVerboseLog(enabled)
	})
}

// SetTTSFallbackCommand accepts any shape domain.ParseActionCommand does.
func (s *Speaker) SetTTSFallbackCommand(command any) error {
	cmd, err := domain.ParseActionCommand(command)
	if err != nil {
		return err
	}
	s.conn.Update(func(c domain.SpeakerConfig) domain.SpeakerConfig {
		return c.WithTTSFallbackCommand(cmd)
	})
	return nil
}

func (s *Speaker) SetTTSFallbackCommandForModel(model string, command any) error {
	key := NormalizeModel(model)
	if key == "" {
		return &domain.ConfigError{Field: "model", Reason: "must not be empty"}
	}
	cmd, err := domain.ParseActionCommand(command)
	if err != nil {
		return err
	}
	s.conn.Update(func(c domain.SpeakerConfig) domain.SpeakerConfig {
		return c.WithTTSFallbackCommandForModel(key, cmd)
	})
	return nil
}

func (s *Speaker) run(ctx context.Context, op, did string, fn func(context.Context) error) error {
	return s.observe(ctx, op, func() error {
		return s.queue.Do(ctx, func(ctx context.Context) error {
			if err := s.conn.EnsureReadyForDID(ctx, strings.TrimSpace(did)); err != nil {
				return err
			}
			return fn(ctx)
		})
	})
}

func (s *Speaker) observe(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	s.observer.ObserveOperation(ctx, op, elapsed, err)
	if err != nil {
		s.logger.Warn("speaker operation failed", "op", op, "elapsed", elapsed, "error", err)
	}
	return err
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyText
	}
	return nil
}

