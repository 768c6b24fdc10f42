package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"xiaoi/config"
	"xiaoi/internal/application"
	"xiaoi/internal/domain"
	"xiaoi/internal/infra"
	"xiaoi/internal/infra/mi"
	"xiaoi/internal/infra/natsbus"
	"xiaoi/internal/infra/webhook"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"webhook"},
	Short:   "Run the webhook service",
	Long: paragraph(fmt.Sprintf("\n%s HTTP webhooks (and NATS subjects when enabled) and forward them to the speaker. The config file is watched and reloaded while running.",
		keyword("Accept"))),
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(appOptions{logFile: cfg.Webhook.LogFile, toStderr: true, metrics: true})
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger
	metrics := a.metrics

	created, err := a.cfg.EnsureWebhookToken()
	if err != nil {
		return err
	}
	if created {
		logger.Info("generated webhook token", "config", a.cfg.Path())
	}

	serverOpts := webhook.Options{
		Addr:               net.JoinHostPort(a.cfg.Webhook.Host, strconv.Itoa(a.cfg.Webhook.Port)),
		Token:              a.cfg.Webhook.Token,
		UserID:             a.cfg.Speaker.UserID,
		RateLimitPerMinute: a.cfg.Webhook.RateLimitPerMinute,
		IsAuthError:        mi.IsAuthError,
	}
	if metrics != nil {
		serverOpts.Metrics = metrics.Handler()
	}
	server := webhook.NewServer(a.speaker, serverOpts, logger)
	if err := server.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("%s listening on http://%s\n", keyword("xiaoi"), server.Addr())
	fmt.Printf("%s %s\n", hintStyle.Render("token:"), a.cfg.Webhook.Token)

	eng := &engine{
		speaker: a.speaker,
		server:  server,
		logger:  logger,
		reinit:  make(chan domain.SpeakerConfig, 1),
	}
	initial, err := a.speakerConfig("")
	if err != nil {
		// Keep serving so the file can be fixed; the watcher picks it up.
		logger.Error("invalid speaker config", "error", err)
		server.SetEngineState(err)
	} else {
		eng.reinit <- initial
	}

	var (
		conn *nats.Conn
		sub  *natsbus.Subscriber
	)
	if a.cfg.NATS.Enabled {
		conn, err = natsbus.Connect(a.cfg.NATS.URL, logger)
		if err != nil {
			_ = server.Stop()
			return err
		}
		sub = natsbus.NewSubscriber(conn, a.cfg.NATS.SubjectPrefix, a.speaker, logger)
		if err := sub.Start(); err != nil {
			conn.Close()
			_ = server.Stop()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		eng.run(gctx)
		return nil
	})

	g.Go(func() error {
		return watchConfig(gctx, a.cfg.Path(), logger, func() {
			eng.reload(a.cfg)
		})
	})

	if sub != nil {
		g.Go(func() error {
			<-gctx.Done()
			err := sub.Stop()
			conn.Close()
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		err := server.Stop()
		if metrics != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = errors.Join(err, metrics.Shutdown(shutdownCtx))
		}
		return err
	})

	return g.Wait()
}

// engine owns speaker initialization for the service: a warm-up that retries
// until the speaker binds, restarted whenever the account settings change.
type engine struct {
	speaker *application.Speaker
	server  *webhook.Server
	logger  *slog.Logger
	reinit  chan domain.SpeakerConfig
}

func (e *engine) run(ctx context.Context) {
	var (
		cancel context.CancelFunc = func() {}
		done   chan struct{}
	)
	defer func() {
		cancel()
		if done != nil {
			<-done
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sc := <-e.reinit:
			cancel()
			if done != nil {
				<-done
			}
			var attemptCtx context.Context
			attemptCtx, cancel = context.WithCancel(ctx)
			done = make(chan struct{})
			go func() {
				defer close(done)
				e.warmup(attemptCtx, sc)
			}()
		}
	}
}

func (e *engine) warmup(ctx context.Context, sc domain.SpeakerConfig) {
	retry := infra.WarmupRetryConfig()
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		e.logger.Warn("speaker initialization failed, retrying",
			"attempt", attempt, "retry_in", wait, "error", err)
	}

	err := infra.WithRetry(ctx, retry, func() error {
		err := e.speaker.Init(ctx, sc)
		e.server.SetEngineState(err)
		var cfgErr *domain.ConfigError
		if errors.As(err, &cfgErr) || errors.Is(err, domain.ErrMissingCredentials) {
			return infra.Permanent(err)
		}
		return err
	})
	switch {
	case err == nil:
		st := e.speaker.Status()
		e.logger.Info("speaker ready", "did", st.BoundDID, "model", st.Model)
	case errors.Is(err, context.Canceled):
	default:
		e.logger.Error("speaker initialization stopped", "error", err)
	}
}

// reload re-reads the config file and applies it to the running service.
// Settings that need a new binding restart the warm-up; the rest are
// applied in place.
func (e *engine) reload(prev *config.Config) {
	next, err := config.Load(prev.Path())
	if err != nil {
		e.logger.Error("reloading config", "error", err)
		return
	}

	if next.Webhook.Token == "" {
		next.Webhook.Token = prev.Webhook.Token
	}
	e.server.SetToken(next.Webhook.Token)
	e.server.SetUserID(next.Speaker.UserID)

	if err := e.speaker.SetTTSMode(next.Speaker.TTSMode); err != nil {
		e.logger.Error("applying tts mode", "error", err)
	}
	e.speaker.SetDetailedLogEnabled(next.Speaker.VerboseLog || verbose)
	if len(next.Speaker.TTSFallbackCommand) > 0 {
		if err := e.speaker.SetTTSFallbackCommand(next.Speaker.TTSFallbackCommand); err != nil {
			e.logger.Error("applying tts fallback command", "error", err)
		}
	}
	for model, cmd := range next.Speaker.TTSFallbackCommands {
		if err := e.speaker.SetTTSFallbackCommandForModel(model, cmd); err != nil {
			e.logger.Error("applying tts fallback command", "model", model, "error", err)
		}
	}

	old := prev.Speaker
	*prev = *next
	e.logger.Info("config reloaded", "path", next.Path())

	if accountChanged(old, next.Speaker) || !e.speaker.Status().Ready {
		sc, err := next.ToSpeakerConfig()
		if err != nil {
			e.logger.Error("invalid speaker config", "error", err)
			e.server.SetEngineState(err)
			return
		}
		if verbose {
			sc = sc.WithVerboseLog(true)
		}
		e.logger.Info("reinitializing speaker")
		select {
		case e.reinit <- sc:
		default:
			// A pending request is replaced by the newer settings.
			select {
			case <-e.reinit:
			default:
			}
			e.reinit <- sc
		}
	}
}

func accountChanged(a, b config.SpeakerConfig) bool {
	return a.UserID != b.UserID || a.Password != b.Password ||
		a.PassToken != b.PassToken || a.DID != b.DID
}
