// Package main provides the xiaoi command line: one-shot speaker commands,
// the webhook service, the MCP server and an interactive menu.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"xiaoi/config"
	"xiaoi/internal/application"
	"xiaoi/internal/domain"
	"xiaoi/internal/infra/mi"
	"xiaoi/internal/infra/telemetry"
	"xiaoi/internal/tui"
)

var (
	// Version is set at build time.
	Version = ""

	configFile string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "xiaoi",
		Short: "Send notifications to Xiaomi smart speakers",
		Long: paragraph(fmt.Sprintf("\n%s text, audio and volume changes to a Xiaomi smart speaker from scripts, webhooks, NATS or AI agents.",
			keyword("Send"))),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE:          runMenu,
	}
)

var (
	keywordStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("204")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"})
)

func keyword(s string) string {
	return keywordStyle.Render(s)
}

func paragraph(s string) string {
	return lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render(s)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("✗ "+err.Error()))
		if needsLogin(err) {
			fmt.Fprintln(os.Stderr, hintStyle.Render(fmt.Sprintf(
				"Sign in with the Mi account tooling so %s exists in the config directory; see %s",
				mi.SessionFile, mi.LoginHelpURL)))
		}
		os.Exit(1)
	}
}

// needsLogin reports whether the failure is best fixed by signing in again.
func needsLogin(err error) bool {
	if mi.IsAuthError(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"login", "auth", "token", "401"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func init() {
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $XIAOI_HOME/config.yaml or ~/.xiaoi/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and detailed speaker logs")

	rootCmd.AddCommand(
		ttsCmd, audioCmd, volumeCmd, actionCmd, propCmd,
		devicesCmd, statusCmd,
		serveCmd, mcpCmd,
		configCmd, manCmd,
	)
}

// app bundles what every command needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	speaker  *application.Speaker
	metrics  *telemetry.Metrics
	closeLog func() error
}

type appOptions struct {
	logFile  string
	toStderr bool
	// metrics turns on operation metrics when the config enables them.
	metrics bool
}

func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return config.LoadOrDefault(path)
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := setupLogger(cfg.Log, verbose, cfg.Resolve(opts.logFile), opts.toStderr)
	if err != nil {
		return nil, err
	}

	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
			closeLog()
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	var (
		metrics  *telemetry.Metrics
		observer application.OperationObserver
	)
	if opts.metrics && cfg.Telemetry.MetricsEnabled {
		metrics, err = telemetry.New(context.Background(), Version, logger)
		if err != nil {
			closeLog()
			return nil, err
		}
		observer = metrics
	}

	// The session file is read from the working directory, which the core
	// points at the cache directory while binding.
	vendor := mi.NewClient("")
	opener := mi.NewOpener(cfg.CacheDir)
	speaker := application.NewSpeaker(vendor, opener, cfg.CacheDir, observer, logger)

	return &app{cfg: cfg, logger: logger, speaker: speaker, metrics: metrics, closeLog: closeLog}, nil
}

func (a *app) close() {
	_ = a.closeLog()
}

// speakerConfig returns the file config with the global --verbose flag and
// an optional device override applied.
func (a *app) speakerConfig(did string) (domain.SpeakerConfig, error) {
	sc, err := a.cfg.ToSpeakerConfig()
	if err != nil {
		return domain.SpeakerConfig{}, err
	}
	if verbose {
		sc = sc.WithVerboseLog(true)
	}
	if did != "" {
		sc = sc.WithDID(did)
	}
	return sc, nil
}

func (a *app) init(ctx context.Context, did string) error {
	sc, err := a.speakerConfig(did)
	if err != nil {
		return err
	}
	return a.speaker.Init(ctx, sc)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runMenu(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return cmd.Help()
	}

	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := tui.Run(ctx, tui.New(a.speaker, a.cfg, a.logger)); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func success(format string, args ...any) {
	fmt.Println(okStyle.Render("✓ " + fmt.Sprintf(format, args...)))
}
