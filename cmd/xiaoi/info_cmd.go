package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"xiaoi/config"
	"xiaoi/internal/infra/mi"
	"xiaoi/internal/tui"
)

var (
	devicesJSON bool

	devicesCmd = &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls"},
		Short:   "List the speakers on the account",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(appOptions{toStderr: verbose})
			if err != nil {
				return err
			}
			defer a.close()

			sc, err := a.speakerConfig("")
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			devices, err := a.speaker.ListDevices(ctx, sc)
			if err != nil {
				return err
			}

			if devicesJSON {
				return printJSON(devices)
			}
			width, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil {
				width = 0
			}
			fmt.Println(tui.DeviceTable(devices, width))
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the configuration and session in use",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			row := func(label, value string) {
				fmt.Printf("%-12s %s\n", hintStyle.Render(label), value)
			}

			row("config", cfg.Path())
			if cfg.Configured() {
				row("account", config.Mask(cfg.Speaker.UserID))
			} else {
				row("account", errStyle.Render("not configured"))
			}
			did := cfg.Speaker.DID
			if did == "" {
				did = "(first speaker)"
			}
			row("speaker", did)
			row("tts mode", cfg.Speaker.TTSMode)
			row("cache dir", cfg.CacheDir)

			session := filepath.Join(cfg.CacheDir, mi.SessionFile)
			if info, err := os.Stat(session); err == nil {
				row("session", fmt.Sprintf("%s (updated %s)", session, humanize.Time(info.ModTime())))
			} else {
				row("session", errStyle.Render("missing, sign in first"))
			}

			row("webhook", "http://"+net.JoinHostPort(cfg.Webhook.Host, strconv.Itoa(cfg.Webhook.Port)))
			if cfg.NATS.Enabled {
				row("nats", cfg.NATS.URL+" ("+cfg.NATS.SubjectPrefix+".*)")
			}
			return nil
		},
	}
)

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "print devices as JSON")
}
