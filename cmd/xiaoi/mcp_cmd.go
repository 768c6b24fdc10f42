package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/caarlos0/ctrlc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"xiaoi/internal/infra/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	Long: paragraph(fmt.Sprintf("\n%s speaker tools (notify, play_audio, set_volume, list_devices) to AI agents over the Model Context Protocol. Logs go to the MCP log file only, never to stdout.",
		keyword("Expose"))),
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(appOptions{logFile: cfg.MCP.LogFile})
		if err != nil {
			return err
		}
		defer a.close()
		logger := a.logger

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Tools bind lazily, so a failed start-up binding is not fatal.
		if err := a.init(ctx, ""); err != nil {
			logger.Warn("speaker not ready, will retry on first tool call", "error", err)
		}

		s := mcpserver.NewServer(a.speaker, Version, logger)
		logger.Info("starting MCP server", "name", mcpserver.ServerName, "version", Version)

		if err := ctrlc.Default.Run(ctx, func() error {
			if err := s.Run(ctx, &mcp.StdioTransport{}); err != nil {
				return fmt.Errorf("serving MCP: %w", err)
			}
			return nil
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				logger.Info("exiting")
				return nil
			}
			return err
		}
		return nil
	},
}
