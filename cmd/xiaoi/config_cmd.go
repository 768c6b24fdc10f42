package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"xiaoi/config"
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the xiaoi config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	configPathCmd = &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Println(cfg.Path())
			return nil
		},
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}

	configEditCmd = &cobra.Command{
		Use:   "edit",
		Short: "Edit the config file",
		Long: paragraph(fmt.Sprintf("\n%s the xiaoi config file. EDITOR determines which editor to use. If the config file doesn't exist, it will be created.",
			keyword("Edit"))),
		Example: paragraph("xiaoi config edit\nxiaoi config edit --config path/to/config.yaml"),
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			path, err := config.EnsureExists(configFile)
			if err != nil {
				return err
			}

			c, err := editor.Cmd("Xiaoi", path)
			if err != nil {
				return fmt.Errorf("unable to set config file: %w", err)
			}
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			if err := c.Run(); err != nil {
				return fmt.Errorf("unable to run command: %w", err)
			}

			if _, err := config.Load(path); err != nil {
				return fmt.Errorf("config saved but not valid: %w", err)
			}
			success("Wrote config file to %s", path)
			return nil
		},
	}

	configSetCmd = &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change one setting",
		Long:    paragraph("\nSupported keys:\n  " + strings.Join(config.Keys, "\n  ")),
		Example: paragraph("xiaoi config set speaker.did Bedroom\nxiaoi config set speaker.tts_fallback_command 5,3"),
		Args:    cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			path, err := config.EnsureExists(configFile)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			success("Set %s", args[0])
			return nil
		},
	}
)

func init() {
	configCmd.AddCommand(configPathCmd, configShowCmd, configEditCmd, configSetCmd)
}
