package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"xiaoi/internal/domain"
)

var (
	ttsMode    string
	ttsCommand string
	targetDID  string

	ttsCmd = &cobra.Command{
		Use:   "tts <text>...",
		Short: "Speak text on the speaker",
		Long: paragraph(fmt.Sprintf("\n%s the text with the speaker. In auto mode the device action is tried first and the speaker's default engine is used when it fails.",
			keyword("Speak"))),
		Example: paragraph("xiaoi tts \"Dinner is ready\"\nxiaoi tts --mode command --command 5,3 hello\nxiaoi tts --did Bedroom good night"),
		Args:    cobra.MinimumNArgs(1),
		RunE:    runTTS,
	}

	audioCmd = &cobra.Command{
		Use:   "audio <url>",
		Short: "Play an audio URL on the speaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withSpeaker(func(ctx context.Context, a *app) error {
				if _, err := a.speaker.PlayAudio(ctx, args[0], ""); err != nil {
					return err
				}
				success("Playing %s", args[0])
				return nil
			})
		},
	}

	volumeCmd = &cobra.Command{
		Use:   "volume <0-100>",
		Short: "Set the speaker volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			volume, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return domain.ErrInvalidVolume
			}
			return withSpeaker(func(ctx context.Context, a *app) error {
				if _, err := a.speaker.SetVolume(ctx, volume, ""); err != nil {
					return err
				}
				success("Volume set to %d", volume)
				return nil
			})
		},
	}

	actionCmd = &cobra.Command{
		Use:     "action <siid> <aiid> [json-params]",
		Short:   "Run a device spec action",
		Example: paragraph("xiaoi action 5 1 '[\"hello\"]'\nxiaoi action 5 4"),
		Args:    cobra.RangeArgs(2, 3),
		RunE: func(_ *cobra.Command, args []string) error {
			siid, aiid, err := parsePair(args[0], args[1])
			if err != nil {
				return err
			}
			var params any
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &params); err != nil {
					return fmt.Errorf("parsing params as JSON: %w", err)
				}
			}
			return withSpeaker(func(ctx context.Context, a *app) error {
				res, err := a.speaker.DoAction(ctx, siid, aiid, params, "")
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}

	propCmd = &cobra.Command{
		Use:   "prop <siid> <piid>",
		Short: "Read a device spec property",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			siid, piid, err := parsePair(args[0], args[1])
			if err != nil {
				return err
			}
			return withSpeaker(func(ctx context.Context, a *app) error {
				res, err := a.speaker.GetProperty(ctx, siid, piid, "")
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
)

func init() {
	ttsCmd.Flags().StringVarP(&ttsMode, "mode", "m", "", "tts path: auto, command or default (default from config)")
	ttsCmd.Flags().StringVarP(&ttsCommand, "command", "c", "", "device action to speak with, as siid,aiid (implies --mode command)")
	for _, c := range []*cobra.Command{ttsCmd, audioCmd, volumeCmd, actionCmd, propCmd} {
		c.Flags().StringVarP(&targetDID, "did", "d", "", "speaker name or DID (default from config)")
	}
}

func runTTS(_ *cobra.Command, args []string) error {
	text := strings.Join(args, " ")

	var manual *domain.ActionCommand
	if ttsCommand != "" {
		parsed, err := domain.ParseActionCommandString(ttsCommand)
		if err != nil {
			return err
		}
		manual = &parsed
	}

	mode := domain.TTSMode("")
	if ttsMode != "" {
		parsed, err := domain.ParseTTSMode(ttsMode)
		if err != nil {
			return err
		}
		mode = parsed
	}
	if manual != nil {
		mode = domain.TTSModeCommand
	}

	return withSpeaker(func(ctx context.Context, a *app) error {
		switch mode {
		case domain.TTSModeCommand:
			res, err := a.speaker.TTSByCommand(ctx, text, "", manual)
			if err != nil {
				return err
			}
			success("Spoken via %s command %s (%s)", res.Source, res.Command, res.Model)
		case domain.TTSModeDefault:
			if err := a.speaker.TTSByDefault(ctx, text, ""); err != nil {
				return err
			}
			success("Spoken")
		default:
			if mode != "" {
				if err := a.speaker.SetTTSMode(string(mode)); err != nil {
					return err
				}
			}
			if err := a.speaker.TTS(ctx, text, ""); err != nil {
				return err
			}
			success("Spoken")
		}
		return nil
	})
}

// withSpeaker loads the config, binds the speaker named by --did and runs fn.
func withSpeaker(fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(appOptions{toStderr: verbose})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()
	if err := a.init(ctx, targetDID); err != nil {
		return err
	}
	return fn(ctx, a)
}

func parsePair(a, b string) (int, int, error) {
	cmd, err := domain.ParseActionCommandString(a + "," + b)
	if err != nil {
		return 0, 0, err
	}
	return cmd.ServiceID, cmd.ActionID, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
