package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"xiaoi/internal/domain"
)

const ServerName = "xiaoi-voice-notify"

// Speaker is the part of the core exposed as tools.
type Speaker interface {
	TTS(ctx context.Context, text, did string) error
	PlayAudio(ctx context.Context, url, did string) (any, error)
	SetVolume(ctx context.Context, volume int, did string) (any, error)
	ListDevices(ctx context.Context, cfg domain.SpeakerConfig) ([]domain.Device, error)
}

type NotifyParams struct {
	Message string `json:"message" jsonschema:"the text the speaker should read aloud"`
}

type PlayAudioParams struct {
	URL string `json:"url" jsonschema:"an http(s) URL of an audio file the speaker can fetch"`
}

type SetVolumeParams struct {
	Volume int `json:"volume" jsonschema:"volume level from 0 to 100"`
}

type ListDevicesParams struct{}

// NewServer registers the speaker tools on a fresh MCP server.
func NewServer(speaker Speaker, version string, logger *slog.Logger) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Title:   "Xiaomi speaker notifications",
		Version: version,
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "notify",
		Title:       "Speak a notification",
		Description: "Reads a message aloud on the configured Xiaomi smart speaker",
		Annotations: &mcp.ToolAnnotations{
			Title:          "Speak on speaker",
			ReadOnlyHint:   false,
			IdempotentHint: false,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in NotifyParams) (*mcp.CallToolResult, any, error) {
		if err := speaker.TTS(ctx, in.Message, ""); err != nil {
			return failure(logger, "notify", err), nil, nil
		}
		return text(fmt.Sprintf("Spoken: %s", in.Message)), nil, nil
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "play_audio",
		Title:       "Play audio",
		Description: "Plays an audio URL on the configured Xiaomi smart speaker",
		Annotations: &mcp.ToolAnnotations{
			Title:        "Play audio on speaker",
			ReadOnlyHint: false,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in PlayAudioParams) (*mcp.CallToolResult, any, error) {
		if _, err := speaker.PlayAudio(ctx, in.URL, ""); err != nil {
			return failure(logger, "play_audio", err), nil, nil
		}
		return text(fmt.Sprintf("Playing: %s", in.URL)), nil, nil
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "set_volume",
		Title:       "Set volume",
		Description: "Sets the speaker volume (0-100)",
		Annotations: &mcp.ToolAnnotations{
			Title:          "Set speaker volume",
			ReadOnlyHint:   false,
			IdempotentHint: true,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in SetVolumeParams) (*mcp.CallToolResult, any, error) {
		if _, err := speaker.SetVolume(ctx, in.Volume, ""); err != nil {
			return failure(logger, "set_volume", err), nil, nil
		}
		return text(fmt.Sprintf("Volume set to %d", in.Volume)), nil, nil
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_devices",
		Title:       "List speakers",
		Description: "Lists the Xiaomi speakers on the configured account",
		Annotations: &mcp.ToolAnnotations{
			Title:        "List speakers",
			ReadOnlyHint: true,
		},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ ListDevicesParams) (*mcp.CallToolResult, any, error) {
		devices, err := speaker.ListDevices(ctx, domain.SpeakerConfig{})
		if err != nil {
			return failure(logger, "list_devices", err), nil, nil
		}
		data, err := json.MarshalIndent(devices, "", "  ")
		if err != nil {
			return failure(logger, "list_devices", err), nil, nil
		}
		return text(string(data)), nil, nil
	})

	return s
}

func text(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: msg}}}
}

func failure(logger *slog.Logger, tool string, err error) *mcp.CallToolResult {
	logger.Warn("tool call failed", "tool", tool, "error", err)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: %v", err)}},
		IsError: true,
	}
}
