package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"xiaoi/internal/domain"
)

const envPrefix = "XIAOI_"

type Config struct {
	Speaker   SpeakerConfig   `yaml:"speaker"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	MCP       MCPConfig       `yaml:"mcp"`
	NATS      NATSConfig      `yaml:"nats"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	CacheDir  string          `yaml:"cache_dir,omitempty" env:"CACHE_DIR"`

	path string
	// edits holds the values changed through Set since the last Save.
	edits map[string]any
}

type SpeakerConfig struct {
	UserID     string `yaml:"user_id" env:"USER_ID"`
	Password   string `yaml:"password" env:"PASSWORD"`
	PassToken  string `yaml:"pass_token" env:"PASS_TOKEN"`
	DID        string `yaml:"did" env:"DID"`
	TTSMode    string `yaml:"tts_mode" env:"TTS_MODE"`
	VerboseLog bool   `yaml:"verbose_log" env:"VERBOSE_LOG"`

	// [siid, aiid] pairs; kept loosely typed so malformed entries surface as
	// command format errors instead of YAML decode failures.
	TTSFallbackCommand  []any            `yaml:"tts_fallback_command,omitempty"`
	TTSFallbackCommands map[string][]any `yaml:"tts_fallback_commands,omitempty"`
}

type WebhookConfig struct {
	Host               string `yaml:"host" env:"WEBHOOK_HOST"`
	Port               int    `yaml:"port" env:"WEBHOOK_PORT"`
	Token              string `yaml:"token" env:"WEBHOOK_TOKEN"`
	LogFile            string `yaml:"log_file" env:"WEBHOOK_LOG_FILE"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type MCPConfig struct {
	LogFile string `yaml:"log_file" env:"MCP_LOG_FILE"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" env:"NATS_ENABLED"`
	URL           string `yaml:"url" env:"NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type TelemetryConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Load reads the YAML config at path (the default location when empty),
// expands ${VAR} references, overlays XIAOI_* environment variables and
// fills defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()

	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns defaults when the file does
// not exist yet.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if path == "" {
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg = &Config{path: path}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Speaker.TTSMode == "" {
		c.Speaker.TTSMode = string(domain.TTSModeAuto)
	}
	if c.Webhook.Host == "" {
		c.Webhook.Host = "localhost"
	}
	if c.Webhook.Port == 0 {
		c.Webhook.Port = 3088
	}
	if c.Webhook.LogFile == "" {
		c.Webhook.LogFile = "webhook.log"
	}
	if c.Webhook.RateLimitPerMinute == 0 {
		c.Webhook.RateLimitPerMinute = 60
	}
	if c.MCP.LogFile == "" {
		c.MCP.LogFile = "mcp.log"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "xiaoi"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.CacheDir == "" && c.path != "" {
		c.CacheDir = filepath.Dir(c.path)
	}
}

func (c *Config) Path() string {
	return c.path
}

// Resolve turns a path relative to the config directory into an absolute
// one.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(c.path), p)
}

func (c *Config) Configured() bool {
	return c.Speaker.UserID != "" && (c.Speaker.Password != "" || c.Speaker.PassToken != "")
}

// ToSpeakerConfig converts the file representation into the core's config
// value, validating every command entry.
func (c *Config) ToSpeakerConfig() (domain.SpeakerConfig, error) {
	mode, err := domain.ParseTTSMode(c.Speaker.TTSMode)
	if err != nil {
		return domain.SpeakerConfig{}, err
	}

	out := domain.SpeakerConfig{
		UserID:     c.Speaker.UserID,
		Password:   c.Speaker.Password,
		PassToken:  c.Speaker.PassToken,
		DID:        c.Speaker.DID,
		TTSMode:    mode,
		VerboseLog: c.Speaker.VerboseLog,
	}

	if len(c.Speaker.TTSFallbackCommand) > 0 {
		cmd, err := domain.ParseActionCommand(c.Speaker.TTSFallbackCommand)
		if err != nil {
			return domain.SpeakerConfig{}, fmt.Errorf("speaker.tts_fallback_command: %w", err)
		}
		out = out.WithTTSFallbackCommand(cmd)
	}

	for model, raw := range c.Speaker.TTSFallbackCommands {
		cmd, err := domain.ParseActionCommand(raw)
		if err != nil {
			return domain.SpeakerConfig{}, fmt.Errorf("speaker.tts_fallback_commands[%s]: %w", model, err)
		}
		out = out.WithTTSFallbackCommandForModel(model, cmd)
	}

	return out, nil
}

// Save writes the settings changed through Set back to the config file.
// Only those keys are touched: the rest of the file, including comments,
// ${VAR} references and unset defaults, is kept as written, and values that
// came from the environment are never persisted.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no file path")
	}

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		data = []byte(defaultConfig)
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if doc.Kind == 0 {
		if err := yaml.Unmarshal([]byte(defaultConfig), &doc); err != nil {
			return fmt.Errorf("parsing default config: %w", err)
		}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return errors.New("config file is not a YAML mapping")
	}
	root := doc.Content[0]

	for key, value := range c.edits {
		section, field, _ := strings.Cut(key, ".")
		if err := setNode(mappingFor(root, section), field, value); err != nil {
			return fmt.Errorf("updating %s: %w", key, err)
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(c.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	c.edits = nil
	return nil
}

// mappingFor returns the mapping stored under key, adding it when missing.
func mappingFor(root *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			v := root.Content[i+1]
			if v.Kind != yaml.MappingNode {
				*v = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", LineComment: v.LineComment}
			}
			return v
		}
	}
	v := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
	return v
}

// setNode stores value under key in mapping m. A nil value removes the key.
func setNode(m *yaml.Node, key string, value any) error {
	idx := -1
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			idx = i
			break
		}
	}

	if value == nil {
		if idx >= 0 {
			m.Content = append(m.Content[:idx], m.Content[idx+2:]...)
		}
		return nil
	}

	var v yaml.Node
	if err := v.Encode(value); err != nil {
		return err
	}
	if v.Kind == yaml.SequenceNode {
		v.Style = yaml.FlowStyle
	}
	if idx < 0 {
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, &v)
		return nil
	}
	v.LineComment = m.Content[idx+1].LineComment
	m.Content[idx+1] = &v
	return nil
}
