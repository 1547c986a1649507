package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultModel is probed when no model is given on the command line.
const DefaultModel = "moonshotai.kimi-k2.5"

// DefaultRegion is used when neither config nor environment name one.
const DefaultRegion = "us-east-1"

// Config is the top-level application configuration.
type Config struct {
	Bedrock BedrockConfig `yaml:"bedrock"`
	Probe   ProbeConfig   `yaml:"probe"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// BedrockConfig holds inference endpoint settings.
type BedrockConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile,omitempty"` // shared config profile; empty = default chain
}

// ProbeConfig holds trial settings.
type ProbeConfig struct {
	Model             string         `yaml:"model"`
	Models            []string       `yaml:"models"` // models for the format matrix
	ToolIDFormats     []ToolIDFormat `yaml:"tool_id_formats"`
	Trials            int            `yaml:"trials"`
	Delay             time.Duration  `yaml:"delay"`
	Timeout           time.Duration  `yaml:"timeout"`
	MaxTokens         int            `yaml:"max_tokens"`
	RateLimitPerMin   float64        `yaml:"rate_limit_per_minute"` // 0 = unlimited
	ExcerptChars      int            `yaml:"excerpt_chars"`
	ErrorExcerptChars int            `yaml:"error_excerpt_chars"`
	Output            OutputConfig   `yaml:"output"`
}

// ToolIDFormat names a tool-call identifier used to probe format sensitivity.
type ToolIDFormat struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	Color bool `yaml:"color"`
	ASCII bool `yaml:"ascii"`
	JSON  bool `yaml:"json"`
	Raw   bool `yaml:"raw"` // dump every stream event
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stderr", "stdout", or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// DefaultToolIDFormats are the identifier shapes known to trip up some
// model families after a tool result.
func DefaultToolIDFormats() []ToolIDFormat {
	return []ToolIDFormat{
		{ID: "tooluse_Vs4mS4NvbGY6Drf2RqzSNy", Name: "Bedrock native format"},
		{ID: "abc123xyz", Name: "9-char alphanumeric (Mistral format)"},
		{ID: "call_12345678", Name: "OpenAI format"},
		{ID: "tool-001", Name: "Simple hyphenated"},
	}
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Bedrock: BedrockConfig{
			Region: DefaultRegion,
		},
		Probe: ProbeConfig{
			Model: DefaultModel,
			Models: []string{
				"moonshotai.kimi-k2.5",
				"mistral.mistral-large-3-675b-instruct",
			},
			ToolIDFormats:     DefaultToolIDFormats(),
			Trials:            10,
			Delay:             500 * time.Millisecond,
			Timeout:           15 * time.Second,
			MaxTokens:         100,
			ExcerptChars:      50,
			ErrorExcerptChars: 80,
		},
		Logger: LoggerConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps STREAMPROBE_* and AWS region env vars to config
// fields. AWS_REGION wins over BEDROCK_REGION.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BEDROCK_REGION"); v != "" {
		cfg.Bedrock.Region = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Bedrock.Region = v
	}
	if v := os.Getenv("STREAMPROBE_AWS_PROFILE"); v != "" {
		cfg.Bedrock.Profile = v
	}
	if v := os.Getenv("STREAMPROBE_MODEL"); v != "" {
		cfg.Probe.Model = v
	}
	if v := os.Getenv("STREAMPROBE_TRIALS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Probe.Trials = n
		}
	}
	if v := os.Getenv("STREAMPROBE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Probe.Delay = d
		}
	}
	if v := os.Getenv("STREAMPROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Probe.Timeout = d
		}
	}
	if v := os.Getenv("STREAMPROBE_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Probe.MaxTokens = n
		}
	}
	if v := os.Getenv("STREAMPROBE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Probe.RateLimitPerMin = f
		}
	}
	if v := os.Getenv("STREAMPROBE_ASCII_SYMBOLS"); v == "1" || v == "true" {
		cfg.Probe.Output.ASCII = true
	}
	if v := os.Getenv("STREAMPROBE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("STREAMPROBE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("STREAMPROBE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("STREAMPROBE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}
