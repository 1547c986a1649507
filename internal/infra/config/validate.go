package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateBedrock(cfg, ve)
	validateProbe(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateBedrock(cfg *Config, ve *ValidationError) {
	if cfg.Bedrock.Region == "" {
		ve.Add("bedrock.region must not be empty (set AWS_REGION or BEDROCK_REGION)")
	}
}

func validateProbe(cfg *Config, ve *ValidationError) {
	p := cfg.Probe
	if p.Model == "" {
		ve.Add("probe.model must not be empty")
	}
	if p.Trials <= 0 {
		ve.Add("probe.trials must be > 0")
	}
	if p.Delay < 0 {
		ve.Add("probe.delay must be >= 0")
	}
	if p.Timeout <= 0 {
		ve.Add("probe.timeout must be > 0")
	}
	if p.MaxTokens <= 0 {
		ve.Add("probe.max_tokens must be > 0")
	}
	if p.RateLimitPerMin < 0 {
		ve.Add("probe.rate_limit_per_minute must be >= 0")
	}
	if p.ExcerptChars <= 0 {
		ve.Add("probe.excerpt_chars must be > 0")
	}
	if p.ErrorExcerptChars <= 0 {
		ve.Add("probe.error_excerpt_chars must be > 0")
	}
	for i, m := range p.Models {
		if strings.TrimSpace(m) == "" {
			ve.Add("probe.models[%d] must not be empty", i)
		}
	}
	seen := make(map[string]bool)
	for i, f := range p.ToolIDFormats {
		if f.ID == "" {
			ve.Add("probe.tool_id_formats[%d].id must not be empty", i)
			continue
		}
		if seen[f.ID] {
			ve.Add("probe.tool_id_formats[%d]: duplicate id %q", i, f.ID)
		}
		seen[f.ID] = true
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if cfg.Logger.Level != "" && !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
}
