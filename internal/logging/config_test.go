package logging

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Stdout)
	assert.True(t, cfg.OTEL)
	assert.True(t, cfg.Caller)
	assert.Equal(t, zapcore.ErrorLevel, cfg.StacktraceLevel)
	assert.Equal(t, "relayd", cfg.Fields["service"])

	assert.True(t, cfg.Sampling.Enabled)
	assert.Equal(t, time.Second, cfg.Sampling.Tick)
	assert.Equal(t, 100, cfg.Sampling.Initial)
	assert.Equal(t, 10, cfg.Sampling.Thereafter)

	assert.True(t, cfg.Redaction.Enabled)
	assert.Contains(t, cfg.Redaction.Fields, "api_key")
	assert.NotEmpty(t, cfg.Redaction.Patterns)

	require.NoError(t, cfg.Validate())
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{input: "trace", want: TraceLevel},
		{input: "TRACE", want: TraceLevel},
		{input: "debug", want: zapcore.DebugLevel},
		{input: "info", want: zapcore.InfoLevel},
		{input: "warn", want: zapcore.WarnLevel},
		{input: "error", want: zapcore.ErrorLevel},
		// zap maps the empty string to info, so an omitted config key
		// gets the production default.
		{input: "", want: zapcore.InfoLevel},
		{input: "verbose", wantErr: true},
		{input: "trace level", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("parse "+tt.input, func(t *testing.T) {
			got, err := LevelFromString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unknown log level")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := NewDefaultConfig()
		cfg.OTEL = false
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(*Config) {},
		},
		{
			name:   "console format",
			mutate: func(c *Config) { c.Format = "console" },
		},
		{
			name:    "unknown format",
			mutate:  func(c *Config) { c.Format = "logfmt" },
			wantErr: "log format",
		},
		{
			name:    "no outputs",
			mutate:  func(c *Config) { c.Stdout = false },
			wantErr: "no log output",
		},
		{
			name:    "zero sampling tick",
			mutate:  func(c *Config) { c.Sampling.Tick = 0 },
			wantErr: "sampling tick",
		},
		{
			name:    "zero sampling initial",
			mutate:  func(c *Config) { c.Sampling.Initial = 0 },
			wantErr: "sampling initial",
		},
		{
			name:    "negative sampling thereafter",
			mutate:  func(c *Config) { c.Sampling.Thereafter = -1 },
			wantErr: "sampling thereafter",
		},
		{
			name:   "sampling bounds ignored when disabled",
			mutate: func(c *Config) { c.Sampling = SamplingConfig{} },
		},
		{
			name:    "empty field key",
			mutate:  func(c *Config) { c.Fields = map[string]string{"": "x"} },
			wantErr: "constant log fields",
		},
		{
			name:    "empty field value",
			mutate:  func(c *Config) { c.Fields = map[string]string{"env": ""} },
			wantErr: "constant log fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateRedactionPatterns(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		patterns []string
		wantErr  string
	}{
		{
			name:     "disabled skips compilation",
			enabled:  false,
			patterns: []string{"[unclosed"},
		},
		{
			name:    "default patterns compile",
			enabled: true,
			patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
		{
			name:     "unclosed character class",
			enabled:  true,
			patterns: []string{"[unclosed"},
			wantErr:  "invalid redaction pattern",
		},
		{
			name:     "pattern over length cap",
			enabled:  true,
			patterns: []string{strings.Repeat("a", maxPatternLen+1)},
			wantErr:  "exceeds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Redaction = RedactionConfig{Enabled: tt.enabled, Patterns: tt.patterns}

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
