package logging

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug for wire-level detail: payloads crossing
// the adapter boundary, per-hop validation records. Filtered out in
// production configs.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" in addition to
// the standard zap names.
func LevelFromString(name string) (zapcore.Level, error) {
	if strings.EqualFold(name, "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return l, nil
}

// Config controls logger construction. The daemon exposes level and
// format in its config file; the rest is set in code.
type Config struct {
	// Level is the minimum enabled level.
	Level zapcore.Level

	// Format selects the stdout encoding: "json" or "console".
	Format string

	// Stdout writes entries to standard output.
	Stdout bool

	// OTEL forwards entries to an OTLP log provider when one is
	// available. Without a provider the output is skipped.
	OTEL bool

	// Caller annotates entries with the calling file and line.
	Caller bool

	// StacktraceLevel attaches stacktraces at this level and above.
	StacktraceLevel zapcore.Level

	// Fields are stamped on every entry.
	Fields map[string]string

	Sampling  SamplingConfig
	Redaction RedactionConfig
}

// SamplingConfig bounds stdout log volume. Per tick, the first Initial
// entries of each message pass through, then one in every Thereafter.
// Entries at Error and above are never dropped.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig masks sensitive values on the stdout encoder. Run
// payloads get deeper gitleaks masking in pkg/redact before they leave
// the daemon; this only guards log fields.
type RedactionConfig struct {
	// Fields are field names whose values are always masked. Matching
	// is case-insensitive.
	Fields []string

	// Patterns are regexps that mask any matching string value.
	Patterns []string

	Enabled bool
}

// maxPatternLen guards against pathological redaction patterns.
const maxPatternLen = 200

// compile builds the pattern matchers. Both Validate and the encoder
// report pattern problems through here.
func (rc RedactionConfig) compile() ([]*regexp.Regexp, error) {
	if !rc.Enabled {
		return nil, nil
	}
	matchers := make([]*regexp.Regexp, 0, len(rc.Patterns))
	for _, p := range rc.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern exceeds %d chars: %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		matchers = append(matchers, re)
	}
	return matchers, nil
}

// NewDefaultConfig returns production defaults: sampled JSON on stdout
// with secret redaction on.
func NewDefaultConfig() *Config {
	return &Config{
		Level:           zapcore.InfoLevel,
		Format:          "json",
		Stdout:          true,
		OTEL:            true,
		Caller:          true,
		StacktraceLevel: zapcore.ErrorLevel,
		Fields:          map[string]string{"service": "relayd"},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "bearer", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("log format must be %q or %q, got %q", "json", "console", c.Format)
	}
	if !c.Stdout && !c.OTEL {
		return fmt.Errorf("no log output enabled")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			return fmt.Errorf("sampling tick must be positive")
		}
		if c.Sampling.Initial < 1 {
			return fmt.Errorf("sampling initial must be at least 1, got %d", c.Sampling.Initial)
		}
		if c.Sampling.Thereafter < 0 {
			return fmt.Errorf("sampling thereafter cannot be negative, got %d", c.Sampling.Thereafter)
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant log fields need a key and a value, got %q=%q", k, v)
		}
	}
	if _, err := c.Redaction.compile(); err != nil {
		return err
	}
	return nil
}
