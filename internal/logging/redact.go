package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// redactedValue replaces masked field values in encoded output.
const redactedValue = "[REDACTED]"

// redactingEncoder masks configured values before they reach the
// underlying encoder. Key matches are case-insensitive; pattern
// matches apply to string values regardless of key.
//
// Composite values (objects, arrays, reflected) under a masked key are
// replaced whole. Values nested under unmasked keys pass through; deep
// payload masking happens in pkg/redact, not here.
type redactingEncoder struct {
	zapcore.Encoder
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// newRedactingEncoder wraps base according to the redaction config.
// Disabled redaction returns base untouched.
func newRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (zapcore.Encoder, error) {
	if !cfg.Enabled {
		return base, nil
	}
	patterns, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys[strings.ToLower(f)] = struct{}{}
	}
	return &redactingEncoder{Encoder: base, keys: keys, patterns: patterns}, nil
}

func (e *redactingEncoder) masked(key string) bool {
	_, ok := e.keys[strings.ToLower(key)]
	return ok
}

func (e *redactingEncoder) AddString(key, value string) {
	if e.masked(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	for _, re := range e.patterns {
		if re.MatchString(value) {
			e.Encoder.AddString(key, redactedValue)
			return
		}
	}
	e.Encoder.AddString(key, value)
}

func (e *redactingEncoder) AddByteString(key string, value []byte) {
	if e.masked(key) {
		e.Encoder.AddByteString(key, []byte(redactedValue))
		return
	}
	e.Encoder.AddByteString(key, value)
}

func (e *redactingEncoder) AddBinary(key string, value []byte) {
	if e.masked(key) {
		e.Encoder.AddBinary(key, []byte(redactedValue))
		return
	}
	e.Encoder.AddBinary(key, value)
}

func (e *redactingEncoder) AddReflected(key string, value any) error {
	if e.masked(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddReflected(key, value)
}

func (e *redactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.masked(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.masked(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{
		Encoder:  e.Encoder.Clone(),
		keys:     e.keys,
		patterns: e.patterns,
	}
}
