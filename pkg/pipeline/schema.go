package pipeline

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// FieldType names the runtime type a payload field must satisfy.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
	FieldAny     FieldType = "any"
)

// FieldSpec describes one required or optional payload field.
type FieldSpec struct {
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// Schema is a structural description of a payload. Validation checks
// presence and runtime type for declared fields; undeclared payload
// fields pass through untouched.
type Schema map[string]FieldSpec

// clone returns an independent copy of the schema.
func (s Schema) clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// check validates payload against the schema and returns one record per
// violated field, or a single passed record when the payload conforms.
func (s Schema) check(payload map[string]any, now time.Time) []ValidationRecord {
	var failures []ValidationRecord

	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := s[name]
		value, present := payload[name]
		if !present {
			if spec.Required {
				failures = append(failures, ValidationRecord{
					Rule:    "schema:" + name,
					Outcome: OutcomeFailed,
					Detail:  "required field missing",
					At:      now,
				})
			}
			continue
		}
		if err := matchesType(value, spec.Type); err != nil {
			failures = append(failures, ValidationRecord{
				Rule:    "schema:" + name,
				Outcome: OutcomeFailed,
				Detail:  err.Error(),
				At:      now,
			})
		}
	}

	if len(failures) > 0 {
		return failures
	}
	return []ValidationRecord{{Rule: "schema", Outcome: OutcomePassed, At: now}}
}

// matchesType reports whether value satisfies the declared field type.
// Numeric fields accept int, int64, and float64 so payloads survive a
// JSON round trip; integer additionally requires a whole value.
func matchesType(value any, ft FieldType) error {
	switch ft {
	case FieldAny, "":
		return nil
	case FieldString:
		if _, ok := value.(string); ok {
			return nil
		}
	case FieldNumber:
		if _, ok := numericValue(value); ok {
			return nil
		}
	case FieldInteger:
		if n, ok := numericValue(value); ok {
			if n == math.Trunc(n) {
				return nil
			}
			return fmt.Errorf("expected integer, got fractional value %v", value)
		}
	case FieldBoolean:
		if _, ok := value.(bool); ok {
			return nil
		}
	case FieldObject:
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case FieldArray:
		if _, ok := value.([]any); ok {
			return nil
		}
	default:
		return fmt.Errorf("unknown field type %q", ft)
	}
	return fmt.Errorf("expected %s, got %T", ft, value)
}

// numericValue extracts a float64 from the numeric types a payload can
// legitimately carry.
func numericValue(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Rule is a named predicate evaluated against a payload during buffer
// validation. Rules run in declaration order. A failed fatal rule stops
// evaluation of the rules behind it; non-fatal failures keep evaluating
// so diagnostics accumulate.
type Rule struct {
	// Name identifies the rule in validation records.
	Name string

	// Check returns nil when the payload satisfies the rule. The error
	// message becomes the record detail.
	Check func(payload map[string]any) error

	// Fatal stops evaluation of subsequent rules on failure.
	Fatal bool
}

// QualityRequirement is a minimum threshold on a numeric payload field,
// enforced as a quality gate during buffer validation. A missing or
// non-numeric field fails the gate.
type QualityRequirement struct {
	// Name identifies the gate in validation records.
	Name string

	// Field is the payload field carrying the score.
	Field string

	// Min is the inclusive lower bound the score must reach.
	Min float64
}

// check evaluates the gate against the payload.
func (q QualityRequirement) check(payload map[string]any, now time.Time) ValidationRecord {
	rec := ValidationRecord{Rule: "quality:" + q.Name, At: now}
	value, present := payload[q.Field]
	if !present {
		rec.Outcome = OutcomeFailed
		rec.Detail = fmt.Sprintf("field %q missing", q.Field)
		return rec
	}
	score, ok := numericValue(value)
	if !ok {
		rec.Outcome = OutcomeFailed
		rec.Detail = fmt.Sprintf("field %q is not numeric", q.Field)
		return rec
	}
	if score < q.Min {
		rec.Outcome = OutcomeFailed
		rec.Detail = fmt.Sprintf("%s=%v below minimum %v", q.Field, score, q.Min)
		return rec
	}
	rec.Outcome = OutcomePassed
	return rec
}

// PerformanceConstraints bounds stage execution. A zero MaxDuration
// means the stage is unbounded.
type PerformanceConstraints struct {
	MaxDuration time.Duration `json:"max_duration"`
}
