package redact

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// previewLen is how many leading characters of a secret survive in the
// redaction marker and audit records.
const previewLen = 4

// Redactor scans text and run payloads for secrets and replaces them with
// redaction markers. The underlying Gitleaks detector (800+ patterns) is
// built once and reused; detection calls are serialized internally, so a
// single Redactor is safe for concurrent use.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Redactor with the default Gitleaks ruleset and an optional
// allowlist merged in.
func New(allowlist *Allowlist) (*Redactor, error) {
	detector, err := newDetector(allowlist)
	if err != nil {
		return nil, fmt.Errorf("building secret detector: %w", err)
	}
	return &Redactor{detector: detector}, nil
}

// RedactString replaces secrets in content with [REDACTED:rule-id:preview]
// markers. Markers keep the rule ID and a short preview so logs and events
// stay debuggable without exposing the secret.
func (r *Redactor) RedactString(content string) (string, []Redaction) {
	findings := r.detect(content)
	redactions := toRedactions(findings, "")
	if len(findings) == 0 {
		return content, redactions
	}
	return replaceFindings(content, findings), redactions
}

// RedactPayload returns a copy of payload with secrets in string values
// replaced by redaction markers. Unmodified branches are shared with the
// input; maps and slices along a redacted path are copied. Audit records
// carry the payload path (e.g. "analysis.sources[2]") instead of line
// positions.
func (r *Redactor) RedactPayload(payload map[string]any) (map[string]any, []Redaction) {
	var redactions []Redaction
	out, changed := r.redactMap(payload, "", &redactions)
	if !changed {
		return payload, redactions
	}
	return out, redactions
}

// detect serializes access to the shared detector.
func (r *Redactor) detect(content string) []Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return scan(r.detector, content)
}

// redactMap walks map entries in sorted key order so audit records come out
// in a deterministic order.
func (r *Redactor) redactMap(m map[string]any, path string, redactions *[]Redaction) (map[string]any, bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out map[string]any
	for _, k := range keys {
		replaced, changed := r.redactValue(m[k], childPath(path, k), redactions)
		if !changed {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(m))
			for ck, cv := range m {
				out[ck] = cv
			}
		}
		out[k] = replaced
	}
	if out == nil {
		return m, false
	}
	return out, true
}

func (r *Redactor) redactSlice(s []any, path string, redactions *[]Redaction) ([]any, bool) {
	var out []any
	for i, v := range s {
		replaced, changed := r.redactValue(v, indexPath(path, i), redactions)
		if !changed {
			continue
		}
		if out == nil {
			out = make([]any, len(s))
			copy(out, s)
		}
		out[i] = replaced
	}
	if out == nil {
		return s, false
	}
	return out, true
}

func (r *Redactor) redactValue(v any, path string, redactions *[]Redaction) (any, bool) {
	switch val := v.(type) {
	case string:
		findings := r.detect(val)
		if len(findings) == 0 {
			return v, false
		}
		*redactions = append(*redactions, toRedactions(findings, path)...)
		return replaceFindings(val, findings), true
	case map[string]any:
		return r.redactMap(val, path, redactions)
	case []any:
		return r.redactSlice(val, path, redactions)
	default:
		return v, false
	}
}

// replaceFindings replaces secrets with redaction markers. Works backwards
// through findings so earlier replacements do not shift later indices.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")

	for _, finding := range sorted {
		if finding.Line < 1 || finding.Line > len(lines) {
			continue
		}

		line := lines[finding.Line-1]
		marker := fmt.Sprintf("[REDACTED:%s:%s]", finding.RuleID, preview(finding.Match, previewLen))

		if finding.StartCol >= 0 && finding.EndCol <= len(line) {
			lines[finding.Line-1] = line[:finding.StartCol] + marker + line[finding.EndCol:]
		}
	}

	return strings.Join(lines, "\n")
}

// preview returns the first n characters of a string.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func childPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func indexPath(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}
