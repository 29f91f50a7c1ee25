package redact

// Redaction records a single masked secret. It never stores the secret
// value itself, only metadata for auditing.
type Redaction struct {
	RuleID      string `json:"rule_id"`
	RuleDesc    string `json:"rule_desc"`
	Path        string `json:"path,omitempty"`   // payload path, e.g. "analysis.sources[2]"
	Line        int    `json:"line,omitempty"`   // line within the scanned string
	Column      int    `json:"column,omitempty"` // column where the secret starts
	OriginalLen int    `json:"original_len"`     // length of the masked secret, not its value
	Preview     string `json:"preview"`          // first 4 chars only
}

// Summary aggregates redaction statistics for logging.
type Summary struct {
	TotalSecrets int            `json:"total_secrets"`
	UniqueRules  int            `json:"unique_rules"`
	RuleCounts   map[string]int `json:"rule_counts"`
}

// Summarize counts redactions per rule.
func Summarize(redactions []Redaction) Summary {
	ruleCounts := make(map[string]int)
	for _, r := range redactions {
		ruleCounts[r.RuleID]++
	}
	return Summary{
		TotalSecrets: len(redactions),
		UniqueRules:  len(ruleCounts),
		RuleCounts:   ruleCounts,
	}
}

func toRedactions(findings []Finding, path string) []Redaction {
	redactions := make([]Redaction, 0, len(findings))
	for _, f := range findings {
		redactions = append(redactions, Redaction{
			RuleID:      f.RuleID,
			RuleDesc:    f.RuleDesc,
			Path:        path,
			Line:        f.Line,
			Column:      f.StartCol,
			OriginalLen: len(f.Match),
			Preview:     preview(f.Match, previewLen),
		})
	}
	return redactions
}
