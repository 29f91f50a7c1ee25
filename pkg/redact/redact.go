// Package redact masks secrets in run payloads and event text before
// they leave the engine boundary: published run events, persisted run
// snapshots, and API responses all pass through here. Detection uses
// the Gitleaks SDK with its default ruleset plus caller allowlists.
package redact

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
