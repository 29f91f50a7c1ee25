// Package agents adapts remote agent endpoints into pipeline layers.
//
// A remote stage is any service that accepts a stage payload and returns
// the next payload: an HTTP agent service, or a tool behind an MCP
// gateway. The adapters translate payloads across the boundary, enforce
// rate limits and bounded retries at the edge, and map transport
// failures onto the pipeline error taxonomy so the orchestrator can
// classify aborts. The pipeline engine itself never retries; all retry
// policy lives here.
package agents

import (
	"fmt"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// FrameworkVersion identifies the adapter protocol version reported in
// framework info.
const FrameworkVersion = "1.0.0"

// Kind selects the transport an endpoint speaks.
type Kind string

const (
	// KindHTTP posts stage payloads to an HTTP agent service.
	KindHTTP Kind = "http"

	// KindMCP invokes a named tool on an MCP gateway session.
	KindMCP Kind = "mcp"
)

// Valid reports whether k is a known endpoint kind.
func (k Kind) Valid() bool { return k == KindHTTP || k == KindMCP }

// Endpoint configures one remote stage.
type Endpoint struct {
	// Kind selects the transport.
	Kind Kind `json:"kind" koanf:"kind"`

	// URL is the stage endpoint for http endpoints, informational for
	// mcp endpoints.
	URL string `json:"url" koanf:"url"`

	// HealthURL, when set, is probed during readiness checks.
	HealthURL string `json:"health_url,omitempty" koanf:"health_url"`

	// APIKey authenticates http requests. Never serialized.
	APIKey string `json:"-" koanf:"api_key"`

	// Model names the model the remote stage should use, when the
	// remote supports selection.
	Model string `json:"model,omitempty" koanf:"model"`

	// Tool is the MCP tool name. Required for mcp endpoints.
	Tool string `json:"tool,omitempty" koanf:"tool"`

	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration `json:"timeout,omitempty" koanf:"timeout"`

	// MaxRetries bounds retry attempts for transient failures.
	// Defaults to 3.
	MaxRetries int `json:"max_retries,omitempty" koanf:"max_retries"`

	// RequestsPerSecond rate-limits outbound calls. Zero means
	// unlimited.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" koanf:"requests_per_second"`

	// Burst is the rate limiter burst size. Defaults to 5.
	Burst int `json:"burst,omitempty" koanf:"burst"`
}

// Validate checks the endpoint configuration.
func (e Endpoint) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown endpoint kind %q", e.Kind)
	}
	if e.Kind == KindHTTP {
		if e.URL == "" {
			return fmt.Errorf("http endpoint requires a url")
		}
		u, err := url.Parse(e.URL)
		if err != nil {
			return fmt.Errorf("parse endpoint url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("endpoint url %q is not absolute", e.URL)
		}
	}
	if e.Kind == KindMCP && e.Tool == "" {
		return fmt.Errorf("mcp endpoint requires a tool name")
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("negative max_retries %d", e.MaxRetries)
	}
	if e.RequestsPerSecond < 0 {
		return fmt.Errorf("negative requests_per_second %v", e.RequestsPerSecond)
	}
	return nil
}

// TrioConfig configures remote endpoints for all three stages of a
// workflow.
type TrioConfig struct {
	Leading      Endpoint `json:"leading" koanf:"leading"`
	Intermediate Endpoint `json:"intermediate" koanf:"intermediate"`
	Terminal     Endpoint `json:"terminal" koanf:"terminal"`
}

// FrameworkInfo describes an adapted endpoint for discovery and
// diagnostics. API keys are excluded.
type FrameworkInfo struct {
	Kind                Kind          `json:"kind"`
	Role                pipeline.Role `json:"role"`
	Endpoint            string        `json:"endpoint"`
	Model               string        `json:"model,omitempty"`
	Tool                string        `json:"tool,omitempty"`
	FrameworkVersion    string        `json:"framework_version"`
	SupportedOperations []string      `json:"supported_operations"`
}

// supportedOperations are the layer operations every adapter provides.
var supportedOperations = []string{"process", "validate_requirements"}
