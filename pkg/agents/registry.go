package agents

import (
	"fmt"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// Option configures adapter construction.
type Option func(*buildOptions)

type buildOptions struct {
	caller ToolCaller
}

// WithToolCaller supplies the MCP gateway session mcp endpoints invoke
// tools on. Ignored for http endpoints.
func WithToolCaller(caller ToolCaller) Option {
	return func(o *buildOptions) { o.caller = caller }
}

// New builds the adapter for an endpoint, dispatching on its kind.
func New(exp *pipeline.Expectation, endpoint Endpoint, opts ...Option) (pipeline.Layer, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	switch endpoint.Kind {
	case KindHTTP:
		return NewHTTPLayer(exp, endpoint)
	case KindMCP:
		if o.caller == nil {
			return nil, fmt.Errorf("mcp endpoint for %s requires a gateway session", exp.Role())
		}
		return NewMCPLayer(exp, o.caller, endpoint)
	default:
		return nil, fmt.Errorf("unsupported endpoint kind %q", endpoint.Kind)
	}
}

// NewTrio builds adapters for all three stages of a workflow from their
// endpoints and contracts.
func NewTrio(cfg TrioConfig, leading, intermediate, terminal *pipeline.Expectation, opts ...Option) (pipeline.Layer, pipeline.Layer, pipeline.Layer, error) {
	stages := []struct {
		exp      *pipeline.Expectation
		endpoint Endpoint
	}{
		{leading, cfg.Leading},
		{intermediate, cfg.Intermediate},
		{terminal, cfg.Terminal},
	}

	layers := make([]pipeline.Layer, 0, len(stages))
	for i, stage := range stages {
		if stage.exp == nil {
			return nil, nil, nil, fmt.Errorf("missing %s expectation", pipeline.AllRoles()[i])
		}
		layer, err := New(stage.exp, stage.endpoint, opts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build %s adapter: %w", stage.exp.Role(), err)
		}
		layers = append(layers, layer)
	}
	return layers[0], layers[1], layers[2], nil
}

// Info reports framework info for any adapted layer, or false for local
// layers.
func Info(layer pipeline.Layer) (FrameworkInfo, bool) {
	type describer interface {
		Info() FrameworkInfo
	}
	if d, ok := layer.(describer); ok {
		return d.Info(), true
	}
	return FrameworkInfo{}, false
}
