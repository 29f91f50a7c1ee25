package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// ToolCaller is the slice of an MCP client session the adapter needs.
// *mcp.ClientSession satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// MCPLayer adapts a tool behind an MCP gateway into a pipeline layer.
// The stage payload becomes the tool arguments; the tool's text content
// must be a JSON object and becomes the next payload.
type MCPLayer struct {
	role   pipeline.Role
	exp    *pipeline.Expectation
	caller ToolCaller
	tool   string
	info   Endpoint
}

// NewMCPLayer builds an MCP adapter for the stage the expectation
// describes. The caller is typically a *mcp.ClientSession from DialMCP.
func NewMCPLayer(exp *pipeline.Expectation, caller ToolCaller, endpoint Endpoint) (*MCPLayer, error) {
	if exp == nil {
		return nil, fmt.Errorf("mcp layer requires an expectation")
	}
	if caller == nil {
		return nil, fmt.Errorf("mcp layer requires a gateway session")
	}
	if endpoint.Kind == "" {
		endpoint.Kind = KindMCP
	}
	if endpoint.Kind != KindMCP {
		return nil, fmt.Errorf("mcp layer requires an mcp endpoint, got %q", endpoint.Kind)
	}
	if err := endpoint.Validate(); err != nil {
		return nil, fmt.Errorf("endpoint for %s: %w", exp.Role(), err)
	}

	return &MCPLayer{
		role:   exp.Role(),
		exp:    exp,
		caller: caller,
		tool:   endpoint.Tool,
		info:   endpoint,
	}, nil
}

// DialMCP connects a client session to an MCP gateway over the given
// transport.
func DialMCP(ctx context.Context, transport mcp.Transport) (*mcp.ClientSession, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "relay-agents",
		Version: FrameworkVersion,
	}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp gateway: %w", err)
	}
	return session, nil
}

// Role implements pipeline.Layer.
func (l *MCPLayer) Role() pipeline.Role { return l.role }

// Expectation implements pipeline.Layer.
func (l *MCPLayer) Expectation() *pipeline.Expectation { return l.exp }

// CheckReadiness implements pipeline.Layer.
func (l *MCPLayer) CheckReadiness(ctx context.Context) error {
	if l.caller == nil {
		return fmt.Errorf("no mcp gateway session")
	}
	return nil
}

// Process implements pipeline.Layer.
func (l *MCPLayer) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	res, err := l.caller.CallTool(ctx, &mcp.CallToolParams{
		Name:      l.tool,
		Arguments: input,
	})
	if err != nil {
		return nil, pipeline.NewRemoteUnreachable(l.role, fmt.Errorf("call tool %q: %w", l.tool, err))
	}
	if res.IsError {
		return nil, &pipeline.StageError{
			Role:   l.role,
			Reason: pipeline.AbortInternalError,
			Err:    fmt.Errorf("tool %q failed: %s", l.tool, toolText(res)),
		}
	}

	text := toolText(res)
	if text == "" {
		return nil, pipeline.NewAdapterTranslation(l.role, fmt.Errorf("tool %q returned no text content", l.tool))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(text), &output); err != nil {
		return nil, pipeline.NewAdapterTranslation(l.role, fmt.Errorf("decode tool %q result: %w", l.tool, err))
	}
	return output, nil
}

// Info describes the adapted endpoint.
func (l *MCPLayer) Info() FrameworkInfo {
	return FrameworkInfo{
		Kind:                KindMCP,
		Role:                l.role,
		Endpoint:            l.info.URL,
		Model:               l.info.Model,
		Tool:                l.tool,
		FrameworkVersion:    FrameworkVersion,
		SupportedOperations: supportedOperations,
	}
}

// toolText joins the text content blocks of a tool result.
func toolText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ pipeline.Layer = (*MCPLayer)(nil)
