package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// fakeCaller scripts tool call outcomes.
type fakeCaller struct {
	result *mcp.CallToolResult
	err    error
	params *mcp.CallToolParams
}

func (f *fakeCaller) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	f.params = params
	return f.result, f.err
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func newTestMCPLayer(t *testing.T, caller ToolCaller) *MCPLayer {
	t.Helper()
	layer, err := NewMCPLayer(
		pipeline.MustExpectation(pipeline.RoleIntermediate),
		caller,
		Endpoint{Kind: KindMCP, Tool: "fact_check"},
	)
	require.NoError(t, err)
	return layer
}

func TestMCPLayer_Process(t *testing.T) {
	caller := &fakeCaller{result: textResult(`{"verified": true, "quality": 0.85}`)}
	layer := newTestMCPLayer(t, caller)

	output, err := layer.Process(context.Background(), map[string]any{"claim_count": 2})
	require.NoError(t, err)

	assert.Equal(t, true, output["verified"])
	assert.InDelta(t, 0.85, output["quality"].(float64), 1e-9)
	require.NotNil(t, caller.params)
	assert.Equal(t, "fact_check", caller.params.Name)
	assert.Equal(t, map[string]any{"claim_count": 2}, caller.params.Arguments)
}

func TestMCPLayer_Process_ToolError(t *testing.T) {
	result := textResult("claim store unavailable")
	result.IsError = true
	layer := newTestMCPLayer(t, &fakeCaller{result: result})

	_, err := layer.Process(context.Background(), map[string]any{})
	require.Error(t, err)

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pipeline.AbortInternalError, se.Reason)
	assert.Contains(t, err.Error(), "claim store unavailable")
}

func TestMCPLayer_Process_CallFailure(t *testing.T) {
	layer := newTestMCPLayer(t, &fakeCaller{err: fmt.Errorf("session closed")})

	_, err := layer.Process(context.Background(), map[string]any{})
	require.Error(t, err)

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pipeline.AbortRemoteUnreachable, se.Reason)
}

func TestMCPLayer_Process_BadJSON(t *testing.T) {
	layer := newTestMCPLayer(t, &fakeCaller{result: textResult("not a payload")})

	_, err := layer.Process(context.Background(), map[string]any{})
	require.Error(t, err)

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pipeline.AbortAdapterTranslation, se.Reason)
}

func TestMCPLayer_Process_NoTextContent(t *testing.T) {
	layer := newTestMCPLayer(t, &fakeCaller{result: &mcp.CallToolResult{}})

	_, err := layer.Process(context.Background(), map[string]any{})
	require.Error(t, err)

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pipeline.AbortAdapterTranslation, se.Reason)
}

func TestNewMCPLayer_Validation(t *testing.T) {
	exp := pipeline.MustExpectation(pipeline.RoleLeading)

	_, err := NewMCPLayer(exp, nil, Endpoint{Kind: KindMCP, Tool: "audit"})
	assert.Error(t, err)

	_, err = NewMCPLayer(exp, &fakeCaller{}, Endpoint{Kind: KindMCP})
	assert.Error(t, err)

	_, err = NewMCPLayer(nil, &fakeCaller{}, Endpoint{Kind: KindMCP, Tool: "audit"})
	assert.Error(t, err)
}

type auditToolParams struct {
	Answer string `json:"answer"`
}

// TestMCPLayer_EndToEnd_InMemory drives the adapter through a real MCP
// server over in-memory transports.
func TestMCPLayer_EndToEnd_InMemory(t *testing.T) {
	ctx := context.Background()

	server := mcp.NewServer(&mcp.Implementation{Name: "test-gateway", Version: "0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "audit",
		Description: "Extract claims from an answer.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *auditToolParams) (*mcp.CallToolResult, any, error) {
		payload, err := json.Marshal(map[string]any{
			"answer":      params.Answer,
			"claim_count": 1,
		})
		if err != nil {
			return nil, nil, err
		}
		return textResult(string(payload)), nil, nil
	})

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	session, err := DialMCP(ctx, clientTransport)
	require.NoError(t, err)

	layer, err := NewMCPLayer(
		pipeline.MustExpectation(pipeline.RoleLeading),
		session,
		Endpoint{Kind: KindMCP, Tool: "audit"},
	)
	require.NoError(t, err)

	output, err := layer.Process(ctx, map[string]any{"answer": "The tower is 330 metres tall."})
	require.NoError(t, err)
	assert.Equal(t, "The tower is 330 metres tall.", output["answer"])
	assert.Equal(t, float64(1), output["claim_count"])
}
