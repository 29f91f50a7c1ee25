package agents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

func newTestHTTPLayer(t *testing.T, url string, endpoint Endpoint) *HTTPLayer {
	t.Helper()
	endpoint.Kind = KindHTTP
	endpoint.URL = url
	layer, err := NewHTTPLayer(pipeline.MustExpectation(pipeline.RoleIntermediate), endpoint)
	require.NoError(t, err)
	layer.baseBackoff = time.Millisecond
	return layer
}

func TestHTTPLayer_Process(t *testing.T) {
	var gotStage, gotAuth, gotModel string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStage = r.Header.Get("X-Relay-Stage")
		gotAuth = r.Header.Get("Authorization")
		gotModel = r.Header.Get("X-Relay-Model")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"verified": true, "quality": 0.85})
	}))
	defer ts.Close()

	layer := newTestHTTPLayer(t, ts.URL, Endpoint{APIKey: "sk-test", Model: "critic-large"})

	output, err := layer.Process(context.Background(), map[string]any{"answer": "text", "claim_count": 2})
	require.NoError(t, err)

	assert.Equal(t, true, output["verified"])
	assert.InDelta(t, 0.85, output["quality"].(float64), 1e-9)
	assert.Equal(t, "intermediate", gotStage)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "critic-large", gotModel)
	assert.Equal(t, map[string]any{"answer": "text", "claim_count": float64(2)}, gotBody)
}

func TestHTTPLayer_Process_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer ts.Close()

	layer := newTestHTTPLayer(t, ts.URL, Endpoint{})

	output, err := layer.Process(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, output["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPLayer_Process_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	layer := newTestHTTPLayer(t, ts.URL, Endpoint{MaxRetries: 2})

	_, err := layer.Process(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pipeline.AbortRemoteUnreachable, se.Reason)
}

func TestHTTPLayer_Process_RejectedPayload(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown field", http.StatusBadRequest)
	}))
	defer ts.Close()

	layer := newTestHTTPLayer(t, ts.URL, Endpoint{})

	_, err := layer.Process(context.Background(), map[string]any{})
	require.Error(t, err)

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pipeline.AbortAdapterTranslation, se.Reason)
	// Rejections are not transient; no retry happens.
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPLayer_Process_AuthRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	layer := newTestHTTPLayer(t, ts.URL, Endpoint{})

	_, err := layer.Process(context.Background(), map[string]any{})
	require.Error(t, err)

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pipeline.AbortRemoteUnreachable, se.Reason)
}

func TestHTTPLayer_Process_MalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer ts.Close()

	layer := newTestHTTPLayer(t, ts.URL, Endpoint{})

	_, err := layer.Process(context.Background(), map[string]any{})
	require.Error(t, err)

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pipeline.AbortAdapterTranslation, se.Reason)
}

func TestHTTPLayer_CheckReadiness(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	layer := newTestHTTPLayer(t, ts.URL, Endpoint{HealthURL: ts.URL + "/healthz"})
	assert.NoError(t, layer.CheckReadiness(context.Background()))

	layer = newTestHTTPLayer(t, ts.URL, Endpoint{HealthURL: ts.URL + "/missing"})
	assert.Error(t, layer.CheckReadiness(context.Background()))

	layer = newTestHTTPLayer(t, ts.URL, Endpoint{})
	assert.NoError(t, layer.CheckReadiness(context.Background()))
}

func TestHTTPLayer_Info(t *testing.T) {
	layer := newTestHTTPLayer(t, "http://agents.local/critic", Endpoint{Model: "critic-large", APIKey: "sk-secret"})

	info := layer.Info()
	assert.Equal(t, KindHTTP, info.Kind)
	assert.Equal(t, pipeline.RoleIntermediate, info.Role)
	assert.Equal(t, "http://agents.local/critic", info.Endpoint)
	assert.Equal(t, "critic-large", info.Model)
	assert.Equal(t, FrameworkVersion, info.FrameworkVersion)
	assert.Contains(t, info.SupportedOperations, "process")

	// API keys never leave the adapter.
	raw, err := json.Marshal(info)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-secret")
}

func TestNewHTTPLayer_Validation(t *testing.T) {
	exp := pipeline.MustExpectation(pipeline.RoleLeading)

	_, err := NewHTTPLayer(nil, Endpoint{Kind: KindHTTP, URL: "http://agents.local"})
	assert.Error(t, err)

	_, err = NewHTTPLayer(exp, Endpoint{Kind: KindHTTP, URL: "agents.local"})
	assert.Error(t, err)

	_, err = NewHTTPLayer(exp, Endpoint{Kind: KindMCP, URL: "http://agents.local", Tool: "audit"})
	assert.Error(t, err)
}
