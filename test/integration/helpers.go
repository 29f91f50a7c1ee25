// Package integration exercises the relayd HTTP API end to end: run
// submission, polling, listing, and SSE event streaming against a real
// server with the engine behind it.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relay/internal/config"
	"github.com/fyrsmithlabs/relay/internal/events"
	"github.com/fyrsmithlabs/relay/internal/runstore"
	"github.com/fyrsmithlabs/relay/pkg/server"
)

// harness is one relayd instance under test: the full engine and HTTP
// stack behind an httptest listener.
type harness struct {
	URL    string
	Store  *runstore.Store
	Runner *server.Runner
	client *http.Client
}

// harnessOption adjusts the stack before the listener starts.
type harnessOption func(*harnessConfig)

type harnessConfig struct {
	cfg  *config.Config
	nc   *nats.Conn
	pub  *events.Publisher
	opts []server.Option
}

// withNATS wires the harness to a NATS connection for live event
// streaming.
func withNATS(nc *nats.Conn) harnessOption {
	return func(h *harnessConfig) {
		h.nc = nc
		h.pub = events.NewPublisher(nc)
		h.opts = append(h.opts, server.WithEventsConn(nc))
	}
}

// withConfig replaces the harness configuration.
func withConfig(cfg *config.Config) harnessOption {
	return func(h *harnessConfig) {
		h.cfg = cfg
	}
}

// newHarness builds a relayd stack on an ephemeral port. The default
// configuration runs workflows locally with no NATS, no redaction, and
// no snapshots.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.Events.URL = ""
	cfg.Redact.Enabled = false

	hc := &harnessConfig{cfg: cfg}
	for _, opt := range opts {
		opt(hc)
	}

	store, err := runstore.New(hc.cfg.Runs)
	require.NoError(t, err)

	runnerOpts := []server.RunnerOption{}
	if hc.pub != nil {
		runnerOpts = append(runnerOpts, server.WithPublisher(hc.pub))
	}
	runner := server.NewRunner(hc.cfg, store, runnerOpts...)

	srv := server.NewServer(hc.cfg, runner, hc.opts...)
	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)

	return &harness{
		URL:    ts.URL,
		Store:  store,
		Runner: runner,
		client: ts.Client(),
	}
}

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	return srv
}

// startRun submits a run and returns the assigned run ID.
func (h *harness) startRun(t *testing.T, workflow string, request map[string]any) string {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"workflow": workflow,
		"request":  request,
	})
	require.NoError(t, err)

	resp, err := h.client.Post(h.URL+"/v1/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started.RunID)
	return started.RunID
}

// getRun fetches one run record as loose JSON.
func (h *harness) getRun(t *testing.T, runID string) map[string]any {
	t.Helper()

	resp, err := h.client.Get(fmt.Sprintf("%s/v1/runs/%s", h.URL, runID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	return rec
}

// waitForRun polls until the run reaches a terminal state.
func (h *harness) waitForRun(t *testing.T, runID string, timeout time.Duration) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec := h.getRun(t, runID)
		switch rec["state"] {
		case "completed", "aborted":
			return rec
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish within %v", runID, timeout)
	return nil
}

// drain waits for in-flight runs so the harness shuts down clean.
func (h *harness) drain(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Runner.Drain(ctx))
}
