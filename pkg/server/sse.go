package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/relay/internal/events"
	"github.com/fyrsmithlabs/relay/internal/runstore"
)

// sseHeartbeat keeps proxies from timing out idle streams.
const sseHeartbeat = 30 * time.Second

// handleRunEvents streams run progress via Server-Sent Events.
//
// The handler subscribes to the run's NATS subjects and forwards every
// event to the client until the run finishes or the client disconnects.
// Runs that already finished replay their stored result as a single
// event.
//
// SSE event types mirror the NATS event names:
//   - started: run accepted, request payload attached
//   - stage: orchestrator state transition
//   - completed: run finished, final output attached
//   - aborted: run aborted, reason attached
//
// Example:
//
//	GET /v1/runs/{id}/events
//
//	event: stage
//	data: {"run_id":"run-7f3a","state":"running_intermediate", ...}
//
//	event: completed
//	data: {"run_id":"run-7f3a","status":"completed","quality_score":0.85, ...}
func (s *Server) handleRunEvents(c echo.Context) error {
	runID := c.Param("id")

	rec, ok := s.store.Get(runID)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found"})
	}
	if !rec.Finished() && s.nats == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "event streaming disabled"})
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	if rec.Finished() {
		return s.replayFinished(c, rec)
	}

	// Subscribe to this run's events
	msgChan := make(chan *nats.Msg, 16)
	sub, err := s.nats.ChanSubscribe(events.RunWildcard(runID), msgChan)
	if err != nil {
		return fmt.Errorf("subscribe run events: %w", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	// The run may have finished between the store read and the
	// subscription. Replay instead of waiting for events that were
	// already published.
	if rec, ok := s.store.Get(runID); ok && rec.Finished() {
		return s.replayFinished(c, rec)
	}

	// Heartbeat ticker to prevent proxy timeouts
	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	// Stream events until the run finishes or the client disconnects
	for {
		select {
		case msg := <-msgChan:
			// The event name is the last subject token
			parts := strings.Split(msg.Subject, ".")
			eventType := parts[len(parts)-1]

			fmt.Fprintf(c.Response(), "event: %s\n", eventType)
			fmt.Fprintf(c.Response(), "data: %s\n\n", string(msg.Data))
			c.Response().Flush()

			if eventType == events.EventCompleted || eventType == events.EventAborted {
				return nil
			}

		case <-ticker.C:
			// Send heartbeat to keep connection alive
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			// Client disconnected
			return nil
		}
	}
}

// replayFinished emits the stored result of a finished run as one SSE
// event and closes the stream.
func (s *Server) replayFinished(c echo.Context, rec *runstore.Record) error {
	name := events.EventCompleted
	if !rec.Result.Completed() {
		name = events.EventAborted
	}

	data, err := json.Marshal(finishedEvent(rec))
	if err != nil {
		return fmt.Errorf("marshal finished event: %w", err)
	}

	fmt.Fprintf(c.Response(), "event: %s\n", name)
	fmt.Fprintf(c.Response(), "data: %s\n\n", string(data))
	c.Response().Flush()
	return nil
}

// finishedEvent rebuilds the terminal event from a stored record.
func finishedEvent(rec *runstore.Record) events.FinishedEvent {
	res := rec.Result
	return events.FinishedEvent{
		RunID:        rec.RunID,
		Status:       res.Status,
		AbortReason:  res.AbortReason,
		QualityScore: res.QualityScore,
		FinalOutput:  res.FinalOutput,
		DurationMS:   res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		Timestamp:    rec.UpdatedAt,
	}
}
