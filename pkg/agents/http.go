package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// Default HTTP adapter behavior.
const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
	defaultBurst       = 5
)

// HTTPLayer adapts an HTTP agent service into a pipeline layer. The
// stage payload is posted as a JSON object and the response body is the
// next payload.
//
// Transient failures (network errors, 429, 5xx) are retried with
// exponential backoff up to the configured attempt budget; exhausting it
// surfaces as a remote_unreachable stage failure. Payloads the remote
// rejects or responses that do not decode surface as adapter
// translation failures.
type HTTPLayer struct {
	role        pipeline.Role
	exp         *pipeline.Expectation
	endpoint    Endpoint
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

// NewHTTPLayer builds an HTTP adapter for the stage the expectation
// describes.
func NewHTTPLayer(exp *pipeline.Expectation, endpoint Endpoint) (*HTTPLayer, error) {
	if exp == nil {
		return nil, fmt.Errorf("http layer requires an expectation")
	}
	if endpoint.Kind == "" {
		endpoint.Kind = KindHTTP
	}
	if endpoint.Kind != KindHTTP {
		return nil, fmt.Errorf("http layer requires an http endpoint, got %q", endpoint.Kind)
	}
	if err := endpoint.Validate(); err != nil {
		return nil, fmt.Errorf("endpoint for %s: %w", exp.Role(), err)
	}

	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := endpoint.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	limit := rate.Inf
	burst := endpoint.Burst
	if endpoint.RequestsPerSecond > 0 {
		limit = rate.Limit(endpoint.RequestsPerSecond)
		if burst <= 0 {
			burst = defaultBurst
		}
	}

	return &HTTPLayer{
		role:        exp.Role(),
		exp:         exp,
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(limit, burst),
		maxRetries:  maxRetries,
		baseBackoff: defaultBaseBackoff,
	}, nil
}

// Role implements pipeline.Layer.
func (l *HTTPLayer) Role() pipeline.Role { return l.role }

// Expectation implements pipeline.Layer.
func (l *HTTPLayer) Expectation() *pipeline.Expectation { return l.exp }

// CheckReadiness implements pipeline.Layer. When the endpoint declares a
// health URL it is probed; otherwise the configured endpoint is trusted.
func (l *HTTPLayer) CheckReadiness(ctx context.Context) error {
	if l.endpoint.HealthURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint.HealthURL, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check %s: %w", l.endpoint.HealthURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check %s: status %d", l.endpoint.HealthURL, resp.StatusCode)
	}
	return nil
}

// Process implements pipeline.Layer.
func (l *HTTPLayer) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, pipeline.NewAdapterTranslation(l.role, fmt.Errorf("encode stage payload: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := l.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		output, err := l.doRequest(ctx, body)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, pipeline.NewRemoteUnreachable(l.role, fmt.Errorf("max retries exceeded: %w", lastErr))
}

// doRequest performs one stage request against the remote endpoint.
func (l *HTTPLayer) doRequest(ctx context.Context, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build stage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Relay-Stage", string(l.role))
	if l.endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.endpoint.APIKey)
	}
	if l.endpoint.Model != "" {
		req.Header.Set("X-Relay-Model", l.endpoint.Model)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("stage request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("read stage response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, respBody)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, pipeline.NewRemoteUnreachable(l.role, fmt.Errorf("authentication rejected (%d)", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, pipeline.NewAdapterTranslation(l.role, fmt.Errorf("remote rejected payload (%d): %s", resp.StatusCode, respBody))
	}

	var output map[string]any
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, pipeline.NewAdapterTranslation(l.role, fmt.Errorf("decode stage response: %w", err))
	}
	return output, nil
}

// Info describes the adapted endpoint.
func (l *HTTPLayer) Info() FrameworkInfo {
	return FrameworkInfo{
		Kind:                KindHTTP,
		Role:                l.role,
		Endpoint:            l.endpoint.URL,
		Model:               l.endpoint.Model,
		FrameworkVersion:    FrameworkVersion,
		SupportedOperations: supportedOperations,
	}
}

// retryableError marks an error as transient.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// isRetryable reports whether the error is marked transient.
func isRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

var _ pipeline.Layer = (*HTTPLayer)(nil)
