package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Config controls the OTLP export pipeline. The daemon exposes the
// connection settings in its config file; sampling and export cadence
// are set in code.
type Config struct {
	Enabled bool

	// Endpoint is the collector address as host:port. IPv6 hosts must
	// be bracketed.
	Endpoint string

	// Protocol selects the transport: "grpc" (default) or
	// "http/protobuf".
	Protocol string

	ServiceName    string
	ServiceVersion string

	// Insecure disables TLS. Only allowed for loopback endpoints.
	Insecure bool

	// TLSSkipVerify accepts any server certificate. For collectors
	// behind internal CAs.
	TLSSkipVerify bool

	// SampleRate is the trace sampling ratio in [0, 1]. Sampled
	// parents win regardless of the ratio.
	SampleRate float64

	// MetricInterval is the export cadence of the periodic reader.
	MetricInterval time.Duration

	// ShutdownTimeout bounds provider shutdown when the caller's
	// context carries no deadline.
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns defaults for a local collector. Disabled,
// so relayd starts cleanly without one.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        "grpc",
		ServiceName:     "relayd",
		ServiceVersion:  "0.1.0",
		Insecure:        true,
		SampleRate:      1.0,
		MetricInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the config for errors. A disabled config is always
// valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("protocol must be %q or %q, got %q", "grpc", "http/protobuf", c.Protocol)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required when telemetry is enabled")
	}

	// Plaintext OTLP leaks run payloads; confine it to loopback.
	if c.Insecure && !localEndpoint(c.Endpoint) {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; " +
			"set insecure=false for TLS or use a loopback endpoint")
	}

	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %g", c.SampleRate)
	}
	if c.MetricInterval <= 0 {
		return fmt.Errorf("metric interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	return nil
}

// localEndpoint reports whether the endpoint host resolves to a
// loopback address without a lookup: "localhost", "127.0.0.0/8", or
// "::1".
func localEndpoint(endpoint string) bool {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
