package telemetry

import "fmt"

// Config holds configuration for the tracer
type Config struct {
	// ServiceName is the name of the service
	ServiceName string `yaml:"service_name" json:"service_name"`

	// ServiceVersion is the version of the service
	ServiceVersion string `yaml:"-" json:"-"`

	// Environment is the deployment environment (dev, staging, production)
	Environment string `yaml:"environment" json:"environment"`

	// Enabled determines whether tracing is enabled.
	// When false, a noop tracer is used.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Endpoint is the OTLP/HTTP collector endpoint (host:port).
	// If empty, spans are recorded but not exported.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `yaml:"insecure" json:"insecure"`

	// SampleRate is the fraction of traces to sample (0.0 to 1.0)
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
}

// DefaultConfig returns the default configuration.
// Tracing is disabled by default.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "taskgraph",
		ServiceVersion: "dev",
		Environment:    "development",
		Enabled:        false,
		Endpoint:       "",
		SampleRate:     1.0,
	}
}

// Validate checks the sample rate and service name.
func (c Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %v", c.SampleRate)
	}
	if c.Enabled && c.ServiceName == "" {
		return fmt.Errorf("service_name is required when tracing is enabled")
	}
	return nil
}
