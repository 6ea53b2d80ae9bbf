package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	// globalProvider holds the current tracer provider
	globalProvider trace.TracerProvider
	// globalShutdown holds the shutdown function for the provider
	globalShutdown func(context.Context) error
	// providerMu protects access to global provider state
	providerMu sync.RWMutex
)

// circuitBreaker refuses exports for resetTimeout once failureThreshold
// batches in a row have failed.
type circuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	failures         atomic.Int32
	openedAt         atomic.Int64 // unix nanos, zero while closed
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{failureThreshold: 5, resetTimeout: 30 * time.Second}
}

func (cb *circuitBreaker) allow() bool {
	at := cb.openedAt.Load()
	return at == 0 || time.Since(time.Unix(0, at)) > cb.resetTimeout
}

func (cb *circuitBreaker) recordSuccess() {
	cb.failures.Store(0)
	cb.openedAt.Store(0)
}

func (cb *circuitBreaker) recordFailure() {
	if int(cb.failures.Add(1)) >= cb.failureThreshold {
		cb.openedAt.Store(time.Now().UnixNano())
	}
}

// retryableExporter retries a batch with exponential backoff. A collector
// that keeps failing trips the breaker so the batcher stops waiting on it.
type retryableExporter struct {
	exporter       sdktrace.SpanExporter
	circuitBreaker *circuitBreaker
	maxTries       uint
	maxElapsed     time.Duration
}

func newRetryableExporter(exporter sdktrace.SpanExporter) *retryableExporter {
	return &retryableExporter{
		exporter:       exporter,
		circuitBreaker: newCircuitBreaker(),
		maxTries:       5,
		maxElapsed:     10 * time.Second,
	}
}

func (re *retryableExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if !re.circuitBreaker.allow() {
		return errCircuitOpen
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.Multiplier = 1.5

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, re.exporter.ExportSpans(ctx, spans)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(re.maxTries), backoff.WithMaxElapsedTime(re.maxElapsed))
	if err != nil {
		re.circuitBreaker.recordFailure()
		return fmt.Errorf("export %d spans: %w", len(spans), err)
	}
	re.circuitBreaker.recordSuccess()
	return nil
}

func (re *retryableExporter) Shutdown(ctx context.Context) error {
	return re.exporter.Shutdown(ctx)
}

var errCircuitOpen = errors.New("span export suspended after repeated collector failures")

func serviceResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
}

func sampler(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// InitProvider initializes the OpenTelemetry tracer provider.
// Returns a shutdown function and any initialization error.
func InitProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	providerMu.Lock()
	defer providerMu.Unlock()

	if !cfg.Enabled {
		globalProvider = noop.NewTracerProvider()
		globalShutdown = func(context.Context) error { return nil }
		otel.SetTracerProvider(globalProvider)
		return globalShutdown, nil
	}

	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	}

	if cfg.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}

		opts = append(opts, sdktrace.WithBatcher(
			newRetryableExporter(exporter),
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	globalProvider = tp
	otel.SetTracerProvider(tp)

	globalShutdown = func(shutdownCtx context.Context) error {
		return tp.Shutdown(shutdownCtx)
	}

	return globalShutdown, nil
}

// SetTracerProvider replaces the global tracer provider. Used by tests
// that record spans in memory.
func SetTracerProvider(tp trace.TracerProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	globalProvider = tp
}

// Shutdown gracefully shuts down the tracer provider
func Shutdown(ctx context.Context) error {
	providerMu.RLock()
	shutdown := globalShutdown
	providerMu.RUnlock()

	if shutdown != nil {
		return shutdown(ctx)
	}
	return nil
}

// ForceFlush forces all pending spans to be exported
func ForceFlush(ctx context.Context) error {
	providerMu.RLock()
	provider := globalProvider
	providerMu.RUnlock()

	if tp, ok := provider.(*sdktrace.TracerProvider); ok {
		return tp.ForceFlush(ctx)
	}
	return nil
}

// GetTracerProvider returns the current global tracer provider
func GetTracerProvider() trace.TracerProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()

	if globalProvider != nil {
		return globalProvider
	}
	return noop.NewTracerProvider()
}
