package core

import (
	"context"
	"sync"
)

// Logger is the minimal structured-logging interface used across every
// package in this module. Implementations receive a message and a flat
// field map; they decide how to render it (JSON, text, discard).
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a package tag its log lines with a stable
// component identifier while sharing one underlying sink. Convention:
//
//	"orchestrator/core"         - this package
//	"orchestrator/resilience"   - retry/circuit-breaker
//	"orchestrator/discovery"    - element discovery
//	"orchestrator/storage"      - plan/execution/config persistence
//	"orchestrator/llm"          - chat completion providers
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. It is the default for any constructor
// that receives a nil Logger.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

func (n *NoOpLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}

// WithComponent on NoOpLogger just returns itself.
func (n *NoOpLogger) WithComponent(component string) Logger { return n }

// Telemetry is an optional span/metric emitter. Passing nil wherever it
// is accepted is equivalent to NoOpTelemetry.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}
func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}

// TokenUsage mirrors a chat completion provider's reported token accounting.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// MetricsRegistry lets leaf packages emit counters/gauges/histograms
// without importing a concrete telemetry backend, avoiding an import
// cycle between core and whichever package wires OpenTelemetry.
type MetricsRegistry interface {
	Counter(name string, labels ...string)
	Gauge(name string, value float64, labels ...string)
	Histogram(name string, value float64, labels ...string)
}

var (
	globalMetricsRegistry MetricsRegistry
	metricsMu             sync.RWMutex
)

// SetMetricsRegistry installs the process-wide metrics sink returned by
// GetGlobalMetricsRegistry.
func SetMetricsRegistry(registry MetricsRegistry) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetricsRegistry = registry
}

// GetGlobalMetricsRegistry returns the installed registry, or nil if none
// has been set yet (metrics calls should no-op in that case).
func GetGlobalMetricsRegistry() MetricsRegistry {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetricsRegistry
}
