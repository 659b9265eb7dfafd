// Package telemetry provides OpenTelemetry instrumentation for the coordinator.
// Every metrics type is nil-safe: a nil receiver records nothing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// NavigationMeterName is the name used for the navigation metrics meter
	NavigationMeterName = "github.com/Mukhsinh/manajemenresiko-sub005/navigation"

	// ReadinessMeterName is the name used for the readiness metrics meter
	ReadinessMeterName = "github.com/Mukhsinh/manajemenresiko-sub005/readiness"
)

// NavigationMetrics holds the instruments for page transitions.
type NavigationMetrics struct {
	transitions      metric.Int64Counter
	duration         metric.Float64Histogram
	moduleFailures   metric.Int64Counter
	callbackFailures metric.Int64Counter
	coalesced        metric.Int64Counter
}

// NewNavigationMetrics creates a NavigationMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewNavigationMetrics(provider metric.MeterProvider) (*NavigationMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(NavigationMeterName)

	transitions, err := meter.Int64Counter(
		"nav_transitions_total",
		metric.WithDescription("Completed page transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"nav_transition_duration_seconds",
		metric.WithDescription("Duration of page transitions in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, err
	}

	moduleFailures, err := meter.Int64Counter(
		"nav_module_start_failures_total",
		metric.WithDescription("Page module start routines that returned an error"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	callbackFailures, err := meter.Int64Counter(
		"nav_callback_failures_total",
		metric.WithDescription("Page load/unload callbacks that failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	coalesced, err := meter.Int64Counter(
		"nav_requests_coalesced_total",
		metric.WithDescription("Navigation requests replaced by a newer request before running"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &NavigationMetrics{
		transitions:      transitions,
		duration:         duration,
		moduleFailures:   moduleFailures,
		callbackFailures: callbackFailures,
		coalesced:        coalesced,
	}, nil
}

// RecordTransition records a finished transition to page.
func (m *NavigationMetrics) RecordTransition(ctx context.Context, page string, duration time.Duration, moduleOK bool) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("page", page),
		attribute.Bool("module_ok", moduleOK),
	)
	m.transitions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
}

// RecordModuleFailure records a failed module start for page.
func (m *NavigationMetrics) RecordModuleFailure(ctx context.Context, page, module string) {
	if m == nil {
		return
	}
	m.moduleFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("page", page),
		attribute.String("module", module),
	))
}

// RecordCallbackFailure records a failed load or unload callback.
func (m *NavigationMetrics) RecordCallbackFailure(ctx context.Context, page, phase string) {
	if m == nil {
		return
	}
	m.callbackFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("page", page),
		attribute.String("phase", phase),
	))
}

// RecordCoalesced records a queued request that was replaced.
func (m *NavigationMetrics) RecordCoalesced(ctx context.Context) {
	if m == nil {
		return
	}
	m.coalesced.Add(ctx, 1)
}

// ReadinessMetrics holds the instruments for the readiness gate.
type ReadinessMetrics struct {
	waits       metric.Int64Counter
	transitions metric.Int64Counter
}

// NewReadinessMetrics creates a ReadinessMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewReadinessMetrics(provider metric.MeterProvider) (*ReadinessMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ReadinessMeterName)

	waits, err := meter.Int64Counter(
		"readiness_waits_total",
		metric.WithDescription("Completed wait-until-ready calls by outcome"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"readiness_status_changes_total",
		metric.WithDescription("Readiness status transitions by target status"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReadinessMetrics{
		waits:       waits,
		transitions: transitions,
	}, nil
}

// RecordWait records the outcome of a wait ("ready", "immediate", "timeout", "canceled").
func (m *ReadinessMetrics) RecordWait(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.waits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordStatus records a transition into status.
func (m *ReadinessMetrics) RecordStatus(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
