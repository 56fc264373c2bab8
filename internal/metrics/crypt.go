package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CryptMetrics records core events: collinfo cache lookups, KMS round trips
// and context outcomes. The zero value of interest for embedders is Noop.
type CryptMetrics interface {
	// RecordCollInfoLookup records a collinfo cache lookup and whether it hit.
	RecordCollInfoLookup(ctx context.Context, hit bool)

	// RecordKMSRoundTrip records one completed KMS round trip for a provider.
	RecordKMSRoundTrip(ctx context.Context, provider string)

	// RecordContextOutcome records the terminal state of a context.
	// Kind examples: "encrypt", "decrypt", "datakey"
	// Status examples: "done", "error"
	RecordContextOutcome(ctx context.Context, kind, status string, duration time.Duration)
}

// cryptMetrics implements CryptMetrics using OpenTelemetry metrics.
type cryptMetrics struct {
	cacheCounter metric.Int64Counter
	kmsCounter   metric.Int64Counter
	outcomeHisto metric.Float64Histogram
}

// NewCryptMetrics creates a CryptMetrics implementation using the provided
// meter provider. The namespace is used as a prefix for all metric names.
func NewCryptMetrics(meterProvider metric.MeterProvider, namespace string) (CryptMetrics, error) {
	meter := meterProvider.Meter(namespace)

	cacheCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_collinfo_cache_lookups_total", namespace),
		metric.WithDescription("Total number of collinfo cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache counter: %w", err)
	}

	kmsCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_kms_round_trips_total", namespace),
		metric.WithDescription("Total number of completed KMS round trips"),
		metric.WithUnit("{round_trip}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kms counter: %w", err)
	}

	outcomeHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_context_duration_seconds", namespace),
		metric.WithDescription("Duration of contexts from init to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome histogram: %w", err)
	}

	return &cryptMetrics{
		cacheCounter: cacheCounter,
		kmsCounter:   kmsCounter,
		outcomeHisto: outcomeHisto,
	}, nil
}

func (m *cryptMetrics) RecordCollInfoLookup(ctx context.Context, hit bool) {
	m.cacheCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("hit", hit),
	))
}

func (m *cryptMetrics) RecordKMSRoundTrip(ctx context.Context, provider string) {
	m.kmsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

func (m *cryptMetrics) RecordContextOutcome(ctx context.Context, kind, status string, duration time.Duration) {
	m.outcomeHisto.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// Noop is a CryptMetrics that records nothing.
type Noop struct{}

// RecordCollInfoLookup implements CryptMetrics.
func (Noop) RecordCollInfoLookup(context.Context, bool) {}

// RecordKMSRoundTrip implements CryptMetrics.
func (Noop) RecordKMSRoundTrip(context.Context, string) {}

// RecordContextOutcome implements CryptMetrics.
func (Noop) RecordContextOutcome(context.Context, string, string, time.Duration) {}
