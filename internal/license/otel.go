package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	apperrors "keyledger/internal/errors"
)

const (
	TracerName = "keyledger/license"
	MeterName  = "keyledger/license"
)

// Metrics holds the license instruments
type Metrics struct {
	KeysIssued         metric.Int64Counter
	IssueFailures      metric.Int64Counter
	RedeemAttempts     metric.Int64Counter
	RedeemDuration     metric.Float64Histogram
	RedeemAnomalies    metric.Int64Counter
	QueryRequests      metric.Int64Counter
	KeysAvailable      metric.Int64Gauge
	EntitlementsActive metric.Int64Gauge
}

// NewMetrics creates all license metrics on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.KeysIssued, err = meter.Int64Counter(
		"license_keys_issued_total",
		metric.WithDescription("Total number of license keys issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keys issued counter: %w", err)
	}

	m.IssueFailures, err = meter.Int64Counter(
		"license_issue_failures_total",
		metric.WithDescription("Total number of aborted issuance batches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue failures counter: %w", err)
	}

	m.RedeemAttempts, err = meter.Int64Counter(
		"license_redeem_attempts_total",
		metric.WithDescription("Total number of redemption attempts by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redeem attempts counter: %w", err)
	}

	m.RedeemDuration, err = meter.Float64Histogram(
		"license_redeem_duration_seconds",
		metric.WithDescription("Redemption duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redeem duration histogram: %w", err)
	}

	m.RedeemAnomalies, err = meter.Int64Counter(
		"license_redeem_anomalies_total",
		metric.WithDescription("Keys consumed without a recorded entitlement"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redeem anomalies counter: %w", err)
	}

	m.QueryRequests, err = meter.Int64Counter(
		"license_entitlement_queries_total",
		metric.WithDescription("Total number of entitlement lookups by cache outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	m.KeysAvailable, err = meter.Int64Gauge(
		"license_keys_available",
		metric.WithDescription("Unredeemed keys by class"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keys available gauge: %w", err)
	}

	m.EntitlementsActive, err = meter.Int64Gauge(
		"license_entitlements_active",
		metric.WithDescription("Subjects with an active entitlement"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active entitlements gauge: %w", err)
	}

	return m, nil
}

// NoopMetrics returns instruments that record nothing
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

func tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// resultLabel names the outcome of an operation for metrics
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperrors.KindOf(err))
}

func (m *Metrics) recordRedeem(ctx context.Context, start time.Time, class string, err error) {
	attrs := metric.WithAttributes(
		attribute.String("result", resultLabel(err)),
		attribute.String("class", class),
	)
	m.RedeemAttempts.Add(ctx, 1, attrs)
	m.RedeemDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// endSpan records err on span and ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("license.error_kind", string(apperrors.KindOf(err))))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
