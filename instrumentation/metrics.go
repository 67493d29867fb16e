package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the credential store.
type Metrics struct {
	// Store operation metrics
	StoreOperationTotal    metric.Int64Counter
	StoreOperationDuration metric.Float64Histogram

	// Credential lifecycle metrics
	TokensIssued       metric.Int64Counter
	TokensRevoked      metric.Int64Counter
	CodesConsumed      metric.Int64Counter
	CascadeRevocations metric.Int64Counter

	// Operability metrics
	CorruptAuthentications metric.Int64Counter

	// Collection size gauges
	StoreAccessTokensCount  metric.Int64ObservableGauge
	StoreRefreshTokensCount metric.Int64ObservableGauge
	StoreCodesCount         metric.Int64ObservableGauge
	StoreClientsCount       metric.Int64ObservableGauge
	StorePartnerTokensCount metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	meter := inst.Meter("store")

	var err error
	m.StoreOperationTotal, err = meter.Int64Counter(
		"oauth.store.operations.total",
		metric.WithDescription("Total number of credential store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.operations.total counter: %w", err)
	}

	m.StoreOperationDuration, err = meter.Float64Histogram(
		"oauth.store.operation.duration",
		metric.WithDescription("Credential store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.operation.duration histogram: %w", err)
	}

	m.TokensIssued, err = meter.Int64Counter(
		"oauth.store.tokens.issued",
		metric.WithDescription("Number of tokens persisted at issuance"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.tokens.issued counter: %w", err)
	}

	m.TokensRevoked, err = meter.Int64Counter(
		"oauth.store.tokens.revoked",
		metric.WithDescription("Number of tokens removed by revocation"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.tokens.revoked counter: %w", err)
	}

	m.CodesConsumed, err = meter.Int64Counter(
		"oauth.store.codes.consumed",
		metric.WithDescription("Number of authorization codes consumed"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.codes.consumed counter: %w", err)
	}

	m.CascadeRevocations, err = meter.Int64Counter(
		"oauth.store.cascade.revocations",
		metric.WithDescription("Number of refresh-token cascade revocations"),
		metric.WithUnit("{cascade}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.cascade.revocations counter: %w", err)
	}

	m.CorruptAuthentications, err = meter.Int64Counter(
		"oauth.store.authentications.corrupt",
		metric.WithDescription("Number of stored authentication contexts that failed to decode"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.authentications.corrupt counter: %w", err)
	}

	m.StoreAccessTokensCount, err = meter.Int64ObservableGauge(
		"oauth.store.access_tokens.count",
		metric.WithDescription("Current number of access token records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.access_tokens.count gauge: %w", err)
	}

	m.StoreRefreshTokensCount, err = meter.Int64ObservableGauge(
		"oauth.store.refresh_tokens.count",
		metric.WithDescription("Current number of refresh token records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.refresh_tokens.count gauge: %w", err)
	}

	m.StoreCodesCount, err = meter.Int64ObservableGauge(
		"oauth.store.codes.count",
		metric.WithDescription("Current number of pending authorization codes"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.codes.count gauge: %w", err)
	}

	m.StoreClientsCount, err = meter.Int64ObservableGauge(
		"oauth.store.clients.count",
		metric.WithDescription("Current number of registered clients"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.clients.count gauge: %w", err)
	}

	m.StorePartnerTokensCount, err = meter.Int64ObservableGauge(
		"oauth.store.partner_tokens.count",
		metric.WithDescription("Current number of partner token records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.partner_tokens.count gauge: %w", err)
	}

	return m, nil
}

// RecordStoreOperation records one credential store operation.
func (m *Metrics) RecordStoreOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StoreOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StoreOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordTokenIssued records a persisted token of the given kind
// ("access", "refresh", "partner").
func (m *Metrics) RecordTokenIssued(ctx context.Context, kind string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTokensRevoked records count tokens removed by revocation.
func (m *Metrics) RecordTokensRevoked(ctx context.Context, kind string, count int64) {
	m.TokensRevoked.Add(ctx, count, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCodeConsumed records a successful authorization code consumption.
func (m *Metrics) RecordCodeConsumed(ctx context.Context) {
	m.CodesConsumed.Add(ctx, 1)
}

// RecordCascadeRevocation records a refresh-token cascade that removed count
// access tokens.
func (m *Metrics) RecordCascadeRevocation(ctx context.Context, count int64) {
	m.CascadeRevocations.Add(ctx, 1)
	m.TokensRevoked.Add(ctx, count, metric.WithAttributes(attribute.String("kind", "access")))
}

// RecordCorruptAuthentication records a stored authentication context that
// failed to decode.
func (m *Metrics) RecordCorruptAuthentication(ctx context.Context) {
	m.CorruptAuthentications.Add(ctx, 1)
}
