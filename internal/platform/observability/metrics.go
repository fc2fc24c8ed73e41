package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hanko-field/storefront/internal/platform/observability"

// SyncMetrics counts synchronization outcomes. A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	remoteFailures metric.Int64Counter
	fallbacks      metric.Int64Counter
	claims         metric.Int64Counter
}

// NewSyncMetrics registers the counters on meter, or on the global meter provider when meter is nil.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	remoteFailures, err := meter.Int64Counter("storefront.sync.remote_failures",
		metric.WithDescription("Remote cart/offer calls that failed and were absorbed by the synchronizer"))
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter("storefront.sync.fallbacks",
		metric.WithDescription("Operations answered from local state because the remote was unavailable"))
	if err != nil {
		return nil, err
	}
	claims, err := meter.Int64Counter("storefront.offer.claims",
		metric.WithDescription("Offer claim attempts by outcome"))
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{remoteFailures: remoteFailures, fallbacks: fallbacks, claims: claims}, nil
}

// RemoteFailure records a failed remote call for operation op.
func (m *SyncMetrics) RemoteFailure(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.remoteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// Fallback records that op was served from local state.
func (m *SyncMetrics) Fallback(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// Claim records a claim attempt outcome.
func (m *SyncMetrics) Claim(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.claims.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
