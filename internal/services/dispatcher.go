package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/observability"
)

// dispatcher runs best-effort remote writes. A failed write is logged and counted, never
// retried or reported to the caller. The write outlives the caller's context cancellation
// because the local state it mirrors has already been committed.
type dispatcher struct {
	logger  *zap.Logger
	metrics *observability.SyncMetrics
	wg      sync.WaitGroup
}

func newDispatcher(logger *zap.Logger, metrics *observability.SyncMetrics) *dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dispatcher{logger: logger, metrics: metrics}
}

func (d *dispatcher) dispatch(ctx context.Context, op, identity string, write func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := write(ctx); err != nil {
			d.metrics.RemoteFailure(ctx, op)
			d.logger.Warn("best-effort remote write failed",
				zap.String("operation", op),
				observability.IdentityField(identity),
				zap.Error(err),
			)
		}
	}()
}

// wait blocks until every dispatched write has returned.
func (d *dispatcher) wait() {
	d.wg.Wait()
}
