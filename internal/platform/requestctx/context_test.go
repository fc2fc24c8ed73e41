package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	t.Parallel()
	require.NotNil(t, Logger(context.Background()))
	require.Same(t, noopLogger, Logger(context.Background()))
}

func TestLoggerRoundTrip(t *testing.T) {
	t.Parallel()
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	require.Same(t, logger, Logger(ctx))
}

func TestIdentityRoundTrip(t *testing.T) {
	t.Parallel()
	_, ok := Identity(context.Background())
	require.False(t, ok)

	ctx := WithIdentity(context.Background(), "a@example.com")
	identity, ok := Identity(ctx)
	require.True(t, ok)
	require.Equal(t, "a@example.com", identity)
}
