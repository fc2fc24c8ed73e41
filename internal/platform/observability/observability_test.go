package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

func TestRequestLoggerMiddleware_LogsRouteAndHashedIdentity(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	r := chi.NewRouter()
	r.Use(InjectLoggerMiddleware(zap.New(core)))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(requestctx.WithIdentity(req.Context(), "a@example.com")))
		})
	})
	r.Use(RequestLoggerMiddleware())
	r.Get("/cart/items/{productID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart/items/abc", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "/cart/items/{productID}", fields["route"])
	require.EqualValues(t, http.StatusTeapot, fields["status"])
	require.NotEqual(t, "a@example.com", fields["identity"])
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestRecoveryMiddleware_WritesJSONError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offers", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "internal_server_error", payload["error"])
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestIdentityField(t *testing.T) {
	t.Parallel()

	require.Equal(t, "anonymous", IdentityField("").String)
	hashed := IdentityField("a@example.com").String
	require.Len(t, hashed, 12)
	require.Equal(t, hashed, IdentityField("a@example.com").String)
	require.NotEqual(t, hashed, IdentityField("b@example.com").String)
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("chatty")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestSyncMetrics_NilSafeAndNoopMeter(t *testing.T) {
	t.Parallel()

	var nilMetrics *SyncMetrics
	require.NotPanics(t, func() {
		nilMetrics.RemoteFailure(context.Background(), "cart.save")
		nilMetrics.Fallback(context.Background(), "cart.load")
		nilMetrics.Claim(context.Background(), "claimed")
	})

	metrics, err := NewSyncMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	require.NotPanics(t, func() {
		metrics.RemoteFailure(context.Background(), "offer.refresh")
		metrics.Claim(context.Background(), "optimistic")
	})
}
