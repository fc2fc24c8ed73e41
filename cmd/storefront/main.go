package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/handlers"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/localstore"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/secrets"
	"github.com/hanko-field/storefront/internal/remote"
	"github.com/hanko-field/storefront/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "storefront: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level, err := config.Lookup("LOG_LEVEL")
	if err != nil {
		return fmt.Errorf("read log level: %w", err)
	}
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var validationErr *config.ValidationError
		if errors.As(err, &validationErr) {
			logger.Error("invalid configuration", zap.Strings("fields", validationErr.Fields()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("local store close error", zap.Error(err))
			}
		}()
	}
	keys := localstore.NewNamespace(cfg.Store.KeyPrefix)

	transport := httpx.NewClient(cfg.Backend.BaseURL,
		httpx.WithTimeout(cfg.Backend.Timeout),
		httpx.WithIdentityHeader(cfg.Backend.IdentityHeader),
		httpx.WithBearerToken(cfg.Backend.APIToken),
	)
	cartRemote, err := remote.NewCartClient(transport, cfg.Backend.CartPath)
	if err != nil {
		return fmt.Errorf("initialise cart client: %w", err)
	}
	offerRemote, err := remote.NewOfferClient(transport, remote.OfferPaths{
		Remaining: cfg.Backend.OfferRemainingPath,
		Claim:     cfg.Backend.OfferClaimPath,
		Subscribe: cfg.Backend.OfferSubscribePath,
	})
	if err != nil {
		return fmt.Errorf("initialise offer client: %w", err)
	}

	metrics, err := observability.NewSyncMetrics(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	carts, err := services.NewCartSynchronizer(services.CartSynchronizerDeps{
		Store:   store,
		Remote:  cartRemote,
		Keys:    keys,
		Logger:  logger.Named("cart"),
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("initialise cart synchronizer: %w", err)
	}
	carts.Load(ctx, "")

	offers, err := services.NewOfferSynchronizer(ctx, services.OfferSynchronizerDeps{
		Store:          store,
		Remote:         offerRemote,
		Keys:           keys,
		Ceiling:        cfg.Offer.Ceiling,
		Interval:       cfg.Offer.PollInterval,
		CouponCode:     cfg.Offer.CouponCode,
		FallbackCoupon: cfg.Offer.FallbackCoupon,
		Logger:         logger.Named("offer"),
		Metrics:        metrics,
	})
	if err != nil {
		return fmt.Errorf("initialise offer synchronizer: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.Firebase.ProjectID != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, cfg.Backend.Timeout)
		if err != nil {
			return fmt.Errorf("initialise firebase verifier: %w", err)
		}
		verifier = firebaseVerifier
	} else {
		logger.Warn("firebase project not configured; accepting plain email sessions")
	}
	session := auth.NewSession(verifier, logger.Named("session"))
	session.OnChange(func(ctx context.Context, identity string) {
		carts.Load(ctx, identity)
	})
	session.OnChange(func(ctx context.Context, identity string) {
		offers.SwitchIdentity(ctx, identity)
	})

	offers.Start(ctx)
	defer offers.Stop()
	if cfg.Offer.ResetEnabled {
		logger.Warn("offer reset endpoint enabled; do not expose this deployment publicly")
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			handlers.IdentityMiddleware(session),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithSessionRoutes(handlers.NewSessionHandlers(session).Routes),
		handlers.WithCartRoutes(handlers.NewCartHandlers(carts).Routes),
		handlers.WithOfferRoutes(handlers.NewOfferHandlers(offers, handlers.WithOfferReset(cfg.Offer.ResetEnabled)).Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	serveErr := make(chan error, 1)
	go func() {
		serverLogger.Info("storefront listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received; draining requests")
	}

	offers.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	drainWrites(carts, cfg.Server.ShutdownTimeout, logger)
	return nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project, err := config.Lookup("SECRETS_PROJECT_ID")
	if err != nil {
		return nil, err
	}
	if project == "" {
		if project, err = config.Lookup("FIREBASE_PROJECT_ID"); err != nil {
			return nil, err
		}
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	fallback, err := config.Lookup("SECRETS_FALLBACK_FILE")
	if err != nil {
		return nil, err
	}
	if fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (localstore.Store, error) {
	switch cfg.Driver {
	case config.StoreDriverMemory:
		return localstore.NewMemoryStore(), nil
	case config.StoreDriverRedis:
		// Keys are already namespaced, so the client adds no prefix of its own.
		return localstore.NewRedisStore(ctx, cfg.RedisURL, "")
	default:
		return localstore.OpenFileStore(cfg.FilePath)
	}
}

// drainWrites waits for best-effort remote writes, giving up after timeout.
func drainWrites(carts *services.CartSynchronizer, timeout time.Duration, logger *zap.Logger) {
	done := make(chan struct{})
	go func() {
		carts.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("timed out waiting for pending cart writes")
	}
}
