package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_BACKEND_BASE_URL": "https://api.example.com",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Backend.IdentityHeader != "x-user-email" {
		t.Errorf("expected default identity header, got %s", cfg.Backend.IdentityHeader)
	}
	if cfg.Backend.CartPath != "/cart" || cfg.Backend.OfferClaimPath != "/offers/claim" {
		t.Errorf("unexpected default paths: %+v", cfg.Backend)
	}
	if cfg.Store.Driver != StoreDriverFile || cfg.Store.FilePath != defaultStoreFilePath {
		t.Errorf("unexpected default store: %+v", cfg.Store)
	}
	if cfg.Offer.Ceiling != 30 {
		t.Errorf("expected default ceiling 30, got %d", cfg.Offer.Ceiling)
	}
	if cfg.Offer.PollInterval != 5*time.Second {
		t.Errorf("expected default poll interval 5s, got %s", cfg.Offer.PollInterval)
	}
	if cfg.Offer.FallbackCoupon != cfg.Offer.CouponCode {
		t.Errorf("expected fallback coupon to default to coupon code, got %q", cfg.Offer.FallbackCoupon)
	}
	if cfg.Offer.ResetEnabled {
		t.Errorf("expected offer reset to be disabled by default")
	}
	if cfg.Firebase.ProjectID != "" {
		t.Errorf("expected empty firebase project, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_SERVER_PORT":                  "9090",
		"STOREFRONT_SERVER_READ_TIMEOUT":          "20s",
		"STOREFRONT_BACKEND_BASE_URL":             "https://api.example.com/v1",
		"STOREFRONT_BACKEND_TIMEOUT":              "3s",
		"STOREFRONT_BACKEND_API_TOKEN":            "sm://backend-token",
		"STOREFRONT_BACKEND_IDENTITY_HEADER":      "x-shopper",
		"STOREFRONT_BACKEND_OFFER_SUBSCRIBE_PATH": "/newsletter/subscribe",
		"STOREFRONT_STORE_DRIVER":                 "REDIS",
		"STOREFRONT_STORE_REDIS_URL":              "secret://redis-url",
		"STOREFRONT_STORE_KEY_PREFIX":             "shop",
		"STOREFRONT_OFFER_CEILING":                "50",
		"STOREFRONT_OFFER_POLL_INTERVAL":          "2s",
		"STOREFRONT_OFFER_COUPON_CODE":            "HANKO50",
		"STOREFRONT_OFFER_FALLBACK_COUPON":        "HANKO-FALLBACK",
		"STOREFRONT_OFFER_RESET_ENABLED":          "true",
		"STOREFRONT_FIREBASE_PROJECT_ID":          "hf-prod",
		"STOREFRONT_LOG_LEVEL":                    "DEBUG",
	}

	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		switch ref {
		case "secret://backend-token":
			return "tkn-123\n", nil
		case "secret://redis-url":
			return "redis://localhost:6379/2", nil
		}
		return "", errors.New("unexpected ref")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Backend.Timeout != 3*time.Second {
		t.Errorf("unexpected backend timeout: %s", cfg.Backend.Timeout)
	}
	if cfg.Backend.APIToken != "tkn-123" {
		t.Errorf("expected resolved token, got %q", cfg.Backend.APIToken)
	}
	if cfg.Backend.IdentityHeader != "x-shopper" || cfg.Backend.OfferSubscribePath != "/newsletter/subscribe" {
		t.Errorf("unexpected backend config: %+v", cfg.Backend)
	}
	if cfg.Store.Driver != StoreDriverRedis || cfg.Store.RedisURL != "redis://localhost:6379/2" || cfg.Store.KeyPrefix != "shop" {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Offer.Ceiling != 50 || cfg.Offer.PollInterval != 2*time.Second {
		t.Errorf("unexpected offer config: %+v", cfg.Offer)
	}
	if cfg.Offer.CouponCode != "HANKO50" || cfg.Offer.FallbackCoupon != "HANKO-FALLBACK" {
		t.Errorf("unexpected coupons: %+v", cfg.Offer)
	}
	if !cfg.Offer.ResetEnabled {
		t.Errorf("expected offer reset to be enabled")
	}
	if cfg.Secrets.ProjectID != "hf-prod" {
		t.Errorf("expected secrets project to default to firebase project, got %s", cfg.Secrets.ProjectID)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected lower-cased log level, got %s", cfg.Log.Level)
	}
	if len(refs) != 2 {
		t.Errorf("expected two secret lookups, got %v", refs)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_BACKEND_BASE_URL": "not a url",
		"STOREFRONT_STORE_DRIVER":     "redis",
		"STOREFRONT_OFFER_CEILING":    "0",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	fields := validationErr.Fields()
	want := map[string]bool{"Backend.BaseURL": true, "Store.RedisURL": true, "Offer.Ceiling": true}
	if len(fields) != len(want) {
		t.Fatalf("unexpected fields: %v", fields)
	}
	for _, field := range fields {
		if !want[field] {
			t.Errorf("unexpected field %s", field)
		}
	}
}

func TestLoadUnknownStoreDriver(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_BACKEND_BASE_URL": "http://localhost:8000",
		"STOREFRONT_STORE_DRIVER":     "sqlite",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if fields := validationErr.Fields(); len(fields) != 1 || fields[0] != "Store.Driver" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_BACKEND_BASE_URL":  "http://localhost:8000",
		"STOREFRONT_BACKEND_API_TOKEN": "secret://backend-token",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if secretErr.Ref != "secret://backend-token" {
		t.Fatalf("unexpected ref %s", secretErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver-not-configured cause, got %v", err)
	}
}

func TestLoadReadsDotEnvWithPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\n" +
		"export STOREFRONT_BACKEND_BASE_URL=\"http://localhost:8000\"\n" +
		"STOREFRONT_SERVER_PORT=7070\n" +
		"STOREFRONT_OFFER_CEILING='12'\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	env := map[string]string{"STOREFRONT_SERVER_PORT": "6060"}
	cfg, err := Load(context.Background(), WithEnvFile(path), WithEnvMap(env), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("expected base url from dotenv, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected env map to win over dotenv, got %s", cfg.Server.Port)
	}
	if cfg.Offer.Ceiling != 12 {
		t.Errorf("expected ceiling from dotenv, got %d", cfg.Offer.Ceiling)
	}

	project, err := Lookup("SERVER_PORT", WithEnvFile(path), WithEnvMap(env), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if project != "6060" {
		t.Errorf("expected Lookup to share precedence, got %s", project)
	}
}
