package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultLogLevel            = "info"
	defaultBackendTimeout      = 8 * time.Second
	defaultIdentityHeader      = "x-user-email"
	defaultCartPath            = "/cart"
	defaultOfferRemainingPath  = "/offers/remaining"
	defaultOfferClaimPath      = "/offers/claim"
	defaultOfferSubscribePath  = "/offers/subscribe"
	defaultStoreDriver         = StoreDriverFile
	defaultStoreFilePath       = "var/storefront-store.yaml"
	defaultStoreKeyPrefix      = "storefront"
	defaultOfferCeiling        = 30
	defaultOfferPollInterval   = 5 * time.Second
	defaultOfferCouponCode     = "WELCOME30"
	defaultSecretsFallbackFile = ".secrets.local"
	envPrefix                  = "STOREFRONT_"
)

// Local store drivers.
const (
	StoreDriverMemory = "memory"
	StoreDriverFile   = "file"
	StoreDriverRedis  = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Backend  BackendConfig
	Store    StoreConfig
	Offer    OfferConfig
	Firebase FirebaseConfig
	Secrets  SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string
}

// BackendConfig locates the remote cart and offer services.
type BackendConfig struct {
	BaseURL            string
	Timeout            time.Duration
	APIToken           string
	IdentityHeader     string
	CartPath           string
	OfferRemainingPath string
	OfferClaimPath     string
	OfferSubscribePath string
}

// StoreConfig selects the persistent local store.
type StoreConfig struct {
	Driver    string
	FilePath  string
	RedisURL  string
	KeyPrefix string
}

// OfferConfig tunes the offer synchronizer.
type OfferConfig struct {
	Ceiling        int
	PollInterval   time.Duration
	CouponCode     string
	FallbackCoupon string
	// ResetEnabled exposes POST /offers/reset. Leave it off outside development.
	ResetEnabled bool
}

// FirebaseConfig stores Firebase project settings. An empty project enables development sessions
// that accept a plain email.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns a single value using the same precedence as Load (dotenv < OS env < env map).
// The key is given without the STOREFRONT_ prefix. It lets callers build the secret resolver
// before calling Load.
func Lookup(key string, opts ...Option) (string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	lookup, err := options.lookup()
	if err != nil {
		return "", err
	}
	value, _ := lookup(envPrefix + key)
	return strings.TrimSpace(value), nil
}

// Load assembles the storefront configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	raw, err := options.lookup()
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := raw(envPrefix + key)
		return strings.TrimSpace(value), ok
	}

	couponCode := stringWithDefault(lookup, "OFFER_COUPON_CODE", defaultOfferCouponCode)
	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Log: LogConfig{
			Level: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		},
		Backend: BackendConfig{
			BaseURL:            stringWithDefault(lookup, "BACKEND_BASE_URL", ""),
			Timeout:            durationWithDefault(lookup, "BACKEND_TIMEOUT", defaultBackendTimeout),
			APIToken:           stringWithDefault(lookup, "BACKEND_API_TOKEN", ""),
			IdentityHeader:     stringWithDefault(lookup, "BACKEND_IDENTITY_HEADER", defaultIdentityHeader),
			CartPath:           stringWithDefault(lookup, "BACKEND_CART_PATH", defaultCartPath),
			OfferRemainingPath: stringWithDefault(lookup, "BACKEND_OFFER_REMAINING_PATH", defaultOfferRemainingPath),
			OfferClaimPath:     stringWithDefault(lookup, "BACKEND_OFFER_CLAIM_PATH", defaultOfferClaimPath),
			OfferSubscribePath: stringWithDefault(lookup, "BACKEND_OFFER_SUBSCRIBE_PATH", defaultOfferSubscribePath),
		},
		Store: StoreConfig{
			Driver:    strings.ToLower(stringWithDefault(lookup, "STORE_DRIVER", defaultStoreDriver)),
			FilePath:  stringWithDefault(lookup, "STORE_FILE_PATH", defaultStoreFilePath),
			RedisURL:  stringWithDefault(lookup, "STORE_REDIS_URL", ""),
			KeyPrefix: stringWithDefault(lookup, "STORE_KEY_PREFIX", defaultStoreKeyPrefix),
		},
		Offer: OfferConfig{
			Ceiling:        intWithDefault(lookup, "OFFER_CEILING", defaultOfferCeiling),
			PollInterval:   durationWithDefault(lookup, "OFFER_POLL_INTERVAL", defaultOfferPollInterval),
			CouponCode:     couponCode,
			FallbackCoupon: stringWithDefault(lookup, "OFFER_FALLBACK_COUPON", couponCode),
			ResetEnabled:   boolWithDefault(lookup, "OFFER_RESET_ENABLED", false),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "FIREBASE_CREDENTIALS_FILE", ""),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
		},
	}

	// Secret Manager project defaults to the Firebase project when unspecified.
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firebase.ProjectID
	}

	secretFields := []*string{&cfg.Backend.APIToken, &cfg.Store.RedisURL}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
}

func (o loaderOptions) lookup() (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if o.envMap != nil {
			if value, ok := o.envMap[key]; ok {
				return value, true
			}
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Backend.BaseURL == "" {
		missing = append(missing, "Backend.BaseURL")
	} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "Backend.BaseURL")
	}
	if cfg.Backend.Timeout <= 0 {
		missing = append(missing, "Backend.Timeout")
	}
	switch cfg.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverFile:
		if cfg.Store.FilePath == "" {
			missing = append(missing, "Store.FilePath")
		}
	case StoreDriverRedis:
		if cfg.Store.RedisURL == "" {
			missing = append(missing, "Store.RedisURL")
		}
	default:
		missing = append(missing, "Store.Driver")
	}
	if cfg.Offer.Ceiling <= 0 {
		missing = append(missing, "Offer.Ceiling")
	}
	if cfg.Offer.PollInterval <= 0 {
		missing = append(missing, "Offer.PollInterval")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
