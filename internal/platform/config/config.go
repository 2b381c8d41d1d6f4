package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultCommerceBaseURL   = "http://localhost:8000/api"
	defaultBreakerFailures   = 5
	defaultBreakerOpenWindow = 30 * time.Second
	defaultPaymentProvider   = "simulated"
	defaultCurrency          = "USD"
	defaultPayPalBaseURL     = "https://api-m.sandbox.paypal.com"
	defaultOrderLogBackend   = "memory"
	defaultCartCacheBackend  = "memory"
	defaultCartCacheTTL      = 24 * time.Hour
	defaultRedisKeyPrefix    = "storefront"
	defaultMongoDatabase     = "storefront"
	defaultFirestoreOrders   = "storefront_orders"
	defaultSessionCookie     = "storefront_session"
	defaultSessionIdleTTL    = 2 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Commerce CommerceConfig
	Payments PaymentsConfig
	Storage  StorageConfig
	Session  SessionConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// CommerceConfig points at the remote cart/auth/order API.
type CommerceConfig struct {
	BaseURL            string
	CSRFMetaToken      string
	BreakerMaxFailures int
	BreakerOpenWindow  time.Duration
}

// PaymentsConfig selects the payment processor and holds its credentials.
type PaymentsConfig struct {
	Provider          string
	Currency          string
	PayPalBaseURL     string
	PayPalClientID    string
	PayPalSecret      string
	StripeAPIKey      string
	SimulationEnabled bool
}

// StorageConfig selects the order log and cart cache backends.
type StorageConfig struct {
	OrderLogBackend     string
	CartCacheBackend    string
	CartCacheTTL        time.Duration
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisKeyPrefix      string
	MongoURI            string
	MongoDatabase       string
	FirestoreProjectID  string
	FirestoreCollection string
	FirestoreEmulator   string
}

// SessionConfig controls the signed browser session cookie.
type SessionConfig struct {
	CookieName string
	HashKey    string
	BlockKey   string
	Secure     bool
	IdleTTL    time.Duration
}

// SecretResolver resolves references to external secrets.
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

// WithEnvMap injects an explicit key/value map that takes precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references. Without one, any
// secret:// value fails Load with a *SecretError.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the storefront configuration from defaults, a .env file, the process
// environment and explicit overrides, in increasing order of precedence. Values of the form
// secret://... are passed to the configured SecretResolver; an unresolved reference is
// returned as a *SecretError rather than being kept as a literal value.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "STOREFRONT_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Commerce: CommerceConfig{
			BaseURL:            strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_COMMERCE_BASE_URL", defaultCommerceBaseURL), "/"),
			CSRFMetaToken:      stringWithDefault(lookup, "STOREFRONT_COMMERCE_CSRF_TOKEN", ""),
			BreakerMaxFailures: intWithDefault(lookup, "STOREFRONT_COMMERCE_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerOpenWindow:  durationWithDefault(lookup, "STOREFRONT_COMMERCE_BREAKER_WINDOW", defaultBreakerOpenWindow),
		},
		Payments: PaymentsConfig{
			Provider:          strings.ToLower(stringWithDefault(lookup, "STOREFRONT_PAYMENTS_PROVIDER", defaultPaymentProvider)),
			Currency:          strings.ToUpper(stringWithDefault(lookup, "STOREFRONT_PAYMENTS_CURRENCY", defaultCurrency)),
			PayPalBaseURL:     stringWithDefault(lookup, "STOREFRONT_PAYPAL_BASE_URL", defaultPayPalBaseURL),
			PayPalClientID:    stringWithDefault(lookup, "STOREFRONT_PAYPAL_CLIENT_ID", ""),
			PayPalSecret:      stringWithDefault(lookup, "STOREFRONT_PAYPAL_SECRET", ""),
			StripeAPIKey:      stringWithDefault(lookup, "STOREFRONT_STRIPE_API_KEY", ""),
			SimulationEnabled: boolWithDefault(lookup, "STOREFRONT_PAYMENTS_SIMULATION", false),
		},
		Storage: StorageConfig{
			OrderLogBackend:     strings.ToLower(stringWithDefault(lookup, "STOREFRONT_ORDERLOG_BACKEND", defaultOrderLogBackend)),
			CartCacheBackend:    strings.ToLower(stringWithDefault(lookup, "STOREFRONT_CARTCACHE_BACKEND", defaultCartCacheBackend)),
			CartCacheTTL:        durationWithDefault(lookup, "STOREFRONT_CARTCACHE_TTL", defaultCartCacheTTL),
			RedisAddr:           stringWithDefault(lookup, "STOREFRONT_REDIS_ADDR", ""),
			RedisPassword:       stringWithDefault(lookup, "STOREFRONT_REDIS_PASSWORD", ""),
			RedisDB:             intWithDefault(lookup, "STOREFRONT_REDIS_DB", 0),
			RedisKeyPrefix:      stringWithDefault(lookup, "STOREFRONT_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
			MongoURI:            stringWithDefault(lookup, "STOREFRONT_MONGO_URI", ""),
			MongoDatabase:       stringWithDefault(lookup, "STOREFRONT_MONGO_DATABASE", defaultMongoDatabase),
			FirestoreProjectID:  stringWithDefault(lookup, "STOREFRONT_FIRESTORE_PROJECT_ID", ""),
			FirestoreCollection: stringWithDefault(lookup, "STOREFRONT_FIRESTORE_COLLECTION", defaultFirestoreOrders),
			FirestoreEmulator:   stringWithDefault(lookup, "STOREFRONT_FIRESTORE_EMULATOR_HOST", ""),
		},
		Session: SessionConfig{
			CookieName: stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE", defaultSessionCookie),
			HashKey:    stringWithDefault(lookup, "STOREFRONT_SESSION_HASH_KEY", ""),
			BlockKey:   stringWithDefault(lookup, "STOREFRONT_SESSION_BLOCK_KEY", ""),
			Secure:     boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", true),
			IdleTTL:    durationWithDefault(lookup, "STOREFRONT_SESSION_IDLE_TTL", defaultSessionIdleTTL),
		},
	}

	secretFields := []*string{
		&cfg.Payments.PayPalSecret,
		&cfg.Payments.StripeAPIKey,
		&cfg.Storage.RedisPassword,
		&cfg.Storage.MongoURI,
		&cfg.Session.HashKey,
		&cfg.Session.BlockKey,
	}
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

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Commerce.BaseURL == "" {
		missing = append(missing, "Commerce.BaseURL")
	}
	if cfg.Commerce.BreakerMaxFailures <= 0 {
		missing = append(missing, "Commerce.BreakerMaxFailures")
	}

	switch cfg.Payments.Provider {
	case "paypal":
		if cfg.Payments.PayPalClientID == "" {
			missing = append(missing, "Payments.PayPalClientID")
		}
		if cfg.Payments.PayPalSecret == "" {
			missing = append(missing, "Payments.PayPalSecret")
		}
	case "stripe":
		if cfg.Payments.StripeAPIKey == "" {
			missing = append(missing, "Payments.StripeAPIKey")
		}
	case "simulated":
	default:
		missing = append(missing, "Payments.Provider")
	}

	needsRedis := cfg.Storage.CartCacheBackend == "redis" || cfg.Storage.OrderLogBackend == "redis"
	switch cfg.Storage.OrderLogBackend {
	case "memory", "redis":
	case "mongo":
		if cfg.Storage.MongoURI == "" {
			missing = append(missing, "Storage.MongoURI")
		}
	case "firestore":
		if cfg.Storage.FirestoreProjectID == "" {
			missing = append(missing, "Storage.FirestoreProjectID")
		}
	default:
		missing = append(missing, "Storage.OrderLogBackend")
	}
	switch cfg.Storage.CartCacheBackend {
	case "memory", "redis":
	default:
		missing = append(missing, "Storage.CartCacheBackend")
	}
	if needsRedis && cfg.Storage.RedisAddr == "" {
		missing = append(missing, "Storage.RedisAddr")
	}
	if cfg.Storage.CartCacheTTL <= 0 {
		missing = append(missing, "Storage.CartCacheTTL")
	}

	if len(cfg.Session.HashKey) < 32 {
		missing = append(missing, "Session.HashKey")
	}
	if n := len(cfg.Session.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		missing = append(missing, "Session.BlockKey")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: trimmed, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, trimmed)
	if err != nil {
		return "", &SecretError{Ref: trimmed, Err: err}
	}
	return secret, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
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
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
