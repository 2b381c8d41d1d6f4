package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/commerce"
	"github.com/hanko-field/storefront/internal/handlers"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/projection"
	"github.com/hanko-field/storefront/internal/services"
	"github.com/hanko-field/storefront/internal/storage"
)

// Stores bundles the persistence backends selected by configuration.
type Stores struct {
	Orders      storage.OrderLog
	Carts       storage.CartCache
	Idempotency idempotency.Store
}

// Container wires the shared infrastructure every session is built from.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Stores   Stores
	Payments *payments.Manager
	Provider string
	Reporter *services.ErrorReporter
	Sessions *handlers.SessionRegistry

	breaker   *commerce.Breaker
	transport http.RoundTripper
	closers   []func(context.Context) error
}

// Option customises container construction, mainly for tests.
type Option func(*buildOptions)

type buildOptions struct {
	stores    *Stores
	payments  map[string]payments.Actions
	transport http.RoundTripper
	clock     func() time.Time
}

// WithStores bypasses backend selection and uses the provided stores.
func WithStores(stores Stores) Option {
	return func(o *buildOptions) {
		o.stores = &stores
	}
}

// WithPaymentProviders replaces the configured payment providers.
func WithPaymentProviders(providers map[string]payments.Actions) Option {
	return func(o *buildOptions) {
		o.payments = providers
	}
}

// WithTransport overrides the HTTP transport shared by commerce and processor clients.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *buildOptions) {
		o.transport = rt
	}
}

// WithClock overrides the clock used by sessions.
func WithClock(clock func() time.Time) Option {
	return func(o *buildOptions) {
		o.clock = clock
	}
}

// NewContainer constructs the runtime dependencies from cfg.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := buildOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	transport := options.transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	c := &Container{
		Config:    cfg,
		Logger:    logger,
		transport: transport,
		breaker:   commerce.NewBreaker("commerce", cfg.Commerce.BreakerMaxFailures, cfg.Commerce.BreakerOpenWindow),
	}

	if options.stores != nil {
		c.Stores = *options.stores
		if c.Stores.Idempotency == nil {
			c.Stores.Idempotency = idempotency.NewMemoryStore()
		}
	} else {
		stores, err := c.buildStores(ctx)
		if err != nil {
			_ = c.Close(context.Background())
			return nil, err
		}
		c.Stores = stores
	}

	providers := options.payments
	if providers == nil {
		built, err := c.buildPaymentProviders(options.clock)
		if err != nil {
			_ = c.Close(context.Background())
			return nil, err
		}
		providers = built
	}
	manager, err := payments.NewManager(providers, payments.WithDefaultProvider(cfg.Payments.Provider))
	if err != nil {
		_ = c.Close(context.Background())
		return nil, fmt.Errorf("build payments manager: %w", err)
	}
	provider, _, err := manager.Resolve(cfg.Payments.Provider)
	if err != nil {
		_ = c.Close(context.Background())
		return nil, fmt.Errorf("resolve payment provider: %w", err)
	}
	c.Payments = manager
	c.Provider = provider

	reporter, err := services.NewErrorReporter(logger.Named("reporter"))
	if err != nil {
		_ = c.Close(context.Background())
		return nil, fmt.Errorf("build error reporter: %w", err)
	}
	c.Reporter = reporter

	var block []byte
	if key := strings.TrimSpace(cfg.Session.BlockKey); key != "" {
		block = []byte(key)
	}
	sessions, err := handlers.NewSessionRegistry(c.sessionFactory(options.clock), handlers.SessionOptions{
		CookieName: cfg.Session.CookieName,
		HashKey:    []byte(cfg.Session.HashKey),
		BlockKey:   block,
		Secure:     cfg.Session.Secure,
		IdleTTL:    cfg.Session.IdleTTL,
		Logger:     logger.Named("sessions"),
		Clock:      options.clock,
	})
	if err != nil {
		_ = c.Close(context.Background())
		return nil, fmt.Errorf("build session registry: %w", err)
	}
	c.Sessions = sessions

	return c, nil
}

// Router builds the HTTP handler serving every storefront route.
func (c *Container) Router(mw ...func(http.Handler) http.Handler) http.Handler {
	return handlers.NewRouter(
		handlers.WithMiddlewares(mw...),
		handlers.WithSessions(c.Sessions),
		handlers.WithCartRoutes(handlers.NewCartHandlers().Routes),
		handlers.WithAuthRoutes(handlers.NewAuthHandlers().Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(
			handlers.WithSimulation(c.Config.Payments.SimulationEnabled || c.Provider == payments.ProviderSimulated),
			handlers.WithIdempotency(c.Stores.Idempotency),
		).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(c.Stores.Orders).Routes),
	)
}

// Close releases backend clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) buildStores(ctx context.Context) (Stores, error) {
	cfg := c.Config.Storage
	var stores Stores

	var (
		redisClient *redis.Client
		redisStore  *storage.RedisStore
		fsClient    *firestore.Client
	)
	if cfg.OrderLogBackend == "redis" || cfg.CartCacheBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return Stores{}, fmt.Errorf("connect redis: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		redisClient = client
		redisStore = storage.NewRedisStore(client, cfg.RedisKeyPrefix, cfg.CartCacheTTL)
	}

	switch cfg.OrderLogBackend {
	case "redis":
		stores.Orders = redisStore
	case "mongo":
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return Stores{}, err
		}
		c.closers = append(c.closers, func(ctx context.Context) error { return disconnectMongo(ctx, db) })
		log := storage.NewMongoOrderLog(db)
		if err := log.EnsureIndexes(ctx); err != nil {
			return Stores{}, err
		}
		stores.Orders = log
	case "firestore":
		client, err := storage.OpenFirestore(ctx, cfg.FirestoreProjectID, cfg.FirestoreEmulator)
		if err != nil {
			return Stores{}, err
		}
		c.closers = append(c.closers, func(context.Context) error { return closeFirestore(client) })
		fsClient = client
		stores.Orders = storage.NewFirestoreOrderLog(client, cfg.FirestoreCollection)
	default:
		stores.Orders = storage.NewMemoryOrderLog()
	}

	switch cfg.CartCacheBackend {
	case "redis":
		stores.Carts = redisStore
	default:
		stores.Carts = storage.NewMemoryCartCache(cfg.CartCacheTTL)
	}

	// Idempotency keys follow the shared backends so replays survive across instances.
	idempotencyBackend := "memory"
	switch {
	case redisClient != nil:
		idempotencyBackend = "redis"
		stores.Idempotency = idempotency.NewRedisStore(redisClient, cfg.RedisKeyPrefix)
	case fsClient != nil:
		idempotencyBackend = "firestore"
		stores.Idempotency = idempotency.NewFirestoreStore(fsClient)
	default:
		stores.Idempotency = idempotency.NewMemoryStore()
	}

	c.Logger.Info("storage configured",
		zap.String("orderLog", cfg.OrderLogBackend),
		zap.String("cartCache", cfg.CartCacheBackend),
		zap.String("idempotency", idempotencyBackend),
	)
	return stores, nil
}

func disconnectMongo(ctx context.Context, db *mongo.Database) error {
	return db.Client().Disconnect(ctx)
}

func closeFirestore(client *firestore.Client) error {
	return client.Close()
}

func (c *Container) buildPaymentProviders(clock func() time.Time) (map[string]payments.Actions, error) {
	cfg := c.Config.Payments
	logger := PaymentLogger(c.Logger.Named("payments"))
	providers := map[string]payments.Actions{}

	if cfg.PayPalClientID != "" && cfg.PayPalSecret != "" {
		paypal, err := payments.NewPayPalActions(payments.PayPalConfig{
			BaseURL:      cfg.PayPalBaseURL,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalSecret,
			HTTPClient:   &http.Client{Transport: c.transport},
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build paypal provider: %w", err)
		}
		providers[payments.ProviderPayPal] = paypal
	}
	if cfg.StripeAPIKey != "" {
		stripe, err := payments.NewStripeActions(payments.StripeConfig{
			APIKey: cfg.StripeAPIKey,
			Logger: logger,
			Clock:  clock,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers[payments.ProviderStripe] = stripe
	}
	if cfg.Provider == payments.ProviderSimulated || cfg.SimulationEnabled {
		providers[payments.ProviderSimulated] = payments.NewSimulatedActions(clock)
	}
	if len(providers) == 0 {
		return nil, errors.New("no payment provider configured")
	}
	return providers, nil
}

// PaymentLogger adapts zap to the payments event logger.
func PaymentLogger(logger *zap.Logger) payments.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zapFields = append(zapFields, zap.Any(k, v))
		}
		logger.Info(event, zapFields...)
	}
}

// sessionFactory builds one application context per browser session: its own commerce client
// (and cookie jar), cart engine, board and checkout orchestrator. The breaker and transport are
// shared because every session talks to the same commerce API.
func (c *Container) sessionFactory(clock func() time.Time) handlers.SessionFactory {
	return func(ctx context.Context, id string) (*handlers.Session, error) {
		logger := c.Logger.With(zap.String("session", id))

		client, err := commerce.NewClient(c.Config.Commerce.BaseURL,
			commerce.WithHTTPClient(&http.Client{Transport: c.transport}),
			commerce.WithBreaker(c.breaker),
			commerce.WithCSRFMetaToken(c.Config.Commerce.CSRFMetaToken),
			commerce.WithLogger(logger.Named("commerce")),
		)
		if err != nil {
			return nil, fmt.Errorf("build commerce client: %w", err)
		}

		board := projection.NewReadyBoard()
		engine, err := services.NewCartSyncEngine(services.CartSyncDeps{
			Client:    client,
			Bonus:     client,
			Projector: board,
			Reporter:  c.Reporter,
			Cache:     c.Stores.Carts,
			Scope:     id,
			Logger:    logger.Named("carts"),
			Clock:     clock,
		})
		if err != nil {
			return nil, fmt.Errorf("build cart engine: %w", err)
		}

		_, actions, err := c.Payments.Resolve(c.Provider)
		if err != nil {
			return nil, err
		}
		gateway, err := payments.NewGateway(actions,
			payments.WithCurrency(c.Config.Payments.Currency),
			payments.WithClock(clock),
			payments.WithGatewayLogger(PaymentLogger(logger.Named("gateway"))),
		)
		if err != nil {
			return nil, fmt.Errorf("build payment gateway: %w", err)
		}

		orch, err := services.NewCheckoutOrchestrator(services.CheckoutDeps{
			Carts:     engine,
			Gateway:   gateway,
			Backend:   client,
			Orders:    c.Stores.Orders,
			Projector: board,
			Reporter:  c.Reporter,
			Scope:     id,
			Logger:    logger.Named("checkout"),
			Clock:     clock,
		})
		if err != nil {
			return nil, fmt.Errorf("build checkout orchestrator: %w", err)
		}
		engine.Subscribe(orch.OnCartChange)

		if err := engine.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialise carts: %w", err)
		}

		return &handlers.Session{
			Auth:     client,
			Carts:    engine,
			Checkout: orch,
			Board:    board,
		}, nil
	}
}
