package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/storefrontapp/storefront/internal/alerts"
	"github.com/storefrontapp/storefront/internal/auth"
	"github.com/storefrontapp/storefront/internal/cache"
	"github.com/storefrontapp/storefront/internal/catalog"
	"github.com/storefrontapp/storefront/internal/config"
	"github.com/storefrontapp/storefront/internal/db"
	"github.com/storefrontapp/storefront/internal/email"
	"github.com/storefrontapp/storefront/internal/gateway"
	"github.com/storefrontapp/storefront/internal/handlers"
	"github.com/storefrontapp/storefront/internal/logging"
	"github.com/storefrontapp/storefront/internal/pending"
	"github.com/storefrontapp/storefront/internal/services"
	"github.com/storefrontapp/storefront/internal/stripe"
	"github.com/storefrontapp/storefront/internal/worker"
)

// orphanGrace gives a concurrent finalizer in another process time to commit
// before a missing checkout is declared orphaned.
const orphanGrace = time.Second

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	Redis         *redis.Client
	CacheProvider cache.Provider
	PendingStore  pending.Store
	Reconciler    *services.Reconciler
	Worker        *worker.Reconciler
	Handlers      *handlers.Handlers
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	a := &App{Config: cfg, Logger: logger}

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = database

	if err := db.Migrate(startupCtx, database); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if cfg.CacheProvider == "redis" || cfg.PendingStoreProvider == "redis" {
		client, err := newRedisClient(startupCtx, cfg.RedisConnectionString)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
	}

	a.CacheProvider, err = cache.NewProvider(cache.Config{
		Provider:    cfg.CacheProvider,
		RedisClient: a.Redis,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	a.PendingStore, err = pending.NewStore(pending.Config{
		Provider:    cfg.PendingStoreProvider,
		RedisClient: a.Redis,
		Pool:        database,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize pending checkout store: %w", err)
	}

	paymentGateway, err := newGatewayClient(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize payment gateway: %w", err)
	}

	methods, err := catalog.LoadMethods(cfg.PaymentMethodsFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.EmailAPIKey,
		From:     cfg.EmailFrom,
		Domain:   cfg.EmailDomain,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	shopURL := cfg.ShopURL
	if shopURL == "" {
		shopURL = cfg.PublicBaseURL
	}
	notifier, err := services.NewEmailNotifier(emailProvider, services.ShopInfo{Name: cfg.ShopName, URL: shopURL}, methods)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize order notifier: %w", err)
	}

	var alerter services.OrphanAlerter
	if cfg.OpsAlertsEnabled() {
		reporter, err := alerts.NewGitHubReporter(alerts.Config{
			Token: cfg.OpsGitHubToken,
			Repo:  cfg.OpsGitHubRepo,
		}, logger.With("component", "ops_alerts"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize ops alerts: %w", err)
		}
		alerter = reporter
	}

	orderStore := db.NewOrderStore(database)
	a.Reconciler, err = services.NewReconciler(services.ReconcilerDeps{
		Ledger:       orderStore,
		Transactions: db.NewTransactionStore(database),
		Orphans:      db.NewOrphanStore(database),
		Pending:      a.PendingStore,
		Gateway:      paymentGateway,
		Markers:      a.CacheProvider,
		Notifier:     notifier,
		Alerter:      alerter,
		Methods:      methods,
	}, services.ReconcilerConfig{
		PublicBaseURL: cfg.PublicBaseURL,
		PendingTTL:    cfg.PendingCheckoutTTL,
		OrphanGrace:   orphanGrace,
	}, logger.With("component", "reconciler"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize reconciler: %w", err)
	}

	a.Worker, err = worker.NewReconciler(a.PendingStore, a.Reconciler, worker.Config{
		Interval:   cfg.ReconcileInterval,
		StaleAfter: cfg.ReconcileStaleAfter,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize reconcile worker: %w", err)
	}

	authenticator, err := auth.NewAuthenticator(cfg.AdminJWTSecret)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize admin auth: %w", err)
	}

	a.Handlers, err = handlers.New(handlers.Dependencies{
		DB:            database,
		Reconciler:    a.Reconciler,
		Gateway:       paymentGateway,
		CacheProvider: a.CacheProvider,
		Authenticator: authenticator,
		Logger:        logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info("application initialized",
		"payment_provider", paymentGateway.Name(),
		"pending_store", cfg.PendingStoreProvider,
		"cache_provider", cfg.CacheProvider,
		"email_provider", cfg.EmailProvider,
		"ops_alerts", cfg.OpsAlertsEnabled(),
	)
	return a, nil
}

// Close waits for queued customer emails before releasing connections.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Reconciler != nil {
		a.Reconciler.Wait()
	}
	if a.PendingStore != nil {
		closeQuietly(a.Logger, "pending checkout store", a.PendingStore.Close)
	}
	if a.CacheProvider != nil {
		closeQuietly(a.Logger, "cache provider", a.CacheProvider.Close)
	}
	if a.Redis != nil {
		closeQuietly(a.Logger, "redis client", a.Redis.Close)
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func newGatewayClient(cfg *config.Config) (gateway.Client, error) {
	if cfg.PaymentProvider == "stripe" {
		client, err := stripe.NewClient(stripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Currency:      cfg.StripeCurrency,
			ShopName:      cfg.ShopName,
			Timeout:       cfg.GatewayTimeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := gateway.NewHostedClient(gateway.HostedConfig{
		BaseURL:        cfg.GatewayBaseURL,
		MerchantID:     cfg.GatewayMerchantID,
		SaltKey:        cfg.GatewaySaltKey,
		SaltIndex:      cfg.GatewaySaltIndex,
		Timeout:        cfg.GatewayTimeout,
		VerifyWebhooks: cfg.VerifyWebhookSignature,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newRedisClient(ctx context.Context, connectionString string) (*redis.Client, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var console slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		console = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	default:
		console = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if cfg.SentryDSN == "" {
		return slog.New(console)
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelInfo},
	}.NewSentryHandler(context.Background())
	return slog.New(logging.MultiHandler(console, sentryHandler))
}

// closeQuietly tolerates a redis client already closed through a store that
// shares it.
func closeQuietly(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil && !errors.Is(err, redis.ErrClosed) && logger != nil {
		logger.Warn("failed to close "+name, "error", err)
	}
}
