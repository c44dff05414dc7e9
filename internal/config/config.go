package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	PaymentProvider        string        `env:"PAYMENT_PROVIDER" envDefault:"hosted" validate:"oneof=hosted stripe"`
	GatewayBaseURL         string        `env:"GATEWAY_BASE_URL" validate:"required_if=PaymentProvider hosted"`
	GatewayMerchantID      string        `env:"GATEWAY_MERCHANT_ID" validate:"required_if=PaymentProvider hosted"`
	GatewaySaltKey         string        `env:"GATEWAY_SALT_KEY" validate:"required_if=PaymentProvider hosted"`
	GatewaySaltIndex       int           `env:"GATEWAY_SALT_INDEX" envDefault:"1" validate:"gte=1"`
	GatewayTimeout         time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	VerifyWebhookSignature bool          `env:"GATEWAY_VERIFY_WEBHOOK_SIGNATURE" envDefault:"true"`
	StripeSecretKey        string        `env:"STRIPE_SECRET_KEY" validate:"required_if=PaymentProvider stripe"`
	StripeWebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET" validate:"required_if=PaymentProvider stripe"`
	StripeCurrency         string        `env:"STRIPE_CURRENCY" envDefault:"inr" validate:"omitempty,len=3"`

	PublicBaseURL string `env:"PUBLIC_BASE_URL,required" validate:"required,url"`

	PendingStoreProvider string        `env:"PENDING_STORE_PROVIDER" envDefault:"postgres" validate:"oneof=memory redis postgres"`
	PendingCheckoutTTL   time.Duration `env:"PENDING_CHECKOUT_TTL" envDefault:"30m" validate:"gt=0"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis,required_if=PendingStoreProvider redis"`

	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"none" validate:"oneof=resend postmark mailgun none"`
	EmailAPIKey   string `env:"EMAIL_API_KEY"`
	EmailFrom     string `env:"EMAIL_FROM"`
	EmailDomain   string `env:"EMAIL_DOMAIN" validate:"required_if=EmailProvider mailgun"`
	ShopName      string `env:"SHOP_NAME" envDefault:"Storefront"`
	ShopURL       string `env:"SHOP_URL" validate:"omitempty,url"`

	AdminJWTSecret     string `env:"ADMIN_JWT_SECRET,required" validate:"required,min=32"`
	PaymentMethodsFile string `env:"PAYMENT_METHODS_FILE"`

	OpsGitHubToken string `env:"OPS_GITHUB_TOKEN"`
	OpsGitHubRepo  string `env:"OPS_GITHUB_REPO"`

	SentryDSN         string `env:"SENTRY_DSN"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"development"`

	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m" validate:"gt=0"`
	ReconcileStaleAfter time.Duration `env:"RECONCILE_STALE_AFTER" envDefault:"5m" validate:"gt=0"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

// Load reads the environment, after filling unset variables from a local
// .env file when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if c.EmailProvider != "none" {
		if strings.TrimSpace(c.EmailAPIKey) == "" {
			return fmt.Errorf("EMAIL_API_KEY is required when EMAIL_PROVIDER is %s", c.EmailProvider)
		}
		if strings.TrimSpace(c.EmailFrom) == "" {
			return fmt.Errorf("EMAIL_FROM is required when EMAIL_PROVIDER is %s", c.EmailProvider)
		}
	}

	hasOpsToken := strings.TrimSpace(c.OpsGitHubToken) != ""
	hasOpsRepo := strings.TrimSpace(c.OpsGitHubRepo) != ""
	if hasOpsToken != hasOpsRepo {
		return fmt.Errorf("OPS_GITHUB_TOKEN and OPS_GITHUB_REPO must be set together")
	}

	if c.ReconcileStaleAfter >= c.PendingCheckoutTTL {
		return fmt.Errorf("RECONCILE_STALE_AFTER must be shorter than PENDING_CHECKOUT_TTL")
	}

	parsed, err := url.Parse(strings.TrimSpace(c.PublicBaseURL))
	if err != nil || parsed.Hostname() == "" {
		return fmt.Errorf("PUBLIC_BASE_URL must be a valid absolute URL")
	}
	if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("PUBLIC_BASE_URL must use https outside local development")
	}

	return nil
}

// OpsAlertsEnabled reports whether orphaned notifications open GitHub issues.
func (c *Config) OpsAlertsEnabled() bool {
	return c.OpsGitHubToken != "" && c.OpsGitHubRepo != ""
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
