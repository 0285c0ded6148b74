package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "subhub"

	AppEnvDev     = "dev"
	AppEnvStaging = "staging"
	AppEnvProd    = "prod"
	AppEnvTest    = "test"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Stripe    StripeConfig
	PayPal    PayPalConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
	Webhooks  WebhooksConfig
	Sweeps    SweepsConfig
	RateLimit RateLimitConfig
}

// Load reads the full configuration from SUBHUB_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUBHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBHUB_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SUBHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBHUB_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"SUBHUB_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"SUBHUB_DB_DSN"`

	Host     string `envconfig:"SUBHUB_DB_HOST"`
	Port     int    `envconfig:"SUBHUB_DB_PORT" default:"5432"`
	User     string `envconfig:"SUBHUB_DB_USER"`
	Password string `envconfig:"SUBHUB_DB_PASSWORD"`
	Name     string `envconfig:"SUBHUB_DB_NAME"`
	SSLMode  string `envconfig:"SUBHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUBHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBHUB_REDIS_URL"`
	Address      string        `envconfig:"SUBHUB_REDIS_ADDR"`
	Password     string        `envconfig:"SUBHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUBHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUBHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"SUBHUB_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"SUBHUB_JWT_ISSUER" default:"subhub"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"SUBHUB_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"SUBHUB_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"SUBHUB_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayPalConfig struct {
	BaseURL      string        `envconfig:"SUBHUB_PAYPAL_BASE_URL" default:"https://api-m.sandbox.paypal.com"`
	ClientID     string        `envconfig:"SUBHUB_PAYPAL_CLIENT_ID"`
	ClientSecret string        `envconfig:"SUBHUB_PAYPAL_CLIENT_SECRET"`
	WebhookID    string        `envconfig:"SUBHUB_PAYPAL_WEBHOOK_ID"`
	Timeout      time.Duration `envconfig:"SUBHUB_PAYPAL_TIMEOUT" default:"30s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SUBHUB_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"SUBHUB_PUBSUB_NOTIFICATION_TOPIC" default:"subhub-notification-events"`
	NotificationSubscription string `envconfig:"SUBHUB_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"subhub-notification-worker"`
}

type OutboxConfig struct {
	BatchSize    int           `envconfig:"SUBHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollInterval time.Duration `envconfig:"SUBHUB_OUTBOX_PUBLISH_POLL_INTERVAL" default:"500ms"`
	MaxAttempts  int           `envconfig:"SUBHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"SUBHUB_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type RateLimitConfig struct {
	ApplyWindow    time.Duration `envconfig:"SUBHUB_RATE_LIMIT_APPLY_WINDOW" default:"1m"`
	ApplyIPLimit   int           `envconfig:"SUBHUB_RATE_LIMIT_APPLY_IP_LIMIT" default:"30"`
	ApplyUserLimit int           `envconfig:"SUBHUB_RATE_LIMIT_APPLY_USER_LIMIT" default:"10"`
}

type SweepsConfig struct {
	Interval  time.Duration `envconfig:"SUBHUB_SWEEP_INTERVAL" default:"1h"`
	BatchSize int           `envconfig:"SUBHUB_SWEEP_BATCH_SIZE" default:"200"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	for env, value := range map[string]string{
		"SUBHUB_DB_HOST": db.Host,
		"SUBHUB_DB_USER": db.User,
		"SUBHUB_DB_NAME": db.Name,
	} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either SUBHUB_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
