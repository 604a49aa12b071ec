package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	PaymentModeStub = "stub"
	PaymentModeLive = "live"
)

// ProviderCredentials gate the availability of one payment method.
type ProviderCredentials struct {
	APIKey    string
	SecretKey string
	BaseURL   string
}

func (p ProviderCredentials) Configured() bool {
	return p.APIKey != "" && p.SecretKey != ""
}

type Config struct {
	HTTPAddr     string
	PostgresDSN  string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	JWTSecret    string
	OTLPEndpoint string
	LogLevel     string

	TraceSampleRatio float64

	PaymentMode      string
	PublicBaseURL    string
	Providers        map[string]ProviderCredentials
	WebhookSecret    string
	WebhookTolerance time.Duration
	RestoDeposit     int64
	ProviderTimeout  time.Duration

	StoreTimeout     time.Duration
	TableSyncRetries int
	TableSyncBackoff time.Duration
	TableSyncGrace   time.Duration
	PaymentTTL       time.Duration
	IdempotencyTTL   time.Duration
	WorkerInterval   time.Duration
	MigrateOnStart   bool

	RateLimit       int
	RateLimitWindow time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("MONGO_DB", "venue")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TRACE_SAMPLE_RATIO", 1.0)
	v.SetDefault("PAYMENT_MODE", PaymentModeStub)
	v.SetDefault("WEBHOOK_TOLERANCE", "5m")
	v.SetDefault("RESTO_DEPOSIT", 1000)
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("TABLE_SYNC_RETRIES", 4)
	v.SetDefault("TABLE_SYNC_BACKOFF", "200ms")
	v.SetDefault("TABLE_SYNC_GRACE", "30s")
	v.SetDefault("PAYMENT_TTL", "2h")
	v.SetDefault("IDEMPOTENCY_TTL", "1h")
	v.SetDefault("WORKER_INTERVAL", "1m")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("RATE_LIMIT", 60)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		HTTPAddr:     v.GetString("HTTP_ADDR"),
		PostgresDSN:  v.GetString("POSTGRES_DSN"),
		MongoURI:     v.GetString("MONGO_URI"),
		MongoDB:      v.GetString("MONGO_DB"),
		RedisAddr:    v.GetString("REDIS_ADDR"),
		RabbitURL:    v.GetString("RABBIT_URL"),
		JWTPublicKey: v.GetString("JWT_PUBLIC_KEY"),
		JWTSecret:    v.GetString("JWT_SECRET"),
		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     v.GetString("LOG_LEVEL"),

		TraceSampleRatio: v.GetFloat64("TRACE_SAMPLE_RATIO"),

		PaymentMode:      strings.ToLower(v.GetString("PAYMENT_MODE")),
		PublicBaseURL:    v.GetString("PUBLIC_BASE_URL"),
		WebhookSecret:    v.GetString("PAYMENT_WEBHOOK_SECRET"),
		WebhookTolerance: v.GetDuration("WEBHOOK_TOLERANCE"),
		RestoDeposit:     v.GetInt64("RESTO_DEPOSIT"),
		ProviderTimeout:  v.GetDuration("PROVIDER_TIMEOUT"),

		StoreTimeout:     v.GetDuration("STORE_TIMEOUT"),
		TableSyncRetries: v.GetInt("TABLE_SYNC_RETRIES"),
		TableSyncBackoff: v.GetDuration("TABLE_SYNC_BACKOFF"),
		TableSyncGrace:   v.GetDuration("TABLE_SYNC_GRACE"),
		PaymentTTL:       v.GetDuration("PAYMENT_TTL"),
		IdempotencyTTL:   v.GetDuration("IDEMPOTENCY_TTL"),
		WorkerInterval:   v.GetDuration("WORKER_INTERVAL"),
		MigrateOnStart:   v.GetBool("MIGRATE_ON_START"),

		RateLimit:       v.GetInt("RATE_LIMIT"),
		RateLimitWindow: v.GetDuration("RATE_LIMIT_WINDOW"),
	}

	cfg.Providers = map[string]ProviderCredentials{}
	for _, method := range []string{"dahabia", "cib"} {
		prefix := strings.ToUpper(method)
		cfg.Providers[method] = ProviderCredentials{
			APIKey:    v.GetString(prefix + "_API_KEY"),
			SecretKey: v.GetString(prefix + "_SECRET_KEY"),
			BaseURL:   v.GetString(prefix + "_BASE_URL"),
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PaymentMode != PaymentModeStub && c.PaymentMode != PaymentModeLive {
		return errors.Newf("PAYMENT_MODE must be %q or %q, got %q", PaymentModeStub, PaymentModeLive, c.PaymentMode)
	}
	if c.PaymentMode == PaymentModeLive {
		for method, p := range c.Providers {
			if p.Configured() && p.BaseURL == "" {
				return errors.Newf("%s_BASE_URL is required in live mode", strings.ToUpper(method))
			}
		}
	}
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	if c.TableSyncRetries < 1 {
		return errors.New("TABLE_SYNC_RETRIES must be at least 1")
	}
	return nil
}
