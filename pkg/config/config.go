package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	Credits      CreditsConfig
	FeatureFlags FeatureFlagsConfig
}

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
	Env          string `envconfig:"CODEQUEST_APP_ENV" required:"true"`
	Port         string `envconfig:"CODEQUEST_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CODEQUEST_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CODEQUEST_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CODEQUEST_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CODEQUEST_DB_DSN"`
	Driver string `envconfig:"CODEQUEST_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CODEQUEST_DB_HOST"`
	LegacyPort     int    `envconfig:"CODEQUEST_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CODEQUEST_DB_USER"`
	LegacyPassword string `envconfig:"CODEQUEST_DB_PASSWORD"`
	LegacyName     string `envconfig:"CODEQUEST_DB_NAME"`
	LegacySSLMode  string `envconfig:"CODEQUEST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CODEQUEST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CODEQUEST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CODEQUEST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CODEQUEST_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CODEQUEST_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CODEQUEST_REDIS_ADDR"`
	Password     string        `envconfig:"CODEQUEST_REDIS_PASSWORD"`
	DB           int           `envconfig:"CODEQUEST_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CODEQUEST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CODEQUEST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CODEQUEST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CODEQUEST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CODEQUEST_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"CODEQUEST_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"CODEQUEST_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"CODEQUEST_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CreditsConfig struct {
	FreeTierMonthlyCredits   int `envconfig:"CODEQUEST_CREDITS_FREE_TIER_MONTHLY" default:"50"`
	IdempotencyRetentionDays int `envconfig:"CODEQUEST_CREDITS_IDEMPOTENCY_RETENTION_DAYS" default:"30"`
}

// IdempotencyRetention returns the retention window for processed webhook records.
func (c CreditsConfig) IdempotencyRetention() time.Duration {
	days := c.IdempotencyRetentionDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CODEQUEST_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
