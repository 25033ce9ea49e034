package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Event drivers.
const (
	EventsNone     = "none"
	EventsNATS     = "nats"
	EventsRabbitMQ = "rabbitmq"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// CaregiverTimezone decides what "today" means for the start and
	// cancellation guards and for lead-day counting.
	CaregiverTimezone string `mapstructure:"CAREGIVER_TIMEZONE"`

	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepBatch    int           `mapstructure:"SWEEP_BATCH"`
	RedisURL      string        `mapstructure:"REDIS_URL"`

	EventsDriver     string `mapstructure:"EVENTS_DRIVER"`
	NATSURL          string `mapstructure:"NATS_URL"`
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange string `mapstructure:"RABBITMQ_EXCHANGE"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	AvailabilityCacheSize int           `mapstructure:"AVAILABILITY_CACHE_SIZE"`
	AvailabilityCacheTTL  time.Duration `mapstructure:"AVAILABILITY_CACHE_TTL"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"CAREGIVER_TIMEZONE", "SWEEP_INTERVAL", "SWEEP_BATCH", "REDIS_URL",
	"EVENTS_DRIVER", "NATS_URL", "RABBITMQ_URL", "RABBITMQ_EXCHANGE",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"AVAILABILITY_CACHE_SIZE", "AVAILABILITY_CACHE_TTL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CAREGIVER_TIMEZONE", "Asia/Ho_Chi_Minh")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("SWEEP_BATCH", 100)
	v.SetDefault("EVENTS_DRIVER", EventsNone)
	v.SetDefault("RABBITMQ_EXCHANGE", "careflow.events")
	v.SetDefault("AVAILABILITY_CACHE_SIZE", 4096)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "256K")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.EventsDriver = strings.ToLower(strings.TrimSpace(cfg.EventsDriver))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CAREGIVER_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.CaregiverTimezone)
	if err != nil {
		return nil, fmt.Errorf("CAREGIVER_TIMEZONE %q: %w", c.CaregiverTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// bearer tokens are the only way in, so a signing key is mandatory.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY of at least 32 bytes is required when ENV=%q", c.Env)
	}

	switch c.EventsDriver {
	case EventsNone, "":
	case EventsNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when EVENTS_DRIVER is %q", EventsNATS)
		}
	case EventsRabbitMQ:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when EVENTS_DRIVER is %q", EventsRabbitMQ)
		}
		if c.RabbitMQExchange == "" {
			return fmt.Errorf("RABBITMQ_EXCHANGE is required when EVENTS_DRIVER is %q", EventsRabbitMQ)
		}
	default:
		return fmt.Errorf("EVENTS_DRIVER must be %q, %q or %q, got %q", EventsNone, EventsNATS, EventsRabbitMQ, c.EventsDriver)
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.SweepBatch <= 0 {
		return fmt.Errorf("SWEEP_BATCH must be positive, got %d", c.SweepBatch)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
