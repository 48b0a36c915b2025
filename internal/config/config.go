// Package config loads application configuration from the environment.
// A .env file is read first when present, then viper resolves every key
// from the process environment, falling back to the defaults below.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable of the same name in upper snake case.
type Config struct {
	Env      string // application environment (dev, test, prod)
	Port     string // HTTP port to listen on
	LogLevel string // logrus level name

	DBUser string
	DBPass string // empty allowed
	DBHost string
	DBPort string
	DBName string

	JWTSecret string // secret used to verify access tokens

	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Booking   BookingConfig
	Reaper    ReaperConfig
	Gateway   GatewayConfig
	Queue     QueueConfig
	PubNub    PubNubConfig
}

// BookingConfig bounds booking creation.
type BookingConfig struct {
	MaxSeatsPerBooking int
	LockTTL            time.Duration
}

// ReaperConfig drives the expiry sweep of unpaid bookings.
type ReaperConfig struct {
	Enabled   bool
	Interval  time.Duration
	Grace     time.Duration // age after which an unpaid booking expires
	BatchSize int
}

// GatewayConfig holds the payment gateway credentials.  KeyID is public
// and handed to clients for checkout; KeySecret signs client-side
// verification payloads and WebhookSecret signs webhook bodies.
type GatewayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

// QueueConfig configures the RabbitMQ notification channel.  An empty URL
// disables it.
type QueueConfig struct {
	URL          string
	Exchange     string
	AuditQueue   string
	AuditEnabled bool
}

// PubNubConfig configures realtime push.  Empty keys disable it.
type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	UserID       string
}

// Load reads .env (if any) and the environment into a Config.  The result
// is not validated; call Validate before using it to start the server.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Env:      v.GetString("APP_ENV"),
		Port:     v.GetString("APP_PORT"),
		LogLevel: v.GetString("LOG_LEVEL"),
		DBUser:   v.GetString("DB_USER"),
		DBPass:   v.GetString("DB_PASS"),
		DBHost:   v.GetString("DB_HOST"),
		DBPort:   v.GetString("DB_PORT"),
		DBName:   v.GetString("DB_NAME"),

		JWTSecret: v.GetString("JWT_SECRET"),

		Redis:     LoadRedisConfig(v),
		Cache:     LoadCacheConfig(v),
		RateLimit: LoadRateLimitConfig(v),
		Booking: BookingConfig{
			MaxSeatsPerBooking: v.GetInt("MAX_SEATS_PER_BOOKING"),
			LockTTL:            v.GetDuration("LOCK_TTL"),
		},
		Reaper: ReaperConfig{
			Enabled:   v.GetBool("REAPER_ENABLED"),
			Interval:  v.GetDuration("REAPER_INTERVAL"),
			Grace:     v.GetDuration("REAPER_GRACE"),
			BatchSize: v.GetInt("REAPER_BATCH_SIZE"),
		},
		Gateway: GatewayConfig{
			BaseURL:       v.GetString("GATEWAY_BASE_URL"),
			KeyID:         v.GetString("GATEWAY_KEY_ID"),
			KeySecret:     v.GetString("GATEWAY_KEY_SECRET"),
			WebhookSecret: v.GetString("GATEWAY_WEBHOOK_SECRET"),
			Timeout:       v.GetDuration("GATEWAY_TIMEOUT"),
		},
		Queue: QueueConfig{
			URL:          v.GetString("RABBITMQ_URL"),
			Exchange:     v.GetString("RABBITMQ_EXCHANGE"),
			AuditQueue:   v.GetString("RABBITMQ_AUDIT_QUEUE"),
			AuditEnabled: v.GetBool("RABBITMQ_AUDIT_ENABLED"),
		},
		PubNub: PubNubConfig{
			PublishKey:   v.GetString("PUBNUB_PUBLISH_KEY"),
			SubscribeKey: v.GetString("PUBNUB_SUBSCRIBE_KEY"),
			UserID:       v.GetString("PUBNUB_USER_ID"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_PORT", "3306")

	v.SetDefault("MAX_SEATS_PER_BOOKING", 10)
	v.SetDefault("LOCK_TTL", 30*time.Second)

	v.SetDefault("REAPER_ENABLED", true)
	v.SetDefault("REAPER_INTERVAL", time.Minute)
	v.SetDefault("REAPER_GRACE", 30*time.Minute)
	v.SetDefault("REAPER_BATCH_SIZE", 100)

	v.SetDefault("GATEWAY_BASE_URL", "https://api.razorpay.com")
	v.SetDefault("GATEWAY_TIMEOUT", 10*time.Second)

	v.SetDefault("RABBITMQ_EXCHANGE", "booking.events")
	v.SetDefault("RABBITMQ_AUDIT_QUEUE", "booking.audit")
	v.SetDefault("RABBITMQ_AUDIT_ENABLED", true)

	v.SetDefault("PUBNUB_USER_ID", "event-seat-booking")

	setRedisDefaults(v)
	setCacheDefaults(v)
	setRateLimitDefaults(v)
}

// Validate reports every required key that is missing and every value
// that is out of range.
func (c Config) Validate() error {
	var missing []string
	for k, val := range map[string]string{
		"DB_USER":                c.DBUser,
		"DB_HOST":                c.DBHost,
		"DB_NAME":                c.DBName,
		"JWT_SECRET":             c.JWTSecret,
		"GATEWAY_KEY_ID":         c.Gateway.KeyID,
		"GATEWAY_KEY_SECRET":     c.Gateway.KeySecret,
		"GATEWAY_WEBHOOK_SECRET": c.Gateway.WebhookSecret,
	} {
		if val == "" {
			missing = append(missing, k)
		}
	}
	var errs []error
	if len(missing) > 0 {
		sort.Strings(missing)
		errs = append(errs, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", ")))
	}
	if c.Booking.MaxSeatsPerBooking < 1 {
		errs = append(errs, errors.New("MAX_SEATS_PER_BOOKING must be at least 1"))
	}
	if c.Reaper.Interval <= 0 || c.Reaper.Grace <= 0 || c.Reaper.BatchSize < 1 {
		errs = append(errs, errors.New("REAPER_INTERVAL, REAPER_GRACE and REAPER_BATCH_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool { return strings.EqualFold(c.Env, "prod") }
