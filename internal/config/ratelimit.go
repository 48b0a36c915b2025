package config

import (
	"time"

	"github.com/spf13/viper"
)

// RateLimitConfig configures the token bucket in front of the booking and
// payment-order endpoints.  A bucket holds Capacity tokens and regains
// RefillTokens every RefillInterval.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration // idle buckets are dropped after this
	KeyStrategy    string        // caller, ip or caller_route
	Prefix         string
	Debug          bool
}

func setRateLimitDefaults(v *viper.Viper) {
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_CAPACITY", 20)
	v.SetDefault("RATE_LIMIT_REFILL_TOKENS", 1)
	v.SetDefault("RATE_LIMIT_REFILL_INTERVAL", 3*time.Second)
	v.SetDefault("RATE_LIMIT_TTL", 10*time.Minute)
	v.SetDefault("RATE_LIMIT_KEY_STRATEGY", "caller_route")
	v.SetDefault("RATE_LIMIT_PREFIX", "rl")
}

// LoadRateLimitConfig reads the limiter settings.  RATE_LIMIT_BURST, when
// set, overrides the capacity.  Out-of-range values are clamped.
func LoadRateLimitConfig(v *viper.Viper) RateLimitConfig {
	capacity := v.GetInt("RATE_LIMIT_CAPACITY")
	if burst := v.GetInt("RATE_LIMIT_BURST"); burst > 0 {
		capacity = burst
	}
	cfg := RateLimitConfig{
		Enabled:        v.GetBool("RATE_LIMIT_ENABLED"),
		Capacity:       max(capacity, 1),
		RefillTokens:   max(v.GetInt("RATE_LIMIT_REFILL_TOKENS"), 1),
		RefillInterval: v.GetDuration("RATE_LIMIT_REFILL_INTERVAL"),
		TTL:            v.GetDuration("RATE_LIMIT_TTL"),
		KeyStrategy:    v.GetString("RATE_LIMIT_KEY_STRATEGY"),
		Prefix:         v.GetString("RATE_LIMIT_PREFIX"),
		Debug:          v.GetBool("RATE_LIMIT_DEBUG"),
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	// a bucket must outlive a full refill
	cfg.TTL = max(cfg.TTL, 5*cfg.RefillInterval)
	return cfg
}
