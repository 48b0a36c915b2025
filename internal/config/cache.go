package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CacheConfig drives middleware.EventCache, the Redis cache in front of
// event availability reads.  Entries live for TTL at most and are also
// dropped whenever the event's inventory changes.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	KeyStrategy  string // "route" ignores the query string, "route_query" keeps it
	Prefix       string
	MaxBodyBytes int // larger responses are served but not stored
}

func setCacheDefaults(v *viper.Viper) {
	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_METHODS", "GET")
	v.SetDefault("CACHE_TTL", 30*time.Second)
	v.SetDefault("CACHE_KEY_STRATEGY", "route_query")
	v.SetDefault("CACHE_PREFIX", "cache")
	v.SetDefault("CACHE_MAX_BODY_BYTES", 256<<10)
}

// LoadCacheConfig reads the CACHE_* settings.
func LoadCacheConfig(v *viper.Viper) CacheConfig {
	cfg := CacheConfig{
		Enabled:      v.GetBool("CACHE_ENABLED"),
		Methods:      map[string]bool{},
		TTL:          v.GetDuration("CACHE_TTL"),
		KeyStrategy:  v.GetString("CACHE_KEY_STRATEGY"),
		Prefix:       v.GetString("CACHE_PREFIX"),
		MaxBodyBytes: v.GetInt("CACHE_MAX_BODY_BYTES"),
	}
	for _, m := range strings.Split(v.GetString("CACHE_METHODS"), ",") {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			cfg.Methods[m] = true
		}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Second
	}
	return cfg
}
