package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/config"
)

// now is the limiter's clock.
var now = time.Now

var rateLimited = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ratelimit_rejected_total",
		Help: "Requests rejected by the token bucket, by route.",
	},
	[]string{"route"},
)

// bucketScript refills continuously at refill/interval tokens per
// millisecond and takes one token when a whole one is available.
// Returns {allowed, whole tokens left, ms until the next token}.
var bucketScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3]) / tonumber(ARGV[4])

local tokens = tonumber(redis.call('HGET', KEYS[1], 't'))
local seen = tonumber(redis.call('HGET', KEYS[1], 'at'))
if tokens == nil or seen == nil then
    tokens, seen = capacity, now
end
tokens = math.min(capacity, tokens + math.max(0, now - seen) * rate)

local allowed, wait = 0, 0
if tokens >= 1 then
    allowed = 1
    tokens = tokens - 1
else
    wait = math.ceil((1 - tokens) / rate)
end

redis.call('HSET', KEYS[1], 't', tostring(tokens), 'at', now)
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

// NewTokenBucket limits requests with a Redis token bucket per caller.
// A Redis failure lets the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb redis.Scripter, log logrus.FieldLogger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	limit := strconv.Itoa(cfg.Capacity)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			res, err := bucketScript.Run(c.Request().Context(), rdb, []string{key},
				now().UnixMilli(), cfg.Capacity, cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(), cfg.TTL.Milliseconds(),
			).Int64Slice()
			if err != nil || len(res) != 3 {
				log.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
			if res[0] == 1 {
				return next(c)
			}

			retry := (res[2] + 999) / 1000
			h.Set("Retry-After", strconv.FormatInt(retry, 10))
			rateLimited.WithLabelValues(c.Path()).Inc()
			if cfg.Debug {
				log.WithFields(logrus.Fields{"key": key, "retry_ms": res[2]}).Info("rate limited")
			}
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too many requests",
				"retryable":   true,
				"retry_after": retry,
			})
		}
	}
}

// rateKey names the bucket.  Strategies: "caller" (user id, else client
// IP), "ip", and the default "caller_route" which adds the route pattern.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	caller := "ip:" + c.RealIP()
	if id, ok := UserID(c); ok {
		caller = "user:" + strconv.FormatUint(id, 10)
	}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		return cfg.Prefix + ":ip:" + c.RealIP()
	case "caller":
		return cfg.Prefix + ":" + caller
	default:
		return cfg.Prefix + ":" + caller + ":" + c.Request().Method + " " + c.Path()
	}
}
