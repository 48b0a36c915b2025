// Package lock implements the advisory, TTL-bounded mutual exclusion used
// to serialise work on one event's inventory or one booking's lifecycle.
// A lock is a Redis key created with SET NX PX; its value is a random
// owner token so that only the holder can delete it.  There is no
// renewal: a protected section must finish well inside the TTL.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// ErrContention is returned by WithLock when the key is already held.
// Callers surface it as a retryable condition; it is never retried here.
var ErrContention = errors.New("resource is busy, try again")

// DefaultTTL bounds how long a crashed holder can block a key.
const DefaultTTL = 30 * time.Second

var acquireTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lock_acquire_total",
		Help: "Lock acquisition attempts by scope and result",
	},
	[]string{"scope", "result"},
)

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// EventKey is the lock key guarding an event's seat inventory.
func EventKey(eventID uint64) string {
	return "booking-lock:" + strconv.FormatUint(eventID, 10)
}

// BookingKey is the lock key guarding a single booking's lifecycle.
func BookingKey(bookingID uint64) string {
	return "booking-cancel-lock:" + strconv.FormatUint(bookingID, 10)
}

// Service hands out locks backed by a Redis client.  It remembers the
// token for each key it acquired so Release can be called with the key
// alone.
type Service struct {
	rdb    redis.Cmdable
	prefix string
	newTok func() string

	mu     sync.Mutex
	tokens map[string]string
}

// NewService returns a lock service using the given Redis client.  All
// keys are stored under the "lock:" namespace.
func NewService(rdb redis.Cmdable) *Service {
	return &Service{
		rdb:    rdb,
		prefix: "lock:",
		newTok: func() string { return uuid.NewString() },
		tokens: make(map[string]string),
	}
}

// Acquire tries once to take key for ttl.  It returns true when this
// caller now holds the key and false when someone else does.
func (s *Service) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	tok, ok, err := s.acquire(ctx, key, ttl)
	if err != nil || !ok {
		return false, err
	}
	s.mu.Lock()
	s.tokens[key] = tok
	s.mu.Unlock()
	return true, nil
}

// Release gives up key if this service holds it.  Releasing a key that
// is not held, or whose TTL already lapsed and was taken by another
// owner, is a no-op.
func (s *Service) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	tok, ok := s.tokens[key]
	delete(s.tokens, key)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.release(ctx, key, tok)
}

// WithLock runs fn while holding key.  It fails fast with ErrContention
// when the key is held elsewhere and always releases after fn returns.
func (s *Service) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	tok, ok, err := s.acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrContention
	}
	defer func() {
		// release on a fresh context so a cancelled request still frees the key
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = s.release(rctx, key, tok)
	}()
	return fn(ctx)
}

func (s *Service) acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	tok := s.newTok()
	ok, err := s.rdb.SetNX(ctx, s.prefix+key, tok, ttl).Result()
	if err != nil {
		acquireTotal.WithLabelValues(scopeOf(key), "error").Inc()
		return "", false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		acquireTotal.WithLabelValues(scopeOf(key), "contended").Inc()
		return "", false, nil
	}
	acquireTotal.WithLabelValues(scopeOf(key), "acquired").Inc()
	return tok, true, nil
}

func (s *Service) release(ctx context.Context, key, tok string) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{s.prefix + key}, tok).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func scopeOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
