// Package cache names the Redis keys of cached per-event responses and
// drops them when an event's inventory changes.
package cache

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventKey is the key of one cached response about an event.  variant
// distinguishes responses for the same event (route, query) and is
// hashed so the key length stays bounded.
func EventKey(prefix string, eventID uint64, variant string) string {
	sum := sha1.Sum([]byte(variant))
	return fmt.Sprintf("%s:event:%d:%x", prefix, eventID, sum[:])
}

// EventPattern matches every cached response about an event.
func EventPattern(prefix string, eventID uint64) string {
	return prefix + ":event:" + strconv.FormatUint(eventID, 10) + ":*"
}

// GenerationKey counts invalidations of an event.  It lies outside
// EventPattern so invalidation never deletes it.
func GenerationKey(prefix string, eventID uint64) string {
	return prefix + ":gen:event:" + strconv.FormatUint(eventID, 10)
}

// Generation returns the event's current invalidation count, "0" if it
// was never invalidated.  Read it before computing a response and pass
// it to StoreIfCurrent.
func Generation(ctx context.Context, rdb redis.Cmdable, prefix string, eventID uint64) (string, error) {
	gen, err := rdb.Get(ctx, GenerationKey(prefix, eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

var storeScript = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[1] then
    return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// StoreIfCurrent caches payload under key unless the event was
// invalidated after gen was read, so a response computed from seat
// counts that have since changed is dropped instead of cached.
func StoreIfCurrent(ctx context.Context, rdb redis.Scripter, prefix string, eventID uint64, key, gen string, payload []byte, ttl time.Duration) (bool, error) {
	n, err := storeScript.Run(ctx, rdb, []string{key, GenerationKey(prefix, eventID)},
		gen, payload, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidator deletes cached responses.  It satisfies
// service.CacheInvalidator.
type Invalidator struct {
	rdb    redis.Cmdable
	prefix string
}

// NewInvalidator returns an Invalidator for keys under prefix.
func NewInvalidator(rdb redis.Cmdable, prefix string) *Invalidator {
	return &Invalidator{rdb: rdb, prefix: prefix}
}

// InvalidateEvent removes every cached response about eventID.  The
// generation is bumped first so a response being computed right now is
// not stored afterwards.
func (i *Invalidator) InvalidateEvent(ctx context.Context, eventID uint64) error {
	if err := i.rdb.Incr(ctx, GenerationKey(i.prefix, eventID)).Err(); err != nil {
		return fmt.Errorf("bump generation of event %d: %w", eventID, err)
	}
	pattern := EventPattern(i.prefix, eventID)
	var cursor uint64
	for {
		keys, next, err := i.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := i.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete cached event %d: %w", eventID, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
