package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-seat-booking/internal/cache"
	"github.com/iliyamo/event-seat-booking/internal/config"
)

// cachedResponse is what EventCache stores in Redis.
type cachedResponse struct {
	Status int         `json:"s"`
	Header http.Header `json:"h,omitempty"`
	Body   []byte      `json:"b,omitempty"`
}

func decodeCached(bs []byte) (*cachedResponse, bool) {
	var r cachedResponse
	if err := json.Unmarshal(bs, &r); err != nil || r.Status == 0 {
		return nil, false
	}
	return &r, true
}

// replay writes r to the client, marking it as a cache hit.
func (r *cachedResponse) replay(c echo.Context) error {
	h := c.Response().Header()
	for k, vals := range r.Header {
		if k == echo.HeaderContentLength || k == "X-Cache" {
			continue
		}
		h[k] = vals
	}
	h.Set("X-Cache", "HIT")
	return c.Blob(r.Status, h.Get(echo.HeaderContentType), r.Body)
}

// recorder tees the response body into buf until limit bytes have been
// written; overflow is set past that point.
type recorder struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (w *recorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *recorder) Write(b []byte) (int, error) {
	if !w.overflow {
		if w.limit > 0 && w.buf.Len()+len(b) > w.limit {
			w.overflow = true
			w.buf.Reset()
		} else {
			w.buf.Write(b)
		}
	}
	return w.ResponseWriter.Write(b)
}

// variant distinguishes cached responses for the same event.  "route"
// ignores the query string; anything else includes it.
func variant(strategy string, c echo.Context) string {
	v := "route:" + c.Path()
	if strings.EqualFold(strategy, "route") {
		return v
	}
	return v + ":q:" + c.Request().URL.RawQuery
}

// EventCache caches 200 responses of routes carrying an event :id under
// that event's keys, so cache.Invalidator can drop them when its seats
// change.  A response is only stored if no invalidation happened while it
// was being computed.  Requests without a numeric :id pass through
// uncached.
func EventCache(cfg config.CacheConfig, rdb redis.Cmdable) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[c.Request().Method] {
				return next(c)
			}
			eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
			if err != nil || eventID == 0 {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cache.EventKey(cfg.Prefix, eventID, variant(cfg.KeyStrategy, c))

			if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
				if hit, ok := decodeCached(bs); ok {
					return hit.replay(c)
				}
			}

			gen, err := cache.Generation(ctx, rdb, cfg.Prefix, eventID)
			if err != nil {
				return next(c)
			}

			rec := &recorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if rec.status != http.StatusOK || rec.overflow {
				return nil
			}
			bs, err := json.Marshal(cachedResponse{
				Status: rec.status,
				Header: c.Response().Header().Clone(),
				Body:   rec.buf.Bytes(),
			})
			if err == nil {
				_, _ = cache.StoreIfCurrent(context.WithoutCancel(ctx), rdb, cfg.Prefix, eventID, key, gen, bs, ttl)
			}
			return nil
		}
	}
}
