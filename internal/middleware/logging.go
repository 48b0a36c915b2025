package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RequestID tags each request with an id, reusing the caller's
// X-Request-ID when one is sent.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(ctxRequestID, id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

// RequestLogger writes one structured entry per request.
func RequestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the response so the status below is final
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			fields := logrus.Fields{
				"method":      req.Method,
				"path":        req.URL.Path,
				"route":       c.Path(),
				"status":      res.Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"client_ip":   c.RealIP(),
				"user_agent":  req.UserAgent(),
			}
			if id, ok := c.Get(ctxRequestID).(string); ok {
				fields["request_id"] = id
			}
			if uid, ok := UserID(c); ok {
				fields["user_id"] = uid
			}
			entry := log.WithFields(fields)
			switch {
			case res.Status >= 500:
				entry.Error("request failed")
			case res.Status >= 400:
				entry.Warn("request rejected")
			default:
				entry.Info("request handled")
			}
			return nil
		}
	}
}
