package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Roles carried in the access token's "role" claim.
const (
	RoleCustomer = "CUSTOMER"
	RoleOwner    = "OWNER"
	RoleAdmin    = "ADMIN"
)

const (
	ctxUserID    = "user_id"
	ctxRole      = "role"
	ctxRequestID = "request_id"
)

// UserID returns the authenticated caller's id.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the authenticated caller's role, or "".
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// IsAdmin reports whether the caller holds the ADMIN role.
func IsAdmin(c echo.Context) bool { return Role(c) == RoleAdmin }

// subject parses the token's sub claim.  Tokens issued by this service
// carry a number; other issuers may send a decimal string.
func subject(v interface{}) (uint64, bool) {
	switch s := v.(type) {
	case float64:
		if s <= 0 || s != float64(uint64(s)) {
			return 0, false
		}
		return uint64(s), true
	case string:
		id, err := strconv.ParseUint(s, 10, 64)
		return id, err == nil && id != 0
	}
	return 0, false
}
