package service

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// NewBookingReference returns a unique, human-shareable booking code of
// the form BK-<base36 unix millis>-<6 hex chars>, upper-cased.
func NewBookingReference(now time.Time) string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	return strings.ToUpper("BK-" + ts + "-" + hex.EncodeToString(b[:]))
}
