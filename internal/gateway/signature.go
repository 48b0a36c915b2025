package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the lower-case hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks the two kinds of signatures the gateway produces.  The
// checkout signature proves a client-side payment belongs to our order;
// the webhook signature authenticates push notifications.  They use
// different secrets.
type Verifier struct {
	KeySecret     string
	WebhookSecret string
}

// VerifyPaymentSignature checks sig against HMAC(KeySecret, orderID|paymentID).
func (v Verifier) VerifyPaymentSignature(orderID, paymentID, sig string) bool {
	return verify(v.KeySecret, []byte(orderID+"|"+paymentID), sig)
}

// VerifyWebhookSignature checks sig against the HMAC of the exact body
// bytes received.  The body must not be re-encoded before this call.
func (v Verifier) VerifyWebhookSignature(body []byte, sig string) bool {
	return verify(v.WebhookSecret, body, sig)
}

func verify(secret string, payload []byte, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
