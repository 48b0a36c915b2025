package gateway

// Payment statuses reported by the gateway.
const (
	PaymentCreated    = "created"
	PaymentAuthorized = "authorized"
	PaymentCaptured   = "captured"
	PaymentFailed     = "failed"
	PaymentRefunded   = "refunded"
)

// Successful reports whether a payment in this status has been paid.
func Successful(status string) bool {
	return status == PaymentCaptured || status == PaymentAuthorized
}

// SuccessfulPayment returns the first paid payment of an order, or nil.
func SuccessfulPayment(payments []Payment) *Payment {
	for i := range payments {
		if Successful(payments[i].Status) {
			return &payments[i]
		}
	}
	return nil
}

// OrderRequest asks the gateway to open an order for a booking.
type OrderRequest struct {
	Amount   int64             `json:"amount"` // minor units
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the gateway's record of an order.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Payment is the authoritative status of a payment attempt.
type Payment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RefundRequest asks for part or all of a payment back.
type RefundRequest struct {
	Amount int64             `json:"amount"` // minor units
	Notes  map[string]string `json:"notes,omitempty"`
}

// Refund is the gateway's record of a refund.
type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}
