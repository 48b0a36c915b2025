package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-booking/internal/gateway"
	"github.com/iliyamo/event-seat-booking/internal/lock"
	"github.com/iliyamo/event-seat-booking/internal/middleware"
	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/service"
	"github.com/iliyamo/event-seat-booking/internal/utils"
)

const jwtSecret = "handler-secret"

type mockBookings struct{ mock.Mock }

func (m *mockBookings) CreateBooking(ctx context.Context, in service.CreateBookingInput) (*model.Booking, error) {
	args := m.Called(in)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) CancelBooking(ctx context.Context, in service.CancelInput) (*model.Booking, error) {
	args := m.Called(in)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) GetBooking(ctx context.Context, id, userID uint64, isAdmin bool) (*model.Booking, error) {
	args := m.Called(id, userID, isAdmin)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) ListUserBookings(ctx context.Context, userID uint64) ([]model.Booking, error) {
	args := m.Called(userID)
	l, _ := args.Get(0).([]model.Booking)
	return l, args.Error(1)
}

type mockPayments struct{ mock.Mock }

func (m *mockPayments) CreatePaymentOrder(ctx context.Context, bookingID, userID uint64) (*service.PaymentOrder, error) {
	args := m.Called(bookingID, userID)
	o, _ := args.Get(0).(*service.PaymentOrder)
	return o, args.Error(1)
}

func (m *mockPayments) VerifyPayment(ctx context.Context, in service.VerifyInput) (*model.Booking, error) {
	args := m.Called(in)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *mockPayments) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	return m.Called(string(body), signature).Error(0)
}

func (m *mockPayments) Refund(ctx context.Context, in service.RefundInput) (*service.RefundResult, error) {
	args := m.Called(in)
	r, _ := args.Get(0).(*service.RefundResult)
	return r, args.Error(1)
}

type mockSweeper struct{ mock.Mock }

func (m *mockSweeper) RunOnce(ctx context.Context) (service.ReapResult, error) {
	args := m.Called()
	return args.Get(0).(service.ReapResult), args.Error(1)
}

type stubAvailability struct {
	a   *model.EventAvailability
	err error
}

func (s stubAvailability) Availability(context.Context, uint64) (*model.EventAvailability, error) {
	return s.a, s.err
}

type fixture struct {
	e        *echo.Echo
	bookings *mockBookings
	payments *mockPayments
	reaper   *mockSweeper
}

// newFixture mounts the handlers the way the router does, minus the
// Redis-backed middleware.
func newFixture(t *testing.T, avail AvailabilityReader) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &fixture{e: echo.New(), bookings: &mockBookings{}, payments: &mockPayments{}, reaper: &mockSweeper{}}

	bh := NewBookingHandler(f.bookings, log)
	ph := NewPaymentHandler(f.payments, log)
	ah := NewAdminHandler(f.bookings, f.payments, f.reaper, log)
	eh := NewEventHandler(avail, log)

	f.e.GET("/v1/events/:id/availability", eh.Availability)
	f.e.POST("/v1/webhooks/payments", ph.Webhook)

	v1 := f.e.Group("/v1", middleware.JWTAuth(jwtSecret))
	cust := v1.Group("", middleware.RequireRole(middleware.RoleCustomer))
	cust.POST("/events/:id/bookings", bh.Create)
	cust.GET("/my-bookings", bh.ListMine)
	cust.POST("/bookings/:id/payment-order", ph.CreateOrder)
	cust.POST("/bookings/:id/payment/verify", ph.Verify)
	v1.GET("/bookings/:id", bh.Get)
	v1.POST("/bookings/:id/cancel", bh.Cancel)

	admin := v1.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	admin.POST("/bookings/:id/refund", ah.Refund)
	admin.POST("/bookings/:id/cancel", ah.Cancel)
	admin.POST("/reaper/run", ah.RunReaper)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, userID uint64, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if userID != 0 {
		tok, err := utils.NewAccessToken(jwtSecret, userID, role, time.Minute)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func booking() *model.Booking {
	return &model.Booking{
		ID: 11, Reference: "BK-1-ABCDEF", EventID: 3, UserID: 5, SeatsBooked: 2,
		TotalPrice: decimal.RequireFromString("500"), Currency: "INR",
		Status: model.BookingStatusPending, PaymentStatus: model.PaymentStatusPending,
	}
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t, nil)
	f.bookings.On("CreateBooking", mock.MatchedBy(func(in service.CreateBookingInput) bool {
		return in.EventID == 3 && in.UserID == 5 && in.Seats == 2
	})).Return(booking(), nil).Once()

	rec := f.do(t, http.MethodPost, "/v1/events/3/bookings", `{"seats":2}`, 5, middleware.RoleCustomer)
	require.Equal(t, http.StatusCreated, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "BK-1-ABCDEF", out["booking_reference"])
	assert.Equal(t, "500.00", out["total_price"])
	assert.Equal(t, "PENDING", out["status"])
	f.bookings.AssertExpectations(t)
}

func TestCreateBooking_ErrorMapping(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		retryable bool
	}{
		{service.ErrInvalidInput, http.StatusBadRequest, false},
		{service.ErrEventNotFound, http.StatusNotFound, false},
		{service.ErrEventNotBookable, http.StatusConflict, false},
		{service.ErrInsufficientSeats, http.StatusConflict, false},
		{lock.ErrContention, http.StatusConflict, true},
		{errors.New("mysql gone"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		f := newFixture(t, nil)
		f.bookings.On("CreateBooking", mock.Anything).Return(nil, tc.err).Once()

		rec := f.do(t, http.MethodPost, "/v1/events/3/bookings", `{"seats":2}`, 5, middleware.RoleCustomer)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		out := decode(t, rec)
		assert.Equal(t, tc.retryable, out["retryable"] == true, tc.err.Error())
		if tc.status == http.StatusInternalServerError {
			assert.Equal(t, "internal error", out["error"], "causes are not leaked")
		}
	}
}

func TestCreateBooking_AuthAndValidation(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/v1/events/3/bookings", `{"seats":2}`, 0, "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/events/3/bookings", `{"seats":2}`, 1, middleware.RoleAdmin).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/events/x/bookings", `{"seats":2}`, 5, middleware.RoleCustomer).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/events/3/bookings", `{"seats":`, 5, middleware.RoleCustomer).Code)
	f.bookings.AssertNotCalled(t, "CreateBooking", mock.Anything)
}

func TestGetBooking_AdminFlag(t *testing.T) {
	f := newFixture(t, nil)
	f.bookings.On("GetBooking", uint64(11), uint64(5), false).Return(nil, service.ErrForbidden).Once()
	f.bookings.On("GetBooking", uint64(11), uint64(1), true).Return(booking(), nil).Once()

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/bookings/11", "", 5, middleware.RoleCustomer).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/bookings/11", "", 1, middleware.RoleAdmin).Code)
	f.bookings.AssertExpectations(t)
}

func TestListMine(t *testing.T) {
	f := newFixture(t, nil)
	f.bookings.On("ListUserBookings", uint64(5)).Return([]model.Booking{*booking()}, nil).Once()

	rec := f.do(t, http.MethodGet, "/v1/my-bookings", "", 5, middleware.RoleCustomer)
	require.Equal(t, http.StatusOK, rec.Code)
	list, ok := decode(t, rec)["bookings"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 1)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil)
	cancelled := booking()
	cancelled.Status = model.BookingStatusCancelled
	f.bookings.On("CancelBooking", service.CancelInput{BookingID: 11, ActorID: 5, Reason: "plans changed"}).Return(cancelled, nil).Once()
	f.bookings.On("CancelBooking", service.CancelInput{BookingID: 12, ActorID: 5}).Return(nil, service.ErrAlreadyTerminal).Once()
	f.bookings.On("CancelBooking", service.CancelInput{BookingID: 13, ActorID: 1, IsAdmin: true}).Return(cancelled, nil).Once()

	rec := f.do(t, http.MethodPost, "/v1/bookings/11/cancel", `{"reason":"plans changed"}`, 5, middleware.RoleCustomer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode(t, rec)["status"])

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/bookings/12/cancel", "", 5, middleware.RoleCustomer).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/admin/bookings/13/cancel", "", 1, middleware.RoleAdmin).Code)
	f.bookings.AssertExpectations(t)
}

func TestPaymentOrderAndVerify(t *testing.T) {
	f := newFixture(t, nil)
	f.payments.On("CreatePaymentOrder", uint64(11), uint64(5)).
		Return(&service.PaymentOrder{BookingID: 11, OrderID: "order_1", Amount: 50000, Currency: "INR", KeyID: "key"}, nil).Once()

	rec := f.do(t, http.MethodPost, "/v1/bookings/11/payment-order", "", 5, middleware.RoleCustomer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "order_1", decode(t, rec)["order_id"])

	in := service.VerifyInput{BookingID: 11, UserID: 5, OrderID: "order_1", PaymentID: "pay_1", Signature: "sig"}
	f.payments.On("VerifyPayment", in).Return(nil, errors.Join(service.ErrPaymentVerificationFailed, errors.New("signature mismatch"))).Once()

	rec = f.do(t, http.MethodPost, "/v1/bookings/11/payment/verify",
		`{"order_id":"order_1","payment_id":"pay_1","signature":"sig"}`, 5, middleware.RoleCustomer)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "payment verification failed", decode(t, rec)["error"])
	f.payments.AssertExpectations(t)
}

func TestPaymentOrder_GatewayDown(t *testing.T) {
	f := newFixture(t, nil)
	f.payments.On("CreatePaymentOrder", uint64(11), uint64(5)).Return(nil, gateway.ErrUnavailable).Once()

	rec := f.do(t, http.MethodPost, "/v1/bookings/11/payment-order", "", 5, middleware.RoleCustomer)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, true, decode(t, rec)["retryable"])
}

func TestWebhook(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"event":"payment.captured"}`
	f.payments.On("HandleWebhook", body, "good").Return(nil).Once()
	f.payments.On("HandleWebhook", body, "bad").Return(service.ErrInvalidSignature).Once()
	f.payments.On("HandleWebhook", body, "").Return(service.ErrInvalidSignature).Once()

	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", strings.NewReader(body))
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)
		return rec
	}

	rec := send("good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = send("bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid signature"}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, send("").Code)
	f.payments.AssertExpectations(t)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", strings.NewReader(strings.Repeat("x", maxWebhookBytes+1)))
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.payments.AssertNotCalled(t, "HandleWebhook", mock.Anything, mock.Anything)
}

func TestAdminRefund(t *testing.T) {
	f := newFixture(t, nil)
	refunded := booking()
	refunded.PaymentStatus = model.PaymentStatusPartiallyRefunded
	f.payments.On("Refund", mock.MatchedBy(func(in service.RefundInput) bool {
		return in.BookingID == 11 && in.Amount != nil && in.Amount.Equal(decimal.RequireFromString("120.50"))
	})).Return(&service.RefundResult{RefundID: "rfnd_1", Amount: "120.50", PaymentStatus: model.PaymentStatusPartiallyRefunded, Booking: refunded}, nil).Once()
	f.payments.On("Refund", service.RefundInput{BookingID: 12}).Return(nil, service.ErrRefundExceedsTotal).Once()

	rec := f.do(t, http.MethodPost, "/v1/admin/bookings/11/refund", `{"amount":"120.50"}`, 1, middleware.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "rfnd_1", out["refund_id"])
	assert.Equal(t, "PARTIALLY_REFUNDED", out["payment_status"])

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, "/v1/admin/bookings/12/refund", "", 1, middleware.RoleAdmin).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/admin/bookings/11/refund", `{"amount":"lots"}`, 1, middleware.RoleAdmin).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/admin/bookings/11/refund", "", 5, middleware.RoleCustomer).Code)
	f.payments.AssertExpectations(t)
}

func TestAdminRunReaper(t *testing.T) {
	f := newFixture(t, nil)
	f.reaper.On("RunOnce").Return(service.ReapResult{Scanned: 4, Expired: 3, Failed: 1}, nil).Once()

	rec := f.do(t, http.MethodPost, "/v1/admin/reaper/run", "", 1, middleware.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"scanned":4,"expired":3,"failed":1}`, rec.Body.String())
}

func TestAvailability(t *testing.T) {
	f := newFixture(t, stubAvailability{a: &model.EventAvailability{EventID: 3, TotalSeats: 10, AvailableSeats: 2, Status: model.EventStatusPublished}})
	rec := f.do(t, http.MethodGet, "/v1/events/3/availability", "", 0, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["available_seats"])

	f = newFixture(t, stubAvailability{err: service.ErrEventNotFound})
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/events/3/availability", "", 0, "").Code)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	e.GET("/ok", Health(map[string]Check{"db": func(context.Context) error { return nil }}))
	e.GET("/down", Health(map[string]Check{"redis": func(context.Context) error { return errors.New("refused") }}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"db":"up"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/down", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
