package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/event-seat-booking/internal/gateway"
	"github.com/iliyamo/event-seat-booking/internal/lock"
	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/repository"
)

// memStore is an in-memory stand-in for MySQL.  Transactions are
// serialised on txMu and roll back by restoring a snapshot.
type memStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	events   map[uint64]*model.Event
	bookings map[uint64]*model.Booking
	refunds  []model.Refund
	nextID   uint64
}

func newMemStore() *memStore {
	return &memStore{events: map[uint64]*model.Event{}, bookings: map[uint64]*model.Booking{}}
}

type memTxKey struct{}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	events   map[uint64]model.Event
	bookings map[uint64]model.Booking
	refunds  []model.Refund
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{events: map[uint64]model.Event{}, bookings: map[uint64]model.Booking{}}
	for id, e := range m.events {
		s.events[id] = *e
	}
	for id, b := range m.bookings {
		s.bookings[id] = *b
	}
	s.refunds = append([]model.Refund(nil), m.refunds...)
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = map[uint64]*model.Event{}
	for id, e := range s.events {
		e := e
		m.events[id] = &e
	}
	m.bookings = map[uint64]*model.Booking{}
	for id, b := range s.bookings {
		b := b
		m.bookings[id] = &b
	}
	m.refunds = s.refunds
}

func (m *memStore) addEvent(e model.Event) *model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if e.ID == 0 {
		e.ID = m.nextID
	}
	m.events[e.ID] = &e
	return &e
}

func (m *memStore) event(id uint64) model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.events[id]
}

func (m *memStore) booking(id uint64) model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bookings[id]
}

func (m *memStore) putBooking(b model.Booking) *model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b.ID = m.nextID
	m.bookings[b.ID] = &b
	return &b
}

// EventStore

type memEvents struct{ *memStore }

func (m memEvents) GetByID(_ context.Context, id uint64) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, repository.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (m memEvents) GetForUpdate(ctx context.Context, id uint64) (*model.Event, error) {
	return m.GetByID(ctx, id)
}

func (m memEvents) ReserveSeats(_ context.Context, id uint64, seats int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.AvailableSeats < seats {
		return repository.ErrNotEnoughSeats
	}
	e.AvailableSeats -= seats
	if e.AvailableSeats == 0 && e.Status == model.EventStatusPublished {
		e.Status = model.EventStatusSoldOut
	}
	return nil
}

func (m memEvents) ReleaseSeats(_ context.Context, id uint64, seats int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return repository.ErrEventNotFound
	}
	e.AvailableSeats += seats
	if e.AvailableSeats > e.TotalSeats {
		e.AvailableSeats = e.TotalSeats
	}
	if e.Status == model.EventStatusSoldOut {
		e.Status = model.EventStatusPublished
	}
	return nil
}

// BookingStore

type memBookings struct{ *memStore }

func (m memBookings) Create(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.bookings {
		if o.Reference == b.Reference {
			return repository.ErrConflict
		}
	}
	m.nextID++
	b.ID = m.nextID
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m memBookings) GetByID(_ context.Context, id uint64) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m memBookings) GetByOrderID(_ context.Context, orderID string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.PaymentOrderID != nil && *b.PaymentOrderID == orderID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, repository.ErrBookingNotFound
}

func (m memBookings) ListByUser(_ context.Context, userID uint64) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Booking, 0)
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m memBookings) ListStalePending(_ context.Context, before time.Time, limit int) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Booking, 0)
	for _, b := range m.bookings {
		if b.Status == model.BookingStatusPending && b.PaymentStatus == model.PaymentStatusPending && b.CreatedAt.Before(before) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(b *model.Booking, c repository.Cond) bool {
	if len(c.Statuses) > 0 && !contains(c.Statuses, b.Status) {
		return false
	}
	if len(c.PaymentStatuses) > 0 && !contains(c.PaymentStatuses, b.PaymentStatus) {
		return false
	}
	return true
}

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func apply(b *model.Booking, u repository.BookingUpdate) {
	if u.Status != nil {
		b.Status = *u.Status
	}
	if u.PaymentStatus != nil {
		b.PaymentStatus = *u.PaymentStatus
	}
	if u.PaymentOrderID != nil {
		b.PaymentOrderID = u.PaymentOrderID
	}
	if u.PaymentIntentID != nil {
		b.PaymentIntentID = u.PaymentIntentID
	}
	if u.PaymentMethod != nil {
		b.PaymentMethod = u.PaymentMethod
	}
	if u.CancellationReason != nil {
		b.CancellationReason = u.CancellationReason
	}
	if u.CancelledAt != nil {
		b.CancelledAt = u.CancelledAt
	}
	if u.PaidAt != nil {
		b.PaidAt = u.PaidAt
	}
	if u.RefundedAt != nil {
		b.RefundedAt = u.RefundedAt
	}
	b.UpdatedAt = time.Now().UTC()
}

func (m memBookings) Transition(_ context.Context, id uint64, c repository.Cond, u repository.BookingUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || !matches(b, c) {
		return false, nil
	}
	apply(b, u)
	return true, nil
}

func (m memBookings) AddRefund(_ context.Context, ref *model.Refund, c repository.Cond, u repository.BookingUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[ref.BookingID]
	if !ok || !matches(b, c) || b.RefundAmount.Add(ref.Amount).GreaterThan(b.TotalPrice) {
		return false, nil
	}
	b.RefundAmount = b.RefundAmount.Add(ref.Amount)
	apply(b, u)
	ref.ID = uint64(len(m.refunds) + 1)
	m.refunds = append(m.refunds, *ref)
	return true, nil
}

// memLocker is a fail-fast lock table.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]bool{}} }

func (l *memLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return lock.ErrContention
	}
	l.held[key] = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

func (l *memLocker) hold(key string) {
	l.mu.Lock()
	l.held[key] = true
	l.mu.Unlock()
}

// fakeGateway records orders and refunds and serves canned payments.
type fakeGateway struct {
	gateway.Verifier

	mu        sync.Mutex
	orders    []gateway.OrderRequest
	payments  map[string]*gateway.Payment
	refunds   []gateway.RefundRequest
	refundErr error
	fetchErr  error
	fetches   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		Verifier: gateway.Verifier{KeySecret: "key_secret", WebhookSecret: "wh_secret"},
		payments: map[string]*gateway.Payment{},
	}
}

func (g *fakeGateway) KeyID() string { return "key_test" }

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	return &gateway.Order{ID: fmt.Sprintf("order_%d", len(g.orders)), Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created"}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	p, ok := g.payments[id]
	if !ok {
		return nil, &gateway.APIError{StatusCode: 404, Code: "NOT_FOUND"}
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) FetchOrderPayments(_ context.Context, orderID string) ([]gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	out := make([]gateway.Payment, 0)
	for _, p := range g.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *fakeGateway) RefundPayment(_ context.Context, paymentID string, req gateway.RefundRequest) (*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return &gateway.Refund{ID: fmt.Sprintf("rfnd_%d", len(g.refunds)), PaymentID: paymentID, Amount: req.Amount, Status: "processed"}, nil
}

func (g *fakeGateway) setPayment(p gateway.Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = &p
}

// recNotifier records every event.
type recNotifier struct {
	mu     sync.Mutex
	events []model.BookingEvent
}

func (r *recNotifier) Notify(_ context.Context, ev model.BookingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recNotifier) count(t model.BookingEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type recInvalidator struct {
	mu  sync.Mutex
	ids []uint64
}

func (r *recInvalidator) InvalidateEvent(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

// harness wires both services over the fakes.
type harness struct {
	store    *memStore
	locks    *memLocker
	gw       *fakeGateway
	notes    *recNotifier
	cache    *recInvalidator
	bookings *BookingService
	payments *PaymentService
	now      time.Time
}

func newHarness() *harness {
	h := &harness{
		store: newMemStore(),
		locks: newMemLocker(),
		gw:    newFakeGateway(),
		notes: &recNotifier{},
		cache: &recInvalidator{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	d := Deps{
		Tx:       h.store,
		Events:   memEvents{h.store},
		Bookings: memBookings{h.store},
		Locks:    h.locks,
		Gateway:  h.gw,
		Notifier: h.notes,
		Cache:    h.cache,
		Now:      func() time.Time { return h.now },
	}
	h.bookings = NewBookingService(d, BookingConfig{})
	h.payments = NewPaymentService(d)
	return h
}

func (h *harness) publishedEvent(total, available int) *model.Event {
	status := model.EventStatusPublished
	if available == 0 {
		status = model.EventStatusSoldOut
	}
	return h.store.addEvent(model.Event{
		OwnerID:        77,
		Title:          "Concert",
		EventDate:      h.now.Add(72 * time.Hour),
		PricePerSeat:   decimal.RequireFromString("250.00"),
		Currency:       "INR",
		TotalSeats:     total,
		AvailableSeats: available,
		Status:         status,
	})
}

// pendingBooking inserts a booking directly and takes its seats, as if
// created at the given time.
func (h *harness) pendingBooking(e *model.Event, userID uint64, seats int, createdAt time.Time) *model.Booking {
	h.store.mu.Lock()
	ev := h.store.events[e.ID]
	ev.AvailableSeats -= seats
	h.store.mu.Unlock()
	return h.store.putBooking(model.Booking{
		Reference:     NewBookingReference(createdAt),
		EventID:       e.ID,
		UserID:        userID,
		SeatsBooked:   seats,
		TotalPrice:    e.PricePerSeat.Mul(decimal.NewFromInt(int64(seats))),
		Currency:      e.Currency,
		Status:        model.BookingStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	})
}

// paidBooking returns a CONFIRMED booking with a completed payment.
func (h *harness) paidBooking(e *model.Event, userID uint64, seats int) *model.Booking {
	b := h.pendingBooking(e, userID, seats, h.now)
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	sb := h.store.bookings[b.ID]
	order, pay, method := fmt.Sprintf("order_paid_%d", b.ID), fmt.Sprintf("pay_%d", b.ID), "card"
	sb.Status = model.BookingStatusConfirmed
	sb.PaymentStatus = model.PaymentStatusCompleted
	sb.PaymentOrderID, sb.PaymentIntentID, sb.PaymentMethod = &order, &pay, &method
	cp := *sb
	return &cp
}
