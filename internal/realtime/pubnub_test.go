package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, channel string, message any) error {
	return m.Called(channel, message).Error(0)
}

func event() model.BookingEvent {
	return model.BookingEvent{
		Type:       model.BookingConfirmed,
		BookingID:  3,
		Reference:  "BK-1-ABCDEF",
		EventID:    8,
		EventTitle: "Concert",
		UserID:     5,
		OwnerID:    77,
		Seats:      2,
		Status:     model.BookingStatusConfirmed,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifier_PublishesToUserAndOwner(t *testing.T) {
	pub := &mockPublisher{}
	isConfirmed := mock.MatchedBy(func(m map[string]any) bool {
		return m["type"] == "booking.confirmed" && m["booking_id"] == uint64(3) && m["event_title"] == "Concert"
	})
	pub.On("Publish", "user-5", isConfirmed).Return(nil).Once()
	pub.On("Publish", "owner-77", isConfirmed).Return(nil).Once()

	log, _ := test.NewNullLogger()
	assert.NoError(t, NewNotifier(pub, log).Notify(context.Background(), event()))
	pub.AssertExpectations(t)
}

func TestNotifier_SkipsUnknownOwner(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", "user-5", mock.Anything).Return(nil).Once()

	ev := event()
	ev.OwnerID = 0
	log, _ := test.NewNullLogger()
	assert.NoError(t, NewNotifier(pub, log).Notify(context.Background(), ev))
	pub.AssertExpectations(t)
	pub.AssertNotCalled(t, "Publish", "owner-0", mock.Anything)
}

func TestNotifier_ReturnsErrorsButTriesBoth(t *testing.T) {
	pub := &mockPublisher{}
	boom := errors.New("pubnub down")
	pub.On("Publish", "user-5", mock.Anything).Return(boom).Once()
	pub.On("Publish", "owner-77", mock.Anything).Return(nil).Once()

	log, _ := test.NewNullLogger()
	err := NewNotifier(pub, log).Notify(context.Background(), event())
	assert.ErrorIs(t, err, boom)
	pub.AssertExpectations(t)
}

func TestChannels(t *testing.T) {
	assert.Equal(t, "user-42", UserChannel(42))
	assert.Equal(t, "owner-7", OwnerChannel(7))
}
