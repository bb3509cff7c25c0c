package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusProcessing, false},
		{StatusConfirmed, StatusProcessing, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusProcessing, StatusShipped, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusReturned, true},
		{StatusDelivered, StatusConfirmed, false},
		{StatusCancelled, StatusPending, false},
		{StatusReturned, StatusDelivered, false},
		{StatusConfirmed, StatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidateTransitionReturnsTypedError(t *testing.T) {
	err := ValidateTransition(StatusDelivered, StatusConfirmed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusDelivered, te.From)
	assert.Equal(t, StatusConfirmed, te.To)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusReturned.Terminal())
	assert.False(t, StatusShipped.Terminal())
	assert.False(t, OrderStatus("bogus").Terminal())
}

func TestParseOrderStatus(t *testing.T) {
	s, ok := ParseOrderStatus(" Shipped ")
	assert.True(t, ok)
	assert.Equal(t, StatusShipped, s)

	_, ok = ParseOrderStatus("lost")
	assert.False(t, ok)
}

func TestValidWalk(t *testing.T) {
	assert.True(t, ValidWalk([]OrderStatus{StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusReturned}))
	assert.True(t, ValidWalk([]OrderStatus{StatusPending, StatusCancelled}))
	assert.False(t, ValidWalk([]OrderStatus{StatusConfirmed}))
	assert.False(t, ValidWalk([]OrderStatus{StatusPending, StatusShipped}))
}

func TestOrderTransitionAppendsTimeline(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	order := Order{
		ID:       "ord-1",
		Status:   StatusPending,
		Timeline: []TimelineEntry{{Status: StatusPending, Timestamp: now, Actor: Actor{ID: "cust-1", Role: RoleCustomer}}},
	}

	require.NoError(t, order.Transition(StatusConfirmed, SystemActor, "payment reconciled", now.Add(time.Minute)))
	assert.Equal(t, StatusConfirmed, order.Status)
	require.Len(t, order.Timeline, 2)
	assert.Equal(t, StatusPending, order.Timeline[1].From)
	assert.Equal(t, StatusConfirmed, order.Timeline[1].Status)
	assert.NoError(t, order.CheckTimeline())

	err := order.Transition(StatusDelivered, SystemActor, "", now)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Len(t, order.Timeline, 2, "rejected transition must not touch the timeline")
	assert.Equal(t, StatusConfirmed, order.Status)
}

func TestCheckTimelineDetectsDivergence(t *testing.T) {
	order := Order{
		ID:     "ord-2",
		Status: StatusShipped,
		Timeline: []TimelineEntry{
			{Status: StatusPending},
			{From: StatusPending, Status: StatusConfirmed},
		},
	}
	assert.Error(t, order.CheckTimeline())
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	now := time.Now()
	order := Order{
		ID:       "ord-3",
		Items:    []OrderItem{{ProductID: "p1", Quantity: 1, UnitPriceAtPurchase: 100}},
		Attempts: []PaymentAttempt{{ID: "a1", Outcome: OutcomePending, ResolvedAt: &now}},
		Timeline: []TimelineEntry{{Status: StatusPending}},
		Tracking: &Tracking{Carrier: "DHL"},
	}

	clone := order.Clone()
	clone.Items[0].Quantity = 9
	clone.Attempts[0].Outcome = OutcomeFailed
	clone.Timeline = append(clone.Timeline, TimelineEntry{Status: StatusCancelled})
	clone.Tracking.Carrier = "UPS"

	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.Equal(t, OutcomePending, order.Attempts[0].Outcome)
	assert.Len(t, order.Timeline, 1)
	assert.Equal(t, "DHL", order.Tracking.Carrier)
	assert.NotSame(t, order.Attempts[0].ResolvedAt, clone.Attempts[0].ResolvedAt)
}

func TestAttemptLookups(t *testing.T) {
	order := Order{Attempts: []PaymentAttempt{
		{ID: "a1", ProcessorReference: "ref-1", Outcome: OutcomeFailed},
		{ID: "a2", ProcessorReference: "ref-2", Outcome: OutcomePending},
	}}

	active, ok := order.ActiveAttempt()
	require.True(t, ok)
	assert.Equal(t, "a2", active.ID)

	_, ok = order.SucceededAttempt()
	assert.False(t, ok)

	byRef, ok := order.AttemptByReference("ref-1")
	require.True(t, ok)
	assert.Equal(t, "a1", byRef.ID)

	assert.Equal(t, []string{"ref-1", "ref-2"}, order.ProcessorReferences())
}
