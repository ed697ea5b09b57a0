package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(t *testing.T, status Status) *Order {
	t.Helper()
	o, err := New("ord-1", "owner-1", "USD", []Line{
		{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
	}, 15*time.Minute)
	require.NoError(t, err)
	o.Status = status
	return o
}

func TestNextTransitionTable(t *testing.T) {
	cases := []struct {
		name    string
		from    Status
		trigger Trigger
		want    Status
		effect  Effect
	}{
		{"authorize", StatusAwaitingPayment, TriggerPaymentAuthorized, StatusPaid, EffectCommitReservations},
		{"expire", StatusAwaitingPayment, TriggerExpire, StatusExpired, EffectReleaseReservations},
		{"cancel awaiting", StatusAwaitingPayment, TriggerCancel, StatusCancelled, EffectReleaseReservations},
		{"approve", StatusPaid, TriggerApprove, StatusApproved, EffectNone},
		{"refund paid", StatusPaid, TriggerRefund, StatusRefunded, EffectReleaseCommitted},
		{"start processing", StatusApproved, TriggerStartProcessing, StatusProcessing, EffectNone},
		{"refund approved", StatusApproved, TriggerRefund, StatusRefunded, EffectReleaseCommitted},
		{"ship", StatusProcessing, TriggerShip, StatusShipped, EffectNone},
		{"refund processing", StatusProcessing, TriggerRefund, StatusRefunded, EffectReleaseCommitted},
		{"deliver", StatusShipped, TriggerDeliver, StatusDelivered, EffectNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, effect, err := Next(tc.from, tc.trigger)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.effect, effect)
		})
	}
}

func TestNextRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		name    string
		from    Status
		trigger Trigger
	}{
		{"authorize paid twice", StatusPaid, TriggerPaymentAuthorized},
		{"expire paid", StatusPaid, TriggerExpire},
		{"authorize expired", StatusExpired, TriggerPaymentAuthorized},
		{"refund expired", StatusExpired, TriggerRefund},
		{"refund shipped", StatusShipped, TriggerRefund},
		{"cancel delivered", StatusDelivered, TriggerCancel},
		{"refund refunded", StatusRefunded, TriggerRefund},
		{"ship awaiting", StatusAwaitingPayment, TriggerShip},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Next(tc.from, tc.trigger)
			assert.ErrorIs(t, err, ErrIllegalTransition)
		})
	}
}

func TestApplyMutatesStatusOnlyOnSuccess(t *testing.T) {
	o := newTestOrder(t, StatusAwaitingPayment)

	effect, err := o.Apply(TriggerPaymentAuthorized)
	require.NoError(t, err)
	assert.Equal(t, EffectCommitReservations, effect)
	assert.Equal(t, StatusPaid, o.Status)

	_, err = o.Apply(TriggerExpire)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StatusPaid, o.Status)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusRefunded.Terminal())
	assert.False(t, StatusAwaitingPayment.Terminal())
	assert.False(t, StatusPaid.Terminal())
}

func TestParseTrigger(t *testing.T) {
	trg, err := ParseTrigger("refund")
	require.NoError(t, err)
	assert.Equal(t, TriggerRefund, trg)

	_, err = ParseTrigger("teleport")
	assert.Error(t, err)
}

func TestNewOrderTotalsAndWindow(t *testing.T) {
	o, err := New("ord-1", "owner-1", "USD", []Line{
		{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.RequireFromString("19.99")},
		{ProductID: "p-2", Quantity: 1, UnitPrice: decimal.RequireFromString("5.01")},
	}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "45.00", o.TotalAmount.StringFixed(2))
	assert.Equal(t, StatusAwaitingPayment, o.Status)
	assert.True(t, o.PaymentDue(time.Now().UTC()))
	assert.False(t, o.PaymentDue(time.Now().UTC().Add(2*time.Hour)))
}

func TestNewOrderValidation(t *testing.T) {
	_, err := New("ord-1", "owner-1", "USD", nil, time.Hour)
	assert.ErrorIs(t, err, ErrNoLines)

	_, err = New("ord-1", "owner-1", "USD", []Line{
		{ProductID: "p-1", Quantity: 0, UnitPrice: decimal.NewFromInt(1)},
	}, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = New("ord-1", "owner-1", "USD", []Line{
		{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.NewFromInt(-1)},
	}, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidUnitPrice)
}
