package payment

import (
	"context"
	"testing"
	"time"

	orderapp "github.com/shopkit/checkout/internal/application/order"
	domorder "github.com/shopkit/checkout/internal/domain/order"
	dompayment "github.com/shopkit/checkout/internal/domain/payment"
	domstock "github.com/shopkit/checkout/internal/domain/stock"
	"github.com/shopkit/checkout/internal/infrastructure/id"
	"github.com/shopkit/checkout/internal/infrastructure/memory"
	"github.com/shopkit/checkout/internal/pkg/keymutex"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fixture struct {
	orders   *memory.OrderRepository
	ledger   *memory.StockLedger
	attempts *memory.AttemptRepository
	orderSvc *orderapp.Service
	signer   dompayment.Signer
	uc       *VerifyUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		orders:   memory.NewOrderRepository(),
		ledger:   memory.NewStockLedger(),
		attempts: memory.NewAttemptRepository(),
		signer:   dompayment.NewSigner(testSecret),
	}
	f.orderSvc = orderapp.NewService(f.orders, f.ledger, nil, keymutex.New(), nil)
	f.uc = NewVerifyUseCase(f.orders, f.attempts, f.orderSvc, f.signer, id.NewUUIDGenerator(), nil)
	return f
}

// seedAwaitingOrder creates an awaiting_payment order with held stock and a
// stored intent, the state checkout leaves behind.
func (f *fixture) seedAwaitingOrder(t *testing.T, orderID string) *domorder.Order {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.ledger.SetTotal(ctx, "p-1", 10))
	_, err := f.ledger.Reserve(ctx, orderID, []domstock.Line{{ProductID: "p-1", Quantity: 2}})
	require.NoError(t, err)

	o, err := domorder.New(orderID, "owner-1", "USD", []domorder.Line{
		{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
	}, 15*time.Minute)
	require.NoError(t, err)
	o.GatewayIntentID = "intent-" + orderID
	require.NoError(t, f.orders.Insert(ctx, o))

	require.NoError(t, f.attempts.Insert(ctx, &dompayment.Attempt{
		ID:              "att-" + orderID,
		OrderID:         orderID,
		GatewayIntentID: o.GatewayIntentID,
		Outcome:         dompayment.OutcomePending,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.CreatedAt,
	}))
	return o
}

func (f *fixture) input(o *domorder.Order, paymentRef string) VerifyInput {
	return VerifyInput{
		OrderID:    o.ID,
		IntentID:   o.GatewayIntentID,
		PaymentRef: paymentRef,
		Signature:  f.signer.Sign(o.GatewayIntentID, paymentRef),
	}
}

func TestExecuteAuthorizesPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedAwaitingOrder(t, "ord-1")

	res, err := f.uc.Execute(ctx, f.input(o, "pay-1"))
	require.NoError(t, err)
	assert.Equal(t, dompayment.ResultAuthorized, res.Result)
	assert.Equal(t, domorder.StatusPaid, res.OrderStatus)

	updated, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPaid, updated.Status)
	assert.Equal(t, "pay-1", updated.GatewayPaymentRef)

	// Held stock became committed: still unavailable, no longer releasable by expiry.
	rs, err := f.ledger.ByOrder(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, domstock.StateCommitted, rs[0].State)

	attempt, err := f.attempts.AuthorizedByOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", attempt.GatewayPaymentRef)
	assert.True(t, attempt.SignatureValid)
}

func TestExecuteDuplicateCallbackIsAlreadyFinalized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedAwaitingOrder(t, "ord-1")
	in := f.input(o, "pay-1")

	first, err := f.uc.Execute(ctx, in)
	require.NoError(t, err)
	require.Equal(t, dompayment.ResultAuthorized, first.Result)

	second, err := f.uc.Execute(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, dompayment.ResultAlreadyFinalized, second.Result)
	assert.Equal(t, domorder.StatusPaid, second.OrderStatus)

	// Exactly one authorized attempt, stock committed exactly once.
	attempt, err := f.attempts.AuthorizedByOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", attempt.GatewayPaymentRef)
	available, _ := f.ledger.Available(ctx, "p-1")
	assert.Equal(t, 8, available)
}

func TestExecuteForgedSignatureMutatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedAwaitingOrder(t, "ord-1")

	res, err := f.uc.Execute(ctx, VerifyInput{
		OrderID:    o.ID,
		IntentID:   o.GatewayIntentID,
		PaymentRef: "pay-1",
		Signature:  "deadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, dompayment.ResultSignatureInvalid, res.Result)
	assert.Equal(t, domorder.StatusAwaitingPayment, res.OrderStatus)

	updated, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusAwaitingPayment, updated.Status)
	assert.Empty(t, updated.GatewayPaymentRef)

	rs, _ := f.ledger.ByOrder(ctx, "ord-1")
	require.Len(t, rs, 1)
	assert.Equal(t, domstock.StateHeld, rs[0].State, "stock stays held for the genuine callback")

	// The failed try is on record.
	attempt, err := f.attempts.LatestByOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, dompayment.OutcomeFailed, attempt.Outcome)
	assert.False(t, attempt.SignatureValid)
}

func TestExecuteForgedThenGenuineCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedAwaitingOrder(t, "ord-1")

	forged, err := f.uc.Execute(ctx, VerifyInput{
		OrderID:    o.ID,
		IntentID:   o.GatewayIntentID,
		PaymentRef: "pay-evil",
		Signature:  "deadbeef",
	})
	require.NoError(t, err)
	require.Equal(t, dompayment.ResultSignatureInvalid, forged.Result)

	genuine, err := f.uc.Execute(ctx, f.input(o, "pay-1"))
	require.NoError(t, err)
	assert.Equal(t, dompayment.ResultAuthorized, genuine.Result)
}

func TestExecuteIntentMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAwaitingOrder(t, "ord-1")

	_, err := f.uc.Execute(ctx, VerifyInput{
		OrderID:    "ord-1",
		IntentID:   "intent-other",
		PaymentRef: "pay-1",
		Signature:  f.signer.Sign("intent-other", "pay-1"),
	})
	assert.ErrorIs(t, err, ErrIntentMismatch)
}

func TestExecuteUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Execute(context.Background(), VerifyInput{
		OrderID:    "ghost",
		IntentID:   "intent-1",
		PaymentRef: "pay-1",
		Signature:  "sig",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecuteExpiredOrderIsAlreadyFinalized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedAwaitingOrder(t, "ord-1")

	_, err := f.orderSvc.Transition(ctx, "ord-1", domorder.TriggerExpire)
	require.NoError(t, err)

	res, err := f.uc.Execute(ctx, f.input(o, "pay-late"))
	require.NoError(t, err)
	assert.Equal(t, dompayment.ResultAlreadyFinalized, res.Result)
	assert.Equal(t, domorder.StatusExpired, res.OrderStatus)

	// The late but genuine payment did not resurrect the order or re-hold stock.
	available, _ := f.ledger.Available(ctx, "p-1")
	assert.Equal(t, 10, available)
}
