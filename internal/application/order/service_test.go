package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/shopkit/checkout/internal/domain/order"
	domstock "github.com/shopkit/checkout/internal/domain/stock"
	"github.com/shopkit/checkout/internal/infrastructure/memory"
	"github.com/shopkit/checkout/internal/pkg/keymutex"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	orders *memory.OrderRepository
	ledger *memory.StockLedger
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders: memory.NewOrderRepository(),
		ledger: memory.NewStockLedger(),
	}
	f.svc = NewService(f.orders, f.ledger, nil, keymutex.New(), nil)
	return f
}

func (f *fixture) seedOrder(t *testing.T, orderID string, status domain.Status, window time.Duration) *domain.Order {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.ledger.SetTotal(ctx, "p-1", 10))
	_, err := f.ledger.Reserve(ctx, orderID, []domstock.Line{{ProductID: "p-1", Quantity: 2}})
	require.NoError(t, err)

	o, err := domain.New(orderID, "owner-1", "USD", []domain.Line{
		{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
	}, window)
	require.NoError(t, err)
	o.Status = status
	require.NoError(t, f.orders.Insert(ctx, o))
	return o
}

func TestTransitionCommitsOnPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "ord-1", domain.StatusAwaitingPayment, 15*time.Minute)

	o, err := f.svc.Transition(ctx, "ord-1", domain.TriggerPaymentAuthorized)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, o.Status)

	rs, _ := f.ledger.ByOrder(ctx, "ord-1")
	require.Len(t, rs, 1)
	assert.Equal(t, domstock.StateCommitted, rs[0].State)
}

func TestTransitionReleasesOnExpire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "ord-1", domain.StatusAwaitingPayment, 15*time.Minute)

	o, err := f.svc.Transition(ctx, "ord-1", domain.TriggerExpire)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, o.Status)

	available, _ := f.ledger.Available(ctx, "p-1")
	assert.Equal(t, 10, available)
}

func TestRefundRestoresCommittedStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "ord-1", domain.StatusAwaitingPayment, 15*time.Minute)

	_, err := f.svc.Transition(ctx, "ord-1", domain.TriggerPaymentAuthorized)
	require.NoError(t, err)
	available, _ := f.ledger.Available(ctx, "p-1")
	require.Equal(t, 8, available)

	o, err := f.svc.Transition(ctx, "ord-1", domain.TriggerRefund)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, o.Status)

	available, _ = f.ledger.Available(ctx, "p-1")
	assert.Equal(t, 10, available)
}

func TestTransitionIllegalLeavesOrderUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "ord-1", domain.StatusAwaitingPayment, 15*time.Minute)

	_, err := f.svc.Transition(ctx, "ord-1", domain.TriggerShip)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	o, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, o.Status)
}

func TestTransitionUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transition(context.Background(), "ghost", domain.TriggerExpire)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentAuthorizeAndExpireSettleOnce(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f := newFixture(t)
		orderID := fmt.Sprintf("ord-%d", i)
		f.seedOrder(t, orderID, domain.StatusAwaitingPayment, 15*time.Minute)

		var wg sync.WaitGroup
		results := make([]error, 2)

		wg.Add(2)
		go func() {
			defer wg.Done()
			_, results[0] = f.svc.Transition(ctx, orderID, domain.TriggerPaymentAuthorized)
		}()
		go func() {
			defer wg.Done()
			_, results[1] = f.svc.Transition(ctx, orderID, domain.TriggerExpire)
		}()
		wg.Wait()

		// Exactly one trigger wins; the loser sees an illegal transition.
		winners := 0
		for _, err := range results {
			if err == nil {
				winners++
			} else {
				assert.ErrorIs(t, err, domain.ErrIllegalTransition)
			}
		}
		require.Equal(t, 1, winners)

		o, err := f.orders.Get(ctx, orderID)
		require.NoError(t, err)
		require.Contains(t, []domain.Status{domain.StatusPaid, domain.StatusExpired}, o.Status)

		// The ledger agrees with whichever side won.
		available, _ := f.ledger.Available(ctx, "p-1")
		if o.Status == domain.StatusPaid {
			assert.Equal(t, 8, available)
		} else {
			assert.Equal(t, 10, available)
		}
	}
}

func TestRepairCommitsPaidOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Simulate a crash after the status write for paid but before the ledger
	// commit: status paid, reservations still held.
	f.seedOrder(t, "ord-1", domain.StatusPaid, 15*time.Minute)

	require.NoError(t, f.svc.Repair(ctx))

	rs, _ := f.ledger.ByOrder(ctx, "ord-1")
	require.Len(t, rs, 1)
	assert.Equal(t, domstock.StateCommitted, rs[0].State)
}

func TestRepairReleasesExpiredAndCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.seedOrder(t, "ord-1", domain.StatusExpired, 15*time.Minute)

	require.NoError(t, f.svc.Repair(ctx))

	available, _ := f.ledger.Available(ctx, "p-1")
	assert.Equal(t, 10, available)
}

func TestRepairReleasesRefundedStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Crash between the refund's status write and the committed release.
	f.seedOrder(t, "ord-1", domain.StatusAwaitingPayment, 15*time.Minute)
	_, err := f.svc.Transition(ctx, "ord-1", domain.TriggerPaymentAuthorized)
	require.NoError(t, err)
	o, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	o.Status = domain.StatusRefunded
	require.NoError(t, f.orders.Update(ctx, o))

	require.NoError(t, f.svc.Repair(ctx))

	available, _ := f.ledger.Available(ctx, "p-1")
	assert.Equal(t, 10, available)
}

func TestRepairIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "ord-1", domain.StatusPaid, 15*time.Minute)

	require.NoError(t, f.svc.Repair(ctx))
	require.NoError(t, f.svc.Repair(ctx))

	available, _ := f.ledger.Available(ctx, "p-1")
	assert.Equal(t, 8, available)
}
