package reaper

import (
	"context"
	"fmt"
	"testing"
	"time"

	orderapp "github.com/shopkit/checkout/internal/application/order"
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
	svc    *orderapp.Service
	reaper *Reaper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders: memory.NewOrderRepository(),
		ledger: memory.NewStockLedger(),
	}
	f.svc = orderapp.NewService(f.orders, f.ledger, nil, keymutex.New(), nil)
	f.reaper = New(f.orders, f.svc, time.Hour, 100, nil)
	require.NoError(t, f.ledger.SetTotal(context.Background(), "p-1", 100))
	return f
}

func (f *fixture) seedOrder(t *testing.T, orderID string, window time.Duration) {
	t.Helper()
	ctx := context.Background()

	_, err := f.ledger.Reserve(ctx, orderID, []domstock.Line{{ProductID: "p-1", Quantity: 1}})
	require.NoError(t, err)

	o, err := domain.New(orderID, "owner-1", "USD", []domain.Line{
		{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)},
	}, window)
	require.NoError(t, err)
	require.NoError(t, f.orders.Insert(ctx, o))
}

func TestSweepExpiresOverdueOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		f.seedOrder(t, fmt.Sprintf("due-%d", i), -time.Minute)
	}
	f.seedOrder(t, "fresh", time.Hour)

	swept := f.reaper.Sweep(ctx)
	assert.Equal(t, 3, swept)

	for i := 0; i < 3; i++ {
		o, err := f.orders.Get(ctx, fmt.Sprintf("due-%d", i))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusExpired, o.Status)
	}
	fresh, err := f.orders.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, fresh.Status)

	// Held stock for the expired orders went back to available.
	available, _ := f.ledger.Available(ctx, "p-1")
	assert.Equal(t, 99, available)
}

func TestSweepSkipsPaidOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "ord-1", -time.Minute)

	_, err := f.svc.Transition(ctx, "ord-1", domain.TriggerPaymentAuthorized)
	require.NoError(t, err)

	swept := f.reaper.Sweep(ctx)
	assert.Equal(t, 0, swept)

	o, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, o.Status)
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, "ord-1", -time.Minute)

	assert.Equal(t, 1, f.reaper.Sweep(ctx))
	assert.Equal(t, 0, f.reaper.Sweep(ctx))

	available, _ := f.ledger.Available(ctx, "p-1")
	assert.Equal(t, 100, available)
}

func TestSweepRespectsBatchLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reaper = New(f.orders, f.svc, time.Hour, 2, nil)

	for i := 0; i < 5; i++ {
		f.seedOrder(t, fmt.Sprintf("due-%d", i), -time.Minute)
	}

	assert.Equal(t, 2, f.reaper.Sweep(ctx))
	assert.Equal(t, 2, f.reaper.Sweep(ctx))
	assert.Equal(t, 1, f.reaper.Sweep(ctx))
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t)
	f.reaper = New(f.orders, f.svc, 10*time.Millisecond, 100, nil)
	f.seedOrder(t, "ord-1", -time.Minute)

	f.reaper.Start(context.Background())

	require.Eventually(t, func() bool {
		o, err := f.orders.Get(context.Background(), "ord-1")
		return err == nil && o.Status == domain.StatusExpired
	}, time.Second, 5*time.Millisecond)

	f.reaper.Stop()
}
