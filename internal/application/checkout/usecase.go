package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	domcart "github.com/shopkit/checkout/internal/domain/cart"
	"github.com/shopkit/checkout/internal/domain/catalog"
	domorder "github.com/shopkit/checkout/internal/domain/order"
	domoutbox "github.com/shopkit/checkout/internal/domain/outbox"
	"github.com/shopkit/checkout/internal/domain/payment"
	"github.com/shopkit/checkout/internal/domain/stock"
	"github.com/shopkit/checkout/internal/observability"
	"github.com/shopkit/checkout/internal/observability/logctx"

	orderapp "github.com/shopkit/checkout/internal/application/order"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	checkoutService      = "checkout-service"
	useCaseCheckout      = "checkout.execute"
	useCaseEnsureIntent  = "checkout.ensure_intent"
	spanPrefix           = "UC."
	publishPeer          = "outbox"
	publishEndpointOrder = "order.created"
	publishTimeout       = 300 * time.Millisecond
)

var (
	ErrEmptyCart = domcart.ErrEmpty
	ErrNotFound  = domorder.ErrNotFound
)

// IDGenerator mints order identifiers.
type IDGenerator interface {
	NewID() string
}

// UseCase materializes a cart into an order with held stock reservations and
// a payment intent. Materialization and intent creation are two steps on
// purpose: a gateway outage after the reserve must not undo the order, only
// leave the intent to be re-requested.
type UseCase struct {
	carts    domcart.Repository
	catalog  catalog.Provider
	ledger   stock.Ledger
	orders   domorder.Repository
	attempts payment.AttemptRepository
	gateway  payment.Gateway
	orderSvc *orderapp.Service

	idGenerator IDGenerator
	publisher   domoutbox.Publisher
	tel         observability.Observability

	currency      string
	paymentWindow time.Duration

	log observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}

	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
	reservations observability.Counter   // stock_reservations_total{state}
}

func NewUseCase(
	carts domcart.Repository,
	catalogProvider catalog.Provider,
	ledger stock.Ledger,
	orders domorder.Repository,
	attempts payment.AttemptRepository,
	gateway payment.Gateway,
	orderSvc *orderapp.Service,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	currency string,
	paymentWindow time.Duration,
	tel observability.Observability,
) *UseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metricsProvider := tel.Metrics()

	return &UseCase{
		carts:         carts,
		catalog:       catalogProvider,
		ledger:        ledger,
		orders:        orders,
		attempts:      attempts,
		gateway:       gateway,
		orderSvc:      orderSvc,
		idGenerator:   idGen,
		publisher:     publisher,
		tel:           tel,
		currency:      currency,
		paymentWindow: paymentWindow,
		log:           tel.Logger().With(observability.F("service", checkoutService)),
		reqCounter:    metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram:  metricsProvider.Histogram(observability.MUsecaseDuration),
		extCounter:    metricsProvider.Counter(observability.MExternalRequests),
		extHistogram:  metricsProvider.Histogram(observability.MExternalRequestDuration),
		reservations:  metricsProvider.Counter(observability.MStockReservations),
	}
}

type Result struct {
	OrderID     string
	Status      domorder.Status
	TotalAmount string
	Currency    string
	IntentID    string
	ExpiresAt   time.Time
}

// Execute runs the full checkout: price the cart, reserve stock, persist the
// order snapshot, clear the cart, then request a payment intent. If the
// gateway call fails the order and its reservations survive and the returned
// Result carries the order id alongside the error, so the caller can retry
// intent creation without checking out again.
func (uc *UseCase) Execute(ctx context.Context, ownerID string) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseCheckout),
		observability.F("owner_id", ownerID),
	)

	var orderID string
	var publishErr error

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"Checkout",
		attribute.String("use_case", useCaseCheckout),
		attribute.String("checkout.owner_id", ownerID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseCheckout),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCaseCheckout),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if orderID != "" {
			fields = append(fields, observability.F("order_id", orderID))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}()

	if ownerID == "" {
		outcome, statusText = "error", "OWNER_ID_REQUIRED"
		return nil, newValidation("owner id is required")
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	c, err := uc.carts.Get(ctx, ownerID)
	if errors.Is(err, domcart.ErrNotFound) || (err == nil && c.Empty()) {
		outcome, statusText = "rejected", "EMPTY_CART"
		return nil, ErrEmptyCart
	}
	if err != nil {
		outcome, statusText = "error", "CART_LOAD_FAILED"
		return nil, fmt.Errorf("checkout: load cart: %w", err)
	}

	orderLines, stockLines, err := uc.priceLines(ctx, c)
	if err != nil {
		outcome, statusText = "rejected", "PRODUCT_UNAVAILABLE"
		return nil, err
	}

	orderID = uc.idGenerator.NewID()
	span.SetAttributes(attribute.String("order.id", orderID))

	if _, err := uc.ledger.Reserve(ctx, orderID, stockLines); err != nil {
		if errors.Is(err, stock.ErrInsufficientStock) {
			outcome, statusText = "rejected", "INSUFFICIENT_STOCK"
		} else {
			outcome, statusText = "error", "RESERVE_FAILED"
		}
		return nil, err
	}
	uc.reservations.Add(float64(len(stockLines)), observability.L("state", string(stock.StateHeld)))

	entity, err := domorder.New(orderID, ownerID, uc.currency, orderLines, uc.paymentWindow)
	if err != nil {
		uc.rollbackReserve(ctx, orderID, logger)
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, fmt.Errorf("checkout: construct order: %w", err)
	}
	if err := uc.orders.Insert(ctx, entity); err != nil {
		uc.rollbackReserve(ctx, orderID, logger)
		outcome, statusText = "error", "ORDER_INSERT_FAILED"
		return nil, fmt.Errorf("checkout: insert order: %w", err)
	}

	// The order now owns the lines; a failed cart delete costs a stale cart,
	// not a double sale.
	if err := uc.carts.Delete(ctx, ownerID); err != nil && !errors.Is(err, domcart.ErrNotFound) {
		logger.Warn("cart_clear_failed", observability.F("error", err.Error()))
	}

	publishErr = uc.publishCreated(ctx, entity)
	if publishErr != nil {
		statusText = "EVENT_PUBLISH_FAILED"
	}

	span.AddEvent("order.materialized",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.Int("order.line_count", len(orderLines)),
		),
	)

	res := &Result{
		OrderID:     entity.ID,
		Status:      entity.Status,
		TotalAmount: entity.TotalAmount.StringFixed(2),
		Currency:    entity.Currency,
		ExpiresAt:   entity.ExpiresAt,
	}

	intentID, intentErr := uc.ensureIntentLocked(ctx, entity.ID, logger)
	if intentErr != nil {
		outcome, statusText = "error", "GATEWAY_UNAVAILABLE"
		return res, intentErr
	}
	res.IntentID = intentID

	return res, nil
}

// EnsureIntent returns the order's payment intent, creating one at the
// gateway only if none is stored yet. Retrying after a gateway failure or a
// dropped response hits the stored intent, never a second charge setup.
func (uc *UseCase) EnsureIntent(ctx context.Context, ownerID, orderID string) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseEnsureIntent),
		observability.F("order_id", orderID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"EnsureIntent",
		attribute.String("use_case", useCaseEnsureIntent),
		attribute.String("order.id", orderID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseEnsureIntent),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(time.Since(start).Seconds(),
			observability.L("use_case", useCaseEnsureIntent),
		)
	}()

	unlock := uc.orderSvc.Locks().Lock(orderID)
	defer unlock()

	o, err := uc.orders.Get(ctx, orderID)
	if err != nil {
		outcome, statusText = "error", "ORDER_NOT_FOUND"
		return nil, err
	}
	if o.OwnerID != ownerID {
		outcome, statusText = "rejected", "ORDER_NOT_FOUND"
		return nil, ErrNotFound
	}
	if !o.AwaitingPayment() {
		outcome, statusText = "rejected", "NOT_AWAITING_PAYMENT"
		return nil, domorder.ErrIllegalTransition
	}

	intentID, err := uc.intentForHeld(ctx, o, logger)
	if err != nil {
		outcome, statusText = "error", "GATEWAY_UNAVAILABLE"
		return nil, err
	}

	return &Result{
		OrderID:     o.ID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Currency:    o.Currency,
		IntentID:    intentID,
		ExpiresAt:   o.ExpiresAt,
	}, nil
}

// ensureIntentLocked is the Execute-side variant: it takes the order lock
// itself before delegating.
func (uc *UseCase) ensureIntentLocked(ctx context.Context, orderID string, logger observability.Logger) (string, error) {
	unlock := uc.orderSvc.Locks().Lock(orderID)
	defer unlock()

	o, err := uc.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	return uc.intentForHeld(ctx, o, logger)
}

// intentForHeld does the actual work; the caller holds the order's lock.
func (uc *UseCase) intentForHeld(ctx context.Context, o *domorder.Order, logger observability.Logger) (string, error) {
	if o.GatewayIntentID != "" {
		return o.GatewayIntentID, nil
	}

	// The gateway adapter records its own external-call metrics.
	intentID, err := uc.gateway.CreateIntent(ctx, o.ID, o.TotalAmount, o.Currency)
	if err != nil {
		logger.Warn("create_intent_failed", observability.F("error", err.Error()))
		return "", fmt.Errorf("checkout: create intent: %w", err)
	}

	if _, err := uc.orderSvc.SetIntentHeld(ctx, o.ID, intentID); err != nil {
		return "", fmt.Errorf("checkout: store intent: %w", err)
	}

	now := time.Now().UTC()
	attempt := &payment.Attempt{
		ID:              uc.idGenerator.NewID(),
		OrderID:         o.ID,
		GatewayIntentID: intentID,
		Outcome:         payment.OutcomePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := uc.attempts.Insert(ctx, attempt); err != nil {
		return "", fmt.Errorf("checkout: record attempt: %w", err)
	}

	logger.Info("intent_created", observability.F("intent_id", intentID))
	return intentID, nil
}

// priceLines snapshots the cart against the catalog. Lines are ordered by
// product id so reservation and persistence see a stable sequence.
func (uc *UseCase) priceLines(ctx context.Context, c *domcart.Cart) ([]domorder.Line, []stock.Line, error) {
	productIDs := make([]string, 0, len(c.Lines))
	for id := range c.Lines {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	orderLines := make([]domorder.Line, 0, len(productIDs))
	stockLines := make([]stock.Line, 0, len(productIDs))
	for _, id := range productIDs {
		line := c.Lines[id]
		av, err := uc.catalog.GetAvailability(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("checkout: product %s: %w", id, err)
		}
		orderLines = append(orderLines, domorder.Line{
			ProductID: id,
			Quantity:  line.Quantity,
			UnitPrice: av.Price,
		})
		stockLines = append(stockLines, stock.Line{ProductID: id, Quantity: line.Quantity})
	}
	return orderLines, stockLines, nil
}

func (uc *UseCase) rollbackReserve(ctx context.Context, orderID string, logger observability.Logger) {
	if err := uc.ledger.Release(ctx, orderID); err != nil {
		logger.Error("reserve_rollback_failed",
			observability.F("order_id", orderID),
			observability.F("error", err.Error()),
		)
	}
}

func (uc *UseCase) publishCreated(ctx context.Context, o *domorder.Order) error {
	if uc.publisher == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	pubStart := time.Now()
	pubOutcome := "success"
	err := uc.publisher.Publish(pubCtx, domorder.NewCreatedEvent(o))
	if err != nil {
		pubOutcome = "error"
	}

	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", publishEndpointOrder),
		observability.L("outcome", pubOutcome),
	)
	uc.extHistogram.Observe(time.Since(pubStart).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", publishEndpointOrder),
	)
	return err
}

func newValidation(msg string) error {
	return fmt.Errorf("validation: %w", errors.New(msg))
}
