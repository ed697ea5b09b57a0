package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	domorder "github.com/shopkit/checkout/internal/domain/order"
	domain "github.com/shopkit/checkout/internal/domain/payment"
	"github.com/shopkit/checkout/internal/observability"
	"github.com/shopkit/checkout/internal/observability/logctx"

	orderapp "github.com/shopkit/checkout/internal/application/order"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	paymentService = "payment-service"
	useCaseVerify  = "payment.verify"
	spanPrefix     = "UC."
)

var (
	ErrNotFound       = domorder.ErrNotFound
	ErrIntentMismatch = domain.ErrIntentMismatch
)

// VerifyInput is the gateway completion callback payload.
type VerifyInput struct {
	OrderID    string
	IntentID   string
	PaymentRef string
	Signature  string
}

type VerifyResult struct {
	Result      domain.VerificationResult
	OrderStatus domorder.Status
}

// VerifyUseCase checks a completed payment's signature and, exactly once per
// order, drives the awaiting_payment -> paid transition. The whole
// read-decide-act sequence runs under the order's lock, so a verification
// racing the reaper or a duplicate callback serializes and the loser sees the
// finalized state.
type VerifyUseCase struct {
	orders   domorder.Repository
	attempts domain.AttemptRepository
	orderSvc *orderapp.Service
	signer   domain.Signer
	idGen    IDGenerator
	tel      observability.Observability

	log observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	sigFailures  observability.Counter   // signature_failures_total
}

// IDGenerator mints attempt identifiers.
type IDGenerator interface {
	NewID() string
}

func NewVerifyUseCase(
	orders domorder.Repository,
	attempts domain.AttemptRepository,
	orderSvc *orderapp.Service,
	signer domain.Signer,
	idGen IDGenerator,
	tel observability.Observability,
) *VerifyUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metricsProvider := tel.Metrics()

	return &VerifyUseCase{
		orders:       orders,
		attempts:     attempts,
		orderSvc:     orderSvc,
		signer:       signer,
		idGen:        idGen,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", paymentService)),
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		sigFailures:  metricsProvider.Counter(observability.MSignatureFailures),
	}
}

// Execute verifies one payment completion.
func (uc *VerifyUseCase) Execute(ctx context.Context, in VerifyInput) (_ *VerifyResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseVerify),
		observability.F("order_id", in.OrderID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"VerifyPayment",
		attribute.String("use_case", useCaseVerify),
		attribute.String("order.id", in.OrderID),
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
			observability.L("use_case", useCaseVerify),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(time.Since(start).Seconds(),
			observability.L("use_case", useCaseVerify),
		)
	}()

	if in.OrderID == "" || in.IntentID == "" || in.PaymentRef == "" || in.Signature == "" {
		outcome, statusText = "error", "FIELDS_REQUIRED"
		return nil, newValidation("order id, intent id, payment ref, and signature are required")
	}

	unlock := uc.orderSvc.Locks().Lock(in.OrderID)
	defer unlock()

	o, err := uc.orders.Get(ctx, in.OrderID)
	if err != nil {
		outcome, statusText = "error", "ORDER_NOT_FOUND"
		return nil, err
	}

	if o.GatewayIntentID == "" || o.GatewayIntentID != in.IntentID {
		outcome, statusText = "rejected", "INTENT_MISMATCH"
		return nil, ErrIntentMismatch
	}

	if !uc.signer.Verify(in.IntentID, in.PaymentRef, in.Signature) {
		outcome, statusText = "rejected", "SIGNATURE_INVALID"
		uc.sigFailures.Add(1)
		logger.Warn("payment_signature_invalid",
			observability.F("intent_id", in.IntentID),
		)
		uc.recordAttempt(ctx, o.ID, in, false, domain.OutcomeFailed, logger)
		span.AddEvent("payment.signature_invalid")
		// The order is untouched; a forged callback must not block the real one.
		return &VerifyResult{Result: domain.ResultSignatureInvalid, OrderStatus: o.Status}, nil
	}

	if !o.AwaitingPayment() {
		// Duplicate delivery or a race lost against expiry; the signature was
		// genuine, so acknowledge rather than fail.
		outcome, statusText = "success", "ALREADY_FINALIZED"
		span.AddEvent("payment.already_finalized",
			trace.WithAttributes(attribute.String("order.status", string(o.Status))),
		)
		return &VerifyResult{Result: domain.ResultAlreadyFinalized, OrderStatus: o.Status}, nil
	}

	if err := uc.recordAttempt(ctx, o.ID, in, true, domain.OutcomeAuthorized, logger); err != nil {
		outcome, statusText = "error", "ATTEMPT_RECORD_FAILED"
		return nil, err
	}
	if _, err := uc.orderSvc.SetPaymentRefHeld(ctx, o.ID, in.PaymentRef); err != nil {
		outcome, statusText = "error", "PAYMENT_REF_STORE_FAILED"
		return nil, fmt.Errorf("payment: store payment ref: %w", err)
	}

	updated, err := uc.orderSvc.TransitionHeld(ctx, o.ID, domorder.TriggerPaymentAuthorized)
	if err != nil {
		outcome, statusText = "error", "TRANSITION_FAILED"
		return nil, err
	}

	span.AddEvent("payment.authorized",
		trace.WithAttributes(attribute.String("payment.ref", in.PaymentRef)),
	)
	logger.Info("payment_verified",
		observability.F("payment_ref", in.PaymentRef),
		observability.F("status", string(updated.Status)),
	)

	return &VerifyResult{Result: domain.ResultAuthorized, OrderStatus: updated.Status}, nil
}

// recordAttempt updates the pending attempt for the intent when one exists,
// and inserts a fresh row otherwise (a callback can arrive for an intent whose
// attempt insert was lost in a crash).
func (uc *VerifyUseCase) recordAttempt(
	ctx context.Context,
	orderID string,
	in VerifyInput,
	valid bool,
	result domain.Outcome,
	logger observability.Logger,
) error {
	now := time.Now().UTC()

	existing, err := uc.attempts.LatestByOrder(ctx, orderID)
	if err == nil && existing.GatewayIntentID == in.IntentID && existing.Outcome == domain.OutcomePending {
		existing.GatewayPaymentRef = in.PaymentRef
		existing.SignatureValid = valid
		existing.Outcome = result
		existing.UpdatedAt = now
		if uerr := uc.attempts.Update(ctx, existing); uerr != nil {
			logger.Error("attempt_update_failed", observability.F("error", uerr.Error()))
			return fmt.Errorf("payment: update attempt: %w", uerr)
		}
		return nil
	}
	if err != nil && !errors.Is(err, domain.ErrAttemptNotFound) {
		return fmt.Errorf("payment: load attempt: %w", err)
	}

	attempt := &domain.Attempt{
		ID:                uc.idGen.NewID(),
		OrderID:           orderID,
		GatewayIntentID:   in.IntentID,
		GatewayPaymentRef: in.PaymentRef,
		SignatureValid:    valid,
		Outcome:           result,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if ierr := uc.attempts.Insert(ctx, attempt); ierr != nil {
		logger.Error("attempt_insert_failed", observability.F("error", ierr.Error()))
		return fmt.Errorf("payment: insert attempt: %w", ierr)
	}
	return nil
}

func newValidation(msg string) error {
	return fmt.Errorf("validation: %w", errors.New(msg))
}
