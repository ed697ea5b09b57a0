package order

import (
	"context"
	"fmt"
	"time"

	domain "github.com/shopkit/checkout/internal/domain/order"
	domoutbox "github.com/shopkit/checkout/internal/domain/outbox"
	"github.com/shopkit/checkout/internal/domain/stock"
	"github.com/shopkit/checkout/internal/observability"
	"github.com/shopkit/checkout/internal/observability/logctx"
	"github.com/shopkit/checkout/internal/pkg/keymutex"
)

const (
	orderService   = "order-service"
	publishTimeout = 300 * time.Millisecond
)

// Service is the order state machine: the only writer of Order.Status.
// Per-order operations are serialized through the shared key mutex, which is
// what makes verification, admin transitions, and reaper expiry mutually
// exclusive for a given order.
type Service struct {
	repo      domain.Repository
	ledger    stock.Ledger
	publisher domoutbox.Publisher
	locks     *keymutex.KeyMutex

	log          observability.Logger
	reqCounter   observability.Counter // usecase_requests_total{use_case,outcome}
	reservations observability.Counter // stock_reservations_total{state}
}

func NewService(
	repo domain.Repository,
	ledger stock.Ledger,
	publisher domoutbox.Publisher,
	locks *keymutex.KeyMutex,
	tel observability.Observability,
) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	if locks == nil {
		locks = keymutex.New()
	}
	return &Service{
		repo:       repo,
		ledger:     ledger,
		publisher:  publisher,
		locks:      locks,
		log:          tel.Logger().With(observability.F("service", orderService)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		reservations: tel.Metrics().Counter(observability.MStockReservations),
	}
}

// Locks exposes the per-order serialization so collaborating use cases
// (payment verification) can hold the same lock across their read-decide-act
// sequence.
func (s *Service) Locks() *keymutex.KeyMutex { return s.locks }

// Transition acquires the order's lock and applies the trigger.
func (s *Service) Transition(ctx context.Context, orderID string, trg domain.Trigger) (*domain.Order, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()
	return s.TransitionHeld(ctx, orderID, trg)
}

// TransitionHeld applies the trigger assuming the caller already holds the
// order's lock. The reservation side effect runs before the status write:
// should the process die between the two, startup repair re-derives the
// consistent state (both ledger operations are idempotent).
func (s *Service) TransitionHeld(ctx context.Context, orderID string, trg domain.Trigger) (*domain.Order, error) {
	logger := logctx.FromOr(ctx, s.log).With(
		observability.F("order_id", orderID),
		observability.F("trigger", string(trg)),
	)

	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := o.Status
	effect, err := o.Apply(trg)
	if err != nil {
		s.count("order.transition", "illegal")
		return nil, err
	}

	if err := s.applyEffect(ctx, orderID, effect); err != nil {
		s.count("order.transition", "error")
		logger.Error("reservation_effect_failed",
			observability.F("effect", int(effect)),
			observability.F("error", err.Error()),
		)
		return nil, fmt.Errorf("order: apply reservation effect: %w", err)
	}

	if err := s.repo.Update(ctx, o); err != nil {
		s.count("order.transition", "error")
		return nil, fmt.Errorf("order: persist status: %w", err)
	}

	s.count("order.transition", "success")
	logger.Info("order_transitioned",
		observability.F("from", string(from)),
		observability.F("to", string(o.Status)),
	)

	s.publish(ctx, domain.NewStatusChangedEvent(o.ID, from, o.Status, trg))
	return o, nil
}

// Get returns a read-only projection of the order.
func (s *Service) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.repo.Get(ctx, orderID)
}

// SetIntentHeld stores the gateway intent id on the order. Caller holds the
// order's lock. The id is written once; repeat calls with the same id are
// no-ops.
func (s *Service) SetIntentHeld(ctx context.Context, orderID, intentID string) (*domain.Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.GatewayIntentID == intentID {
		return o, nil
	}
	o.GatewayIntentID = intentID
	if err := s.repo.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// SetPaymentRefHeld stores the gateway payment reference after a successful
// verification. Caller holds the order's lock.
func (s *Service) SetPaymentRefHeld(ctx context.Context, orderID, paymentRef string) (*domain.Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.GatewayPaymentRef = paymentRef
	if err := s.repo.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Repair re-derives a consistent ledger state after a crash between a
// reservation effect and the status write. Safe to run unconditionally at
// startup: every ledger operation here is idempotent.
func (s *Service) Repair(ctx context.Context) error {
	logger := logctx.FromOr(ctx, s.log)

	committed, err := s.repo.ListByStatus(ctx,
		domain.StatusPaid, domain.StatusApproved, domain.StatusProcessing,
		domain.StatusShipped, domain.StatusDelivered,
	)
	if err != nil {
		return fmt.Errorf("order: repair list paid: %w", err)
	}
	for _, o := range committed {
		if err := s.ledger.Commit(ctx, o.ID); err != nil {
			return fmt.Errorf("order: repair commit %s: %w", o.ID, err)
		}
	}

	released, err := s.repo.ListByStatus(ctx, domain.StatusExpired, domain.StatusCancelled)
	if err != nil {
		return fmt.Errorf("order: repair list released: %w", err)
	}
	for _, o := range released {
		if err := s.ledger.Release(ctx, o.ID); err != nil {
			return fmt.Errorf("order: repair release %s: %w", o.ID, err)
		}
	}

	refunded, err := s.repo.ListByStatus(ctx, domain.StatusRefunded)
	if err != nil {
		return fmt.Errorf("order: repair list refunded: %w", err)
	}
	for _, o := range refunded {
		if err := s.ledger.Release(ctx, o.ID); err != nil {
			return fmt.Errorf("order: repair release %s: %w", o.ID, err)
		}
		if err := s.ledger.ReleaseCommitted(ctx, o.ID); err != nil {
			return fmt.Errorf("order: repair release committed %s: %w", o.ID, err)
		}
	}

	logger.Info("order_repair_done",
		observability.F("committed_checked", len(committed)),
		observability.F("released_checked", len(released)),
		observability.F("refunded_checked", len(refunded)),
	)
	return nil
}

func (s *Service) applyEffect(ctx context.Context, orderID string, effect domain.Effect) error {
	var err error
	switch effect {
	case domain.EffectCommitReservations:
		if err = s.ledger.Commit(ctx, orderID); err == nil {
			s.reservations.Add(1, observability.L("state", string(stock.StateCommitted)))
		}
	case domain.EffectReleaseReservations:
		if err = s.ledger.Release(ctx, orderID); err == nil {
			s.reservations.Add(1, observability.L("state", string(stock.StateReleased)))
		}
	case domain.EffectReleaseCommitted:
		if err = s.ledger.ReleaseCommitted(ctx, orderID); err == nil {
			s.reservations.Add(1, observability.L("state", string(stock.StateReleased)))
		}
	}
	return err
}

func (s *Service) publish(ctx context.Context, e domoutbox.Event) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, e); err != nil {
		logctx.FromOr(ctx, s.log).Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
}

func (s *Service) count(useCase, outcome string) {
	if s.reqCounter == nil {
		return
	}
	s.reqCounter.Add(1,
		observability.L("use_case", useCase),
		observability.L("outcome", outcome),
	)
}
