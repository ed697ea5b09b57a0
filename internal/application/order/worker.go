package order

import (
	"context"

	domain "github.com/shopkit/checkout/internal/domain/order"
	domoutbox "github.com/shopkit/checkout/internal/domain/outbox"
	"github.com/shopkit/checkout/internal/observability"
	"github.com/shopkit/checkout/internal/observability/logctx"
)

// AuditWorker consumes order lifecycle events off the bus and turns them into
// a structured audit log plus a lifecycle counter. It is the in-process
// counterpart of the Kafka export: both subscribe to the same events.
type AuditWorker struct {
	subscriber domoutbox.Subscriber

	log       observability.Logger
	lifecycle observability.Counter // order_lifecycle_events_total{event,status}
}

func NewAuditWorker(subscriber domoutbox.Subscriber, tel observability.Observability) *AuditWorker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &AuditWorker{
		subscriber: subscriber,
		log:        tel.Logger().With(observability.F("service", "order-audit")),
		lifecycle:  tel.Metrics().Counter(observability.MOrderLifecycleEvents),
	}
}

func (w *AuditWorker) Start() {
	if w.subscriber == nil {
		return
	}
	w.subscriber.Subscribe(domain.CreatedEvent{}.EventName(), w.handleCreated)
	w.subscriber.Subscribe(domain.StatusChangedEvent{}.EventName(), w.handleStatusChanged)
}

func (w *AuditWorker) handleCreated(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domain.CreatedEvent)
	if !ok {
		return nil
	}

	w.lifecycle.Add(1,
		observability.L("event", evt.EventName()),
		observability.L("status", string(domain.StatusAwaitingPayment)),
	)
	logctx.FromOr(ctx, w.log).Info("order_created",
		observability.F("order_id", evt.OrderID),
		observability.F("owner_id", evt.OwnerID),
		observability.F("total_amount", evt.TotalAmount.StringFixed(2)),
		observability.F("currency", evt.Currency),
		observability.F("line_count", evt.LineCount),
		observability.F("expires_at", evt.ExpiresAt),
	)
	return nil
}

func (w *AuditWorker) handleStatusChanged(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domain.StatusChangedEvent)
	if !ok {
		return nil
	}

	w.lifecycle.Add(1,
		observability.L("event", evt.EventName()),
		observability.L("status", string(evt.To)),
	)
	logctx.FromOr(ctx, w.log).Info("order_status_changed",
		observability.F("order_id", evt.OrderID),
		observability.F("from", string(evt.From)),
		observability.F("to", string(evt.To)),
		observability.F("trigger", string(evt.Trigger)),
	)
	return nil
}
