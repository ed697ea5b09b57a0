package reaper

import (
	"context"
	"errors"
	"sync"
	"time"

	orderapp "github.com/shopkit/checkout/internal/application/order"
	domorder "github.com/shopkit/checkout/internal/domain/order"
	"github.com/shopkit/checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	reaperService = "reconciliation-reaper"
	useCaseSweep  = "reaper.sweep"
	spanPrefix    = "WK."
)

// Reaper periodically expires orders whose payment window has closed. Each
// candidate goes through the order service's transition path, so a sweep
// racing a live verification loses cleanly with an illegal-transition error
// rather than clobbering a paid order.
type Reaper struct {
	repo   domorder.Repository
	orders *orderapp.Service
	tel    observability.Observability

	interval time.Duration
	batch    int

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	expired      observability.Counter   // reaper_expired_orders_total

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func New(
	repo domorder.Repository,
	orders *orderapp.Service,
	interval time.Duration,
	batch int,
	tel observability.Observability,
) *Reaper {
	if tel == nil {
		tel = observability.Nop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	metricsProvider := tel.Metrics()

	return &Reaper{
		repo:         repo,
		orders:       orders,
		tel:          tel,
		interval:     interval,
		batch:        batch,
		log:          tel.Logger().With(observability.F("service", reaperService)),
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		expired:      metricsProvider.Counter(observability.MReaperExpiredOrders),
		stop:         make(chan struct{}),
	}
}

// Start launches the sweep loop. Safe to call once; Stop waits for the
// in-flight sweep to finish.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}

func (r *Reaper) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Sweep expires every overdue order it can see right now and returns the
// number of orders it transitioned.
func (r *Reaper) Sweep(ctx context.Context) int {
	ctx, span := r.tel.Tracer().Start(ctx, spanPrefix+"ReaperSweep",
		attribute.String("use_case", useCaseSweep),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var swept, lost int

	defer func() {
		lat := time.Since(start).Seconds()
		if outcome == "error" {
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.SetAttributes(attribute.Int("reaper.expired", swept))
		span.End()

		r.reqCounter.Add(1,
			observability.L("use_case", useCaseSweep),
			observability.L("outcome", outcome),
		)
		r.durHistogram.Observe(lat,
			observability.L("use_case", useCaseSweep),
		)

		if swept > 0 || lost > 0 || outcome == "error" {
			r.log.Info("reaper_sweep_done",
				observability.F("outcome", outcome),
				observability.F("status", statusText),
				observability.F("expired", swept),
				observability.F("races_lost", lost),
				observability.F("latency_seconds", lat),
			)
		}
	}()

	candidates, err := r.repo.ListExpiring(ctx, time.Now().UTC(), r.batch)
	if err != nil {
		outcome, statusText = "error", "LIST_EXPIRING_FAILED"
		r.log.Error("reaper_list_failed", observability.F("error", err.Error()))
		return 0
	}

	for _, o := range candidates {
		if ctx.Err() != nil {
			outcome, statusText = "error", "CONTEXT_CANCELED"
			return swept
		}
		_, err := r.orders.Transition(ctx, o.ID, domorder.TriggerExpire)
		switch {
		case err == nil:
			swept++
			r.expired.Add(1)
		case errors.Is(err, domorder.ErrIllegalTransition):
			// A verification slipped in between the list and the lock. The
			// order is finalized either way.
			lost++
		case errors.Is(err, domorder.ErrNotFound):
			lost++
		default:
			outcome, statusText = "error", "EXPIRE_FAILED"
			r.log.Error("reaper_expire_failed",
				observability.F("order_id", o.ID),
				observability.F("error", err.Error()),
			)
		}
	}

	return swept
}
