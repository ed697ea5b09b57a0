package outbox

import (
	"context"
	"errors"

	domoutbox "github.com/shopkit/checkout/internal/domain/outbox"
)

type fanoutPublisher struct {
	publishers []domoutbox.Publisher
}

// Fanout publishes each event to every underlying publisher and joins the
// failures. A broker outage therefore never hides the in-process delivery.
func Fanout(publishers ...domoutbox.Publisher) domoutbox.Publisher {
	out := make([]domoutbox.Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return &fanoutPublisher{publishers: out}
}

func (f *fanoutPublisher) Publish(ctx context.Context, e domoutbox.Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
