package events

import (
	"context"
	"errors"

	"github.com/aditya/ridedispatch/internal/models"
)

// Publisher delivers outbound ride events.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, models.Event) error { return nil }

// Fanout publishes to every publisher, even when one of them fails.
type Fanout []Publisher

func NewFanout(publishers ...Publisher) Fanout {
	out := make(Fanout, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f Fanout) Publish(ctx context.Context, event models.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
