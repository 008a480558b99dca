package events

import (
	"context"
	"errors"
	"testing"

	"github.com/aditya/ridedispatch/internal/models"
)

type recorder struct {
	events []models.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, e models.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestFanoutDeliversToAll(t *testing.T) {
	failing := &recorder{err: errors.New("broker down")}
	ok := &recorder{}
	f := NewFanout(failing, nil, ok)

	if len(f) != 2 {
		t.Fatalf("len(fanout) = %d, want 2 (nil dropped)", len(f))
	}

	err := f.Publish(context.Background(), models.NewEvent(models.EventRideStarted, "r1", "d1", nil))
	if err == nil {
		t.Error("expected the failing publisher's error")
	}
	if len(failing.events) != 1 || len(ok.events) != 1 {
		t.Errorf("deliveries = %d/%d, want 1/1", len(failing.events), len(ok.events))
	}
	if ok.events[0].Type != models.EventRideStarted {
		t.Errorf("type = %s, want %s", ok.events[0].Type, models.EventRideStarted)
	}
}

func TestNoop(t *testing.T) {
	if err := (Noop{}).Publish(context.Background(), models.Event{}); err != nil {
		t.Errorf("Noop.Publish() = %v", err)
	}
}
