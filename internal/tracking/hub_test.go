package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/logging"
	"github.com/aditya/ridedispatch/internal/models"
)

type fakeRides struct {
	mu    sync.Mutex
	rides map[string]*models.Ride
}

func (f *fakeRides) GetEndpoints(_ context.Context, rideID string) (*models.Endpoints, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rides[rideID]
	if !ok {
		return nil, apperrors.NotFound("ride")
	}
	return r.Endpoints(), nil
}

func (f *fakeRides) UpdateTrackedPosition(_ context.Context, rideID, driverID string, lat, lng float64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rides[rideID]
	if !ok {
		return apperrors.NotFound("ride")
	}
	if r.Status != models.RideStatusInProgress {
		return apperrors.InvalidTransition(string(r.Status), "position update")
	}
	if !r.HeldBy(driverID) {
		return apperrors.NotAuthorized("driver does not hold this ride")
	}
	r.CurrentLat, r.CurrentLng, r.PositionAt = &lat, &lng, &at
	return nil
}

func f64(v float64) *float64 { return &v }

func newTestHub(rides ...*models.Ride) (*Hub, *fakeRides) {
	fr := &fakeRides{rides: make(map[string]*models.Ride)}
	for _, r := range rides {
		fr.rides[r.ID] = r
	}
	return NewHub(NewRooms(nil, logging.Discard()), fr, 30, logging.Discard()), fr
}

func inProgressRide(id string, distanceKm *float64) *models.Ride {
	driver := "d1"
	return &models.Ride{
		ID:         id,
		DriverID:   &driver,
		Status:     models.RideStatusInProgress,
		PickupLat:  0,
		PickupLng:  0,
		DropoffLat: 0,
		DropoffLng: 0.1,
		DistanceKm: distanceKm,
	}
}

func drain(t *testing.T, sub *Subscriber) []models.Event {
	t.Helper()
	var out []models.Event
	for {
		select {
		case msg := <-sub.Send:
			var e models.Event
			if err := json.Unmarshal(msg, &e); err != nil {
				t.Fatalf("bad message %s: %v", msg, err)
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestReportPositionBroadcastsLocationAndProgress(t *testing.T) {
	hub, _ := newTestHub(inProgressRide("r1", f64(20)))
	sub := NewSubscriber()
	hub.Join(sub, "r1")

	pos, progress, err := hub.ReportPosition(context.Background(), models.PositionReport{
		DriverID: "d1", RideID: "r1", Lat: f64(0), Lng: f64(0),
	})
	if err != nil {
		t.Fatalf("ReportPosition() error = %v", err)
	}
	if pos.Lat != 0 || pos.Lng != 0 {
		t.Errorf("position = %+v", pos)
	}

	// dropoff is ~11.12 km away at 30 km/h
	if progress.RemainingKm < 11.1 || progress.RemainingKm > 11.15 {
		t.Errorf("remaining = %v, want ~11.12", progress.RemainingKm)
	}
	if progress.ETAMinutes < 22.2 || progress.ETAMinutes > 22.3 {
		t.Errorf("eta = %v, want ~22.24", progress.ETAMinutes)
	}
	if progress.ProgressPercent == nil || *progress.ProgressPercent < 44 || *progress.ProgressPercent > 45 {
		t.Errorf("progress = %v, want ~44.4", progress.ProgressPercent)
	}

	events := drain(t, sub)
	if len(events) != 2 || events[0].Type != models.EventRideLocation || events[1].Type != models.EventRideProgress {
		t.Fatalf("events = %+v, want ride_location then ride_progress", events)
	}
}

func TestProgressUnavailableWithoutDistance(t *testing.T) {
	tests := []struct {
		name     string
		distance *float64
	}{
		{"unknown distance", nil},
		{"zero distance", f64(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, _ := newTestHub(inProgressRide("r1", tt.distance))
			_, progress, err := hub.ReportPosition(context.Background(), models.PositionReport{
				DriverID: "d1", RideID: "r1", Lat: f64(0), Lng: f64(0.05),
			})
			if err != nil {
				t.Fatalf("ReportPosition() error = %v", err)
			}
			if progress.ProgressPercent != nil {
				t.Errorf("progress = %v, want unavailable", *progress.ProgressPercent)
			}
		})
	}
}

func TestProgressClampedToHundred(t *testing.T) {
	hub, _ := newTestHub(inProgressRide("r1", f64(1)))
	// 11 km away on a 1 km route would be negative progress
	_, progress, _ := hub.ReportPosition(context.Background(), models.PositionReport{
		DriverID: "d1", RideID: "r1", Lat: f64(0), Lng: f64(0),
	})
	if progress.ProgressPercent == nil || *progress.ProgressPercent != 0 {
		t.Errorf("progress = %v, want 0", progress.ProgressPercent)
	}
}

func TestReportPositionRejections(t *testing.T) {
	pending := inProgressRide("pending", f64(10))
	pending.Status = models.RideStatusAccepted

	tests := []struct {
		name    string
		report  models.PositionReport
		wantErr error
	}{
		{"missing lat", models.PositionReport{DriverID: "d1", RideID: "r1", Lng: f64(1)}, apperrors.ErrBadRequest},
		{"missing ride", models.PositionReport{DriverID: "d1", Lat: f64(1), Lng: f64(1)}, apperrors.ErrBadRequest},
		{"out of range", models.PositionReport{DriverID: "d1", RideID: "r1", Lat: f64(91), Lng: f64(1)}, apperrors.ErrBadRequest},
		{"ride not in progress", models.PositionReport{DriverID: "d1", RideID: "pending", Lat: f64(1), Lng: f64(1)}, apperrors.ErrInvalidTransition},
		{"wrong driver", models.PositionReport{DriverID: "d2", RideID: "r1", Lat: f64(1), Lng: f64(1)}, apperrors.ErrNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, fr := newTestHub(inProgressRide("r1", f64(10)), pending)
			sub := NewSubscriber()
			hub.Join(sub, tt.report.RideID)

			_, _, err := hub.ReportPosition(context.Background(), tt.report)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			for id, r := range fr.rides {
				if r.CurrentLat != nil {
					t.Errorf("ride %s position mutated", id)
				}
			}
			if got := drain(t, sub); len(got) != 0 {
				t.Errorf("broadcast %d events after a rejected report", len(got))
			}
		})
	}
}

func TestStaleReportRejected(t *testing.T) {
	hub, fr := newTestHub(inProgressRide("r1", f64(10)))
	now := time.Now().UTC()
	earlier := now.Add(-time.Minute)

	if _, _, err := hub.ReportPosition(context.Background(), models.PositionReport{
		DriverID: "d1", RideID: "r1", Lat: f64(0), Lng: f64(0.01), SentAt: &now,
	}); err != nil {
		t.Fatalf("first report: %v", err)
	}
	_, _, err := hub.ReportPosition(context.Background(), models.PositionReport{
		DriverID: "d1", RideID: "r1", Lat: f64(0), Lng: f64(0.02), SentAt: &earlier,
	})
	if !errors.Is(err, apperrors.ErrStalePosition) {
		t.Fatalf("err = %v, want stale position", err)
	}
	if *fr.rides["r1"].CurrentLng != 0.01 {
		t.Errorf("stored lng = %v, want 0.01", *fr.rides["r1"].CurrentLng)
	}
}

func TestFutureSentAtDoesNotFreezeRide(t *testing.T) {
	hub, fr := newTestHub(inProgressRide("r1", f64(10)))
	ctx := context.Background()
	tomorrow := time.Now().UTC().Add(24 * time.Hour)

	first, _, err := hub.ReportPosition(ctx, models.PositionReport{
		DriverID: "d1", RideID: "r1", Lat: f64(0), Lng: f64(0.01), SentAt: &tomorrow,
	})
	if err != nil {
		t.Fatalf("skewed report: %v", err)
	}
	if first.Timestamp.After(time.Now().UTC()) {
		t.Errorf("timestamp %v is in the future", first.Timestamp)
	}

	if _, _, err := hub.ReportPosition(ctx, models.PositionReport{
		DriverID: "d1", RideID: "r1", Lat: f64(0), Lng: f64(0.02),
	}); err != nil {
		t.Fatalf("report without sent_at: %v", err)
	}
	if got := *fr.rides["r1"].CurrentLng; got != 0.02 {
		t.Errorf("stored lng = %v, want 0.02", got)
	}
	pos, err := hub.CurrentPosition(ctx, "r1")
	if err != nil || pos.Lng != 0.02 {
		t.Errorf("current position = %+v, %v", pos, err)
	}
}

func TestReportTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	tests := []struct {
		name   string
		sentAt *time.Time
		want   time.Time
	}{
		{"missing uses now", nil, now},
		{"past kept", &past, past},
		{"future capped", &future, now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reportTime(tt.sentAt, now); !got.Equal(tt.want) {
				t.Errorf("reportTime = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConcurrentReportsKeepNewestPosition(t *testing.T) {
	hub, fr := newTestHub(inProgressRide("r1", f64(10)))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)
	const n = 50

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sent := base.Add(time.Duration(i) * time.Millisecond)
			hub.ReportPosition(ctx, models.PositionReport{
				DriverID: "d1", RideID: "r1", Lat: f64(0), Lng: f64(float64(i) / 1000), SentAt: &sent,
			})
		}(i)
	}
	wg.Wait()

	want := float64(n) / 1000
	if got := *fr.rides["r1"].CurrentLng; got != want {
		t.Errorf("stored lng = %v, want %v", got, want)
	}
	pos, err := hub.CurrentPosition(ctx, "r1")
	if err != nil {
		t.Fatalf("CurrentPosition() error = %v", err)
	}
	if pos.Lng != want || !pos.Timestamp.Equal(*fr.rides["r1"].PositionAt) {
		t.Errorf("current position = %+v, stored at %v", pos, *fr.rides["r1"].PositionAt)
	}
}

func TestCurrentPosition(t *testing.T) {
	hub, _ := newTestHub(inProgressRide("r1", f64(10)))
	ctx := context.Background()

	if _, err := hub.CurrentPosition(ctx, "r1"); !errors.Is(err, apperrors.ErrNotAvailable) {
		t.Fatalf("err = %v, want not available", err)
	}
	hub.ReportPosition(ctx, models.PositionReport{DriverID: "d1", RideID: "r1", Lat: f64(0.5), Lng: f64(0.5)})

	pos, err := hub.CurrentPosition(ctx, "r1")
	if err != nil {
		t.Fatalf("CurrentPosition() error = %v", err)
	}
	if pos.Lat != 0.5 || pos.DriverID != "d1" {
		t.Errorf("position = %+v", pos)
	}

	hub.Publish(ctx, models.NewEvent(models.EventRideCompleted, "r1", "d1", nil))
	// falls back to the position stored on the ride
	pos, err = hub.CurrentPosition(ctx, "r1")
	if err != nil || pos.Lat != 0.5 {
		t.Errorf("after completion = %+v, %v", pos, err)
	}
}

func TestRoomMembership(t *testing.T) {
	hub, _ := newTestHub()
	a, b := NewSubscriber(), NewSubscriber()

	if !hub.Join(a, "r1") {
		t.Error("first join reported as duplicate")
	}
	if hub.Join(a, "r1") {
		t.Error("second join reported as new")
	}
	hub.Join(b, "r1")
	hub.JoinDriverChannel(b, "d1")
	if got := hub.RoomSize(RideRoom("r1")); got != 2 {
		t.Errorf("room size = %d, want 2", got)
	}

	hub.Leave(a, "r1")
	if got := hub.RoomSize(RideRoom("r1")); got != 1 {
		t.Errorf("room size after leave = %d, want 1", got)
	}

	hub.Disconnect(b)
	if hub.RoomSize(RideRoom("r1")) != 0 || hub.RoomSize(DriverRoom("d1")) != 0 {
		t.Error("disconnect left memberships behind")
	}
	if _, ok := <-b.Send; ok {
		t.Error("send channel still open after disconnect")
	}
}

func TestEventRouting(t *testing.T) {
	hub, _ := newTestHub()
	rider, driver := NewSubscriber(), NewSubscriber()
	hub.Join(rider, "r1")
	hub.JoinDriverChannel(driver, "d1")
	ctx := context.Background()

	tests := []struct {
		event      models.Event
		wantRider  int
		wantDriver int
	}{
		{models.NewEvent(models.EventNewRideRequest, "r1", "d1", nil), 0, 1},
		{models.NewEvent(models.EventRideAssigned, "r1", "d1", nil), 1, 1},
		{models.NewEvent(models.EventDriverAccepted, "r1", "d1", nil), 1, 0},
		{models.NewEvent(models.EventRideCancelled, "r1", "d1", nil), 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.event.Type, func(t *testing.T) {
			hub.Publish(ctx, tt.event)
			if got := len(drain(t, rider)); got != tt.wantRider {
				t.Errorf("rider got %d, want %d", got, tt.wantRider)
			}
			if got := len(drain(t, driver)); got != tt.wantDriver {
				t.Errorf("driver got %d, want %d", got, tt.wantDriver)
			}
		})
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	rooms := NewRooms(nil, logging.Discard())
	sub := NewSubscriber()
	rooms.Join(sub, "ride:r1")

	for i := 0; i < subscriberBacklog+10; i++ {
		rooms.Broadcast(context.Background(), "ride:r1", []byte(`{}`))
	}
	if len(sub.Send) != subscriberBacklog {
		t.Errorf("buffered = %d, want %d", len(sub.Send), subscriberBacklog)
	}
}
