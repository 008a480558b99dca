package tracking

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/observability"
	"github.com/aditya/ridedispatch/pkg/utils"
)

// RideTracker is the narrow view of the ride state machine the hub needs.
type RideTracker interface {
	GetEndpoints(ctx context.Context, rideID string) (*models.Endpoints, error)
	UpdateTrackedPosition(ctx context.Context, rideID, driverID string, lat, lng float64, at time.Time) error
}

// Hub relays driver positions to ride rooms and derives progress and ETA.
type Hub struct {
	rooms    *Rooms
	rides    RideTracker
	speedKmh float64
	logger   *slog.Logger

	mu    sync.Mutex
	last  map[string]models.Position
	locks map[string]*sync.Mutex
}

func NewHub(rooms *Rooms, rides RideTracker, speedKmh float64, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:    rooms,
		rides:    rides,
		speedKmh: speedKmh,
		logger:   logger,
		last:     make(map[string]models.Position),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Attach sets the ride tracker when it is built after the hub, as when the ride
// service publishes through the hub.
func (h *Hub) Attach(rides RideTracker) { h.rides = rides }

func (h *Hub) Join(sub *Subscriber, rideID string) bool { return h.rooms.Join(sub, RideRoom(rideID)) }
func (h *Hub) Leave(sub *Subscriber, rideID string)     { h.rooms.Leave(sub, RideRoom(rideID)) }

func (h *Hub) JoinDriverChannel(sub *Subscriber, driverID string) bool {
	return h.rooms.Join(sub, DriverRoom(driverID))
}

// Disconnect removes sub from all rooms.
func (h *Hub) Disconnect(sub *Subscriber) { h.rooms.Remove(sub) }

func (h *Hub) RoomSize(room string) int { return h.rooms.Size(room) }

// Publish forwards ride events to the rooms and forgets the last position of
// rides that ended.
func (h *Hub) Publish(ctx context.Context, event models.Event) error {
	switch event.Type {
	case models.EventRideCompleted, models.EventRideCancelled:
		h.mu.Lock()
		delete(h.last, event.RideID)
		delete(h.locks, event.RideID)
		h.mu.Unlock()
	}
	return h.rooms.Publish(ctx, event)
}

func (h *Hub) ReportPosition(ctx context.Context, report models.PositionReport) (*models.Position, *models.ProgressUpdate, error) {
	if report.DriverID == "" || report.RideID == "" || report.Lat == nil || report.Lng == nil {
		observability.PositionReports.WithLabelValues("invalid").Inc()
		return nil, nil, apperrors.BadRequest("driver_id, ride_id, lat and lng are required")
	}
	lat, lng := *report.Lat, *report.Lng
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		observability.PositionReports.WithLabelValues("invalid").Inc()
		return nil, nil, apperrors.BadRequest("coordinates out of range")
	}

	at := reportTime(report.SentAt, time.Now().UTC())

	// Reports for one ride apply in order: the stale check, the store
	// write and the in-memory record happen under the ride's lock.
	lock := h.rideLock(report.RideID)
	lock.Lock()
	if h.isStale(report.RideID, at) {
		lock.Unlock()
		observability.PositionReports.WithLabelValues("stale").Inc()
		return nil, nil, apperrors.StalePosition(report.RideID)
	}
	if err := h.rides.UpdateTrackedPosition(ctx, report.RideID, report.DriverID, lat, lng, at); err != nil {
		lock.Unlock()
		observability.PositionReports.WithLabelValues("rejected").Inc()
		return nil, nil, err
	}
	pos := models.Position{RideID: report.RideID, DriverID: report.DriverID, Lat: lat, Lng: lng, Timestamp: at}
	h.mu.Lock()
	h.last[report.RideID] = pos
	h.mu.Unlock()
	h.rooms.Publish(ctx, models.NewEvent(models.EventRideLocation, pos.RideID, pos.DriverID, pos))
	lock.Unlock()
	observability.PositionReports.WithLabelValues("applied").Inc()

	endpoints, err := h.rides.GetEndpoints(ctx, report.RideID)
	if err != nil {
		h.logger.Warn("progress skipped", "ride_id", report.RideID, "err", err)
		return &pos, nil, nil
	}
	progress := h.progress(endpoints, pos)
	h.rooms.Publish(ctx, models.NewEvent(models.EventRideProgress, pos.RideID, pos.DriverID, progress))
	return &pos, progress, nil
}

// reportTime picks the ordering timestamp for a report. A device clock
// ahead of the server is capped at now so it cannot shadow later reports.
func reportTime(sentAt *time.Time, now time.Time) time.Time {
	if sentAt == nil {
		return now
	}
	at := sentAt.UTC()
	if at.After(now) {
		return now
	}
	return at
}

func (h *Hub) rideLock(rideID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[rideID]
	if !ok {
		l = &sync.Mutex{}
		h.locks[rideID] = l
	}
	return l
}

func (h *Hub) isStale(rideID string, at time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.last[rideID]
	return ok && at.Before(prev.Timestamp)
}

func (h *Hub) progress(e *models.Endpoints, pos models.Position) *models.ProgressUpdate {
	remaining := utils.HaversineKm(pos.Lat, pos.Lng, e.Dropoff.Lat, e.Dropoff.Lng)
	update := &models.ProgressUpdate{
		RideID:      e.RideID,
		RemainingKm: utils.Round2(remaining),
		ETAMinutes:  utils.Round2(remaining / h.speedKmh * 60),
	}
	if e.DistanceKm != nil && *e.DistanceKm > 0 {
		pct := (*e.DistanceKm - remaining) / *e.DistanceKm * 100
		pct = utils.Round2(math.Max(0, math.Min(100, pct)))
		update.ProgressPercent = &pct
	}
	return update
}

// CurrentPosition serves late joiners: the last applied report, or the
// position stored on the ride.
func (h *Hub) CurrentPosition(ctx context.Context, rideID string) (*models.Position, error) {
	h.mu.Lock()
	pos, ok := h.last[rideID]
	h.mu.Unlock()
	if ok {
		return &pos, nil
	}

	e, err := h.rides.GetEndpoints(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if e.Current == nil {
		return nil, apperrors.NotAvailable("current position")
	}
	pos = models.Position{RideID: rideID, Lat: e.Current.Lat, Lng: e.Current.Lng}
	if e.DriverID != nil {
		pos.DriverID = *e.DriverID
	}
	if e.PositionAt != nil {
		pos.Timestamp = *e.PositionAt
	}
	return &pos, nil
}
