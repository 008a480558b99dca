package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aditya/ridedispatch/internal/models"
	"github.com/google/uuid"
)

type decisionKey struct {
	rideID   string
	driverID string
}

// MemoryDB is a process-local DataStore with the same conditional-update
// semantics as the Postgres repositories. All tables share one mutex, so
// CompleteWithPayment is atomic across rides and payments.
type MemoryDB struct {
	mu        sync.Mutex
	rides     map[string]models.Ride
	drivers   map[string]models.Driver
	payments  map[string]models.Payment
	decisions map[decisionKey]models.RideDecision
	ratings   map[string]models.Rating
	weather   []models.WeatherCheck
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		rides:     make(map[string]models.Ride),
		drivers:   make(map[string]models.Driver),
		payments:  make(map[string]models.Payment),
		decisions: make(map[decisionKey]models.RideDecision),
		ratings:   make(map[string]models.Rating),
	}
}

func (m *MemoryDB) Rides() RideRepository            { return memRides{m} }
func (m *MemoryDB) Drivers() DriverRepository        { return memDrivers{m} }
func (m *MemoryDB) Payments() PaymentRepository      { return memPayments{m} }
func (m *MemoryDB) Decisions() DecisionRepository    { return memDecisions{m} }
func (m *MemoryDB) Ratings() RatingRepository        { return memRatings{m} }
func (m *MemoryDB) WeatherLog() WeatherLogRepository { return memWeather{m} }

func sameDriver(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// rides

type memRides struct{ m *MemoryDB }

func (r memRides) Create(_ context.Context, ride *models.Ride) error {
	if ride.ID == "" {
		ride.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	ride.CreatedAt = now
	ride.UpdatedAt = now
	ride.Status = models.RideStatusPending
	ride.DriverID = nil

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.rides[ride.ID] = *ride
	return nil
}

func (r memRides) GetByID(_ context.Context, id string) (*models.Ride, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ride, ok := r.m.rides[id]
	if !ok {
		return nil, nil
	}
	return &ride, nil
}

func (r memRides) TransitionStatus(_ context.Context, t Transition) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ride, ok := r.m.rides[t.RideID]
	if !ok || ride.Status != t.From || !sameDriver(ride.DriverID, t.ExpectDriver) {
		return false, nil
	}
	ride.Status = t.To
	ride.DriverID = copyString(t.Driver)
	ride.UpdatedAt = time.Now().UTC()
	r.m.rides[t.RideID] = ride
	return true, nil
}

func (r memRides) UpdatePosition(_ context.Context, rideID, driverID string, lat, lng float64, at time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ride, ok := r.m.rides[rideID]
	if !ok || ride.Status != models.RideStatusInProgress || !ride.HeldBy(driverID) {
		return false, nil
	}
	ride.CurrentLat = &lat
	ride.CurrentLng = &lng
	ride.PositionAt = &at
	ride.UpdatedAt = at
	r.m.rides[rideID] = ride
	return true, nil
}

func (r memRides) UpdateRoute(_ context.Context, rideID string, route models.RouteSummary, polyline *string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ride, ok := r.m.rides[rideID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	dist, dur := route.DistanceKm, route.DurationMin
	ride.DistanceKm = &dist
	ride.DurationMin = &dur
	ride.RoutePolyline = copyString(polyline)
	ride.LastRouteUpdate = &now
	ride.UpdatedAt = now
	r.m.rides[rideID] = ride
	return nil
}

func (r memRides) CompleteWithPayment(_ context.Context, rideID, driverID string, payment *models.Payment) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ride, ok := r.m.rides[rideID]
	if !ok || ride.Status != models.RideStatusInProgress || !ride.HeldBy(driverID) {
		return false, nil
	}
	for _, p := range r.m.payments {
		if p.RideID == rideID {
			return false, nil
		}
	}

	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	payment.RideID = rideID
	payment.CreatedAt = time.Now().UTC()
	r.m.payments[payment.ID] = *payment

	ride.Status = models.RideStatusCompleted
	ride.UpdatedAt = payment.CreatedAt
	r.m.rides[rideID] = ride
	return true, nil
}

func (r memRides) GetActiveRideByDriverID(_ context.Context, driverID string) (*models.Ride, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var latest *models.Ride
	for _, ride := range r.m.rides {
		if !ride.HeldBy(driverID) || ride.Status.IsTerminal() || ride.Status == models.RideStatusPending {
			continue
		}
		if latest == nil || ride.CreatedAt.After(latest.CreatedAt) {
			ride := ride
			latest = &ride
		}
	}
	return latest, nil
}

// drivers

type memDrivers struct{ m *MemoryDB }

func (r memDrivers) Create(_ context.Context, driver *models.Driver) error {
	if driver.ID == "" {
		driver.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	driver.CreatedAt = now
	driver.UpdatedAt = now
	if driver.Status == "" {
		driver.Status = models.DriverStatusOffline
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.drivers[driver.ID] = *driver
	return nil
}

func (r memDrivers) GetByID(_ context.Context, id string) (*models.Driver, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.drivers[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r memDrivers) GetByIDs(_ context.Context, ids []string) ([]*models.Driver, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]*models.Driver, 0, len(ids))
	for _, id := range ids {
		if d, ok := r.m.drivers[id]; ok {
			out = append(out, &d)
		}
	}
	return out, nil
}

// update applies fn to a driver under the lock; missing drivers are ignored
// like an UPDATE that matches no row.
func (r memDrivers) update(id string, fn func(d *models.Driver) bool) bool {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.drivers[id]
	if !ok || !fn(&d) {
		return false
	}
	d.UpdatedAt = time.Now().UTC()
	r.m.drivers[id] = d
	return true
}

func (r memDrivers) UpdateStatus(_ context.Context, id string, status string) error {
	r.update(id, func(d *models.Driver) bool { d.Status = status; return true })
	return nil
}

func (r memDrivers) Claim(_ context.Context, id string) (bool, error) {
	return r.update(id, func(d *models.Driver) bool {
		if d.Status == models.DriverStatusBusy {
			return false
		}
		d.Status = models.DriverStatusBusy
		return true
	}), nil
}

func (r memDrivers) Release(_ context.Context, id string) error {
	r.update(id, func(d *models.Driver) bool {
		if d.Status != models.DriverStatusBusy {
			return false
		}
		d.Status = models.DriverStatusOnline
		return true
	})
	return nil
}

func (r memDrivers) UpdateLocation(_ context.Context, id string, lat, lng float64) error {
	r.update(id, func(d *models.Driver) bool { d.CurrentLat, d.CurrentLng = &lat, &lng; return true })
	return nil
}

func (r memDrivers) UpdateRating(_ context.Context, id string, rating float64, count int) error {
	r.update(id, func(d *models.Driver) bool { d.Rating, d.RatingCount = rating, count; return true })
	return nil
}

func (r memDrivers) UpdateAcceptanceRate(_ context.Context, id string, rate float64) error {
	r.update(id, func(d *models.Driver) bool { d.AcceptanceRate = &rate; return true })
	return nil
}

func (r memDrivers) IncrementTotalRides(_ context.Context, id string) error {
	r.update(id, func(d *models.Driver) bool { d.TotalRides++; return true })
	return nil
}

func (r memDrivers) ListAvailable(_ context.Context) ([]*models.Driver, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Driver
	for _, d := range r.m.drivers {
		if d.Status == models.DriverStatusOnline && d.HasLocation() {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// payments

type memPayments struct{ m *MemoryDB }

func (r memPayments) GetByID(_ context.Context, id string) (*models.Payment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r memPayments) GetByRideID(_ context.Context, rideID string) (*models.Payment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, p := range r.m.payments {
		if p.RideID == rideID {
			return &p, nil
		}
	}
	return nil, nil
}

func (r memPayments) CountByRideID(_ context.Context, rideID string) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for _, p := range r.m.payments {
		if p.RideID == rideID {
			n++
		}
	}
	return n, nil
}

// decisions

type memDecisions struct{ m *MemoryDB }

func (r memDecisions) Upsert(_ context.Context, d *models.RideDecision) error {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	key := decisionKey{rideID: d.RideID, driverID: d.DriverID}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if prev, ok := r.m.decisions[key]; ok {
		prev.Outcome = d.Outcome
		prev.DecidedAt = d.DecidedAt
		r.m.decisions[key] = prev
		return nil
	}
	r.m.decisions[key] = *d
	return nil
}

func (r memDecisions) list(keep func(models.RideDecision) bool) []*models.RideDecision {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.RideDecision
	for _, d := range r.m.decisions {
		if keep(d) {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DecidedAt.Equal(out[j].DecidedAt) {
			return out[i].DecidedAt.Before(out[j].DecidedAt)
		}
		if out[i].RideID != out[j].RideID {
			return out[i].RideID < out[j].RideID
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out
}

func (r memDecisions) ListAll(_ context.Context) ([]*models.RideDecision, error) {
	return r.list(func(models.RideDecision) bool { return true }), nil
}

func (r memDecisions) ListByDriver(_ context.Context, driverID string) ([]*models.RideDecision, error) {
	return r.list(func(d models.RideDecision) bool { return d.DriverID == driverID }), nil
}

func (r memDecisions) AcceptanceStats(_ context.Context, driverID string) (AcceptanceStats, error) {
	var stats AcceptanceStats
	for _, d := range r.list(func(d models.RideDecision) bool { return d.DriverID == driverID }) {
		stats.Total++
		if d.Outcome.Positive() {
			stats.Positive++
		}
	}
	return stats, nil
}

// ratings

type memRatings struct{ m *MemoryDB }

func (r memRatings) Create(_ context.Context, rating *models.Rating) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.ratings[rating.RideID]; ok {
		return false, nil
	}
	rating.CreatedAt = time.Now().UTC()
	r.m.ratings[rating.RideID] = *rating
	return true, nil
}

func (r memRatings) DriverAverage(_ context.Context, driverID string) (float64, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var sum float64
	n := 0
	for _, rt := range r.m.ratings {
		if rt.DriverID == driverID {
			sum += rt.Score
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

// weather log

type memWeather struct{ m *MemoryDB }

func (r memWeather) Append(_ context.Context, check *models.WeatherCheck) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, c := range r.m.weather {
		if c.RideID == check.RideID && c.CheckedAt.Equal(check.CheckedAt) {
			return nil
		}
	}
	r.m.weather = append(r.m.weather, *check)
	return nil
}

func (r memWeather) ListByRide(_ context.Context, rideID string) ([]*models.WeatherCheck, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.WeatherCheck
	for _, c := range r.m.weather {
		if c.RideID == rideID {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}
