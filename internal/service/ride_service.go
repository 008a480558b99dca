package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/events"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/observability"
	"github.com/aditya/ridedispatch/internal/repository"
	"github.com/aditya/ridedispatch/internal/routing"
	"github.com/aditya/ridedispatch/internal/weather"
)

// Reject policies.
const (
	RejectRequeue  = "requeue"
	RejectTerminal = "terminal"
)

// Weather log stages.
const (
	stageCreate = "create"
	stageAccept = "accept"
)

type RouteFinder interface {
	Route(ctx context.Context, origin, destination models.Location) (*routing.Route, error)
}

// CheckedRide is a ride plus the weather verdict that let it through.
type CheckedRide struct {
	Ride    *models.Ride    `json:"ride"`
	Weather weather.Verdict `json:"weather"`
}

// RideService is the ride lifecycle state machine. Every transition is a
// compare-and-swap on the ride's status and driver; no lock is held across
// weather, routing or payment calls.
type RideService interface {
	EstimateFare(ctx context.Context, pickup, dropoff models.Location) (*models.FareEstimate, error)
	CreateRide(ctx context.Context, principal models.Principal, req *models.CreateRideRequest) (*CheckedRide, error)
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	GetStatus(ctx context.Context, id string) (models.RideStatus, error)
	GetEndpoints(ctx context.Context, id string) (*models.Endpoints, error)

	Assign(ctx context.Context, rideID, driverID string) (*models.Ride, error)
	Accept(ctx context.Context, rideID, driverID string) (*CheckedRide, error)
	Reject(ctx context.Context, rideID, driverID string) (*models.Ride, error)
	Start(ctx context.Context, rideID, driverID string) (*models.Ride, error)
	Complete(ctx context.Context, rideID, driverID, paymentMethod string) (*models.CompleteRideResult, error)
	Cancel(ctx context.Context, rideID, driverID string) (*models.Ride, error)

	RateRide(ctx context.Context, principal models.Principal, rideID string, req *models.RateRideRequest) (*models.Rating, error)
	RefreshRoute(ctx context.Context, rideID string) (*models.Ride, error)
	// UpdateTrackedPosition is the only write the tracking hub may make.
	UpdateTrackedPosition(ctx context.Context, rideID, driverID string, lat, lng float64, at time.Time) error
}

type RideConfig struct {
	RejectPolicy string
	Currency     string
}

type rideService struct {
	rideRepo     repository.RideRepository
	driverRepo   repository.DriverRepository
	decisionRepo repository.DecisionRepository
	ratingRepo   repository.RatingRepository
	weatherLog   repository.WeatherLogRepository
	router       RouteFinder
	pricing      PricingService
	gate         weather.Checker
	payments     PaymentService
	publisher    events.Publisher
	listener     DecisionListener
	config       RideConfig
	logger       *slog.Logger
}

func NewRideService(
	store *repository.Store,
	router RouteFinder,
	pricing PricingService,
	gate weather.Checker,
	payments PaymentService,
	publisher events.Publisher,
	listener DecisionListener,
	config RideConfig,
	logger *slog.Logger,
) RideService {
	if config.RejectPolicy == "" {
		config.RejectPolicy = RejectRequeue
	}
	if config.Currency == "" {
		config.Currency = "inr"
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &rideService{
		rideRepo:     store.Rides,
		driverRepo:   store.Drivers,
		decisionRepo: store.Decisions,
		ratingRepo:   store.Ratings,
		weatherLog:   store.WeatherLog,
		router:       router,
		pricing:      pricing,
		gate:         gate,
		payments:     payments,
		publisher:    publisher,
		listener:     listener,
		config:       config,
		logger:       logger,
	}
}

func (s *rideService) EstimateFare(ctx context.Context, pickup, dropoff models.Location) (*models.FareEstimate, error) {
	route, err := s.router.Route(ctx, pickup, dropoff)
	if err != nil {
		return nil, err
	}
	return &models.FareEstimate{
		DistanceKm:  route.Summary.DistanceKm,
		DurationMin: route.Summary.DurationMin,
		Fare:        s.pricing.Compute(route.Summary.DistanceKm, route.Summary.DurationMin),
	}, nil
}

func (s *rideService) CreateRide(ctx context.Context, principal models.Principal, req *models.CreateRideRequest) (*CheckedRide, error) {
	if req.MinFare > req.MaxFare {
		return nil, apperrors.BadRequest("min_fare must not exceed max_fare")
	}

	var summary models.RouteSummary
	var polyline *string
	if req.Route != nil {
		summary = *req.Route
	} else {
		route, err := s.router.Route(ctx, req.Pickup, req.Dropoff)
		if err != nil {
			return nil, err
		}
		summary = route.Summary
		if route.Polyline != "" {
			polyline = &route.Polyline
		}
	}

	fare := s.pricing.Compute(summary.DistanceKm, summary.DurationMin)
	if req.EstimatedFare != nil {
		fare = *req.EstimatedFare
	}
	if fare < req.MinFare || fare > req.MaxFare {
		observability.RideTransitions.WithLabelValues(string(models.RideStatusPending), "fare_out_of_range").Inc()
		return nil, apperrors.FareOutOfRange(fare, req.MinFare, req.MaxFare)
	}

	verdict := s.gate.Check(ctx, req.Pickup.Lat, req.Pickup.Lng)
	if !verdict.IsSafe {
		observability.RideTransitions.WithLabelValues(string(models.RideStatusPending), "unsafe_weather").Inc()
		return nil, apperrors.UnsafeWeather(verdict.Message)
	}

	now := time.Now().UTC()
	dist, dur := summary.DistanceKm, summary.DurationMin
	ride := &models.Ride{
		RiderID:         principal.ID,
		PickupLat:       req.Pickup.Lat,
		PickupLng:       req.Pickup.Lng,
		DropoffLat:      req.Dropoff.Lat,
		DropoffLng:      req.Dropoff.Lng,
		MinFare:         req.MinFare,
		MaxFare:         req.MaxFare,
		Fare:            fare,
		DistanceKm:      &dist,
		DurationMin:     &dur,
		RoutePolyline:   polyline,
		PaymentMethod:   req.PaymentMethod,
		LastRouteUpdate: &now,
	}
	if err := s.rideRepo.Create(ctx, ride); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}
	s.logWeather(ctx, ride.ID, stageCreate, verdict)
	observability.RideTransitions.WithLabelValues(string(models.RideStatusPending), "ok").Inc()
	s.logger.Info("ride created", "ride_id", ride.ID, "rider_id", ride.RiderID, "fare", fare,
		"weather", verdict.Severity.String())

	return &CheckedRide{Ride: ride, Weather: verdict}, nil
}

func (s *rideService) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	ride, err := s.rideRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}
	return ride, nil
}

func (s *rideService) GetStatus(ctx context.Context, id string) (models.RideStatus, error) {
	ride, err := s.GetRide(ctx, id)
	if err != nil {
		return "", err
	}
	return ride.Status, nil
}

func (s *rideService) GetEndpoints(ctx context.Context, id string) (*models.Endpoints, error) {
	ride, err := s.GetRide(ctx, id)
	if err != nil {
		return nil, err
	}
	return ride.Endpoints(), nil
}

func (s *rideService) getDriver(ctx context.Context, id string) (*models.Driver, error) {
	driver, err := s.driverRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, apperrors.NotFound("driver")
	}
	return driver, nil
}

// transition applies t and reports a lost race as AlreadyHandled.
func (s *rideService) transition(ctx context.Context, t repository.Transition) error {
	ok, err := s.rideRepo.TransitionStatus(ctx, t)
	if err != nil {
		observability.RideTransitions.WithLabelValues(string(t.To), "error").Inc()
		return fmt.Errorf("transition ride %s to %s: %w", t.RideID, t.To, err)
	}
	if !ok {
		observability.RideTransitions.WithLabelValues(string(t.To), "lost_race").Inc()
		return apperrors.AlreadyHandled(t.RideID)
	}
	observability.RideTransitions.WithLabelValues(string(t.To), "ok").Inc()
	return nil
}

// preconditionFailed picks the error for a ride that is not in an expected
// state: AlreadyHandled when another driver got there first.
func preconditionFailed(ride *models.Ride, driverID string, to models.RideStatus) error {
	if ride.DriverID != nil && !ride.HeldBy(driverID) {
		return apperrors.AlreadyHandled(ride.ID)
	}
	return apperrors.InvalidTransition(string(ride.Status), string(to))
}

func (s *rideService) Assign(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusPending {
		return nil, preconditionFailed(ride, driverID, models.RideStatusAssigned)
	}
	driver, err := s.getDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	switch driver.Status {
	case models.DriverStatusBusy:
		return nil, apperrors.DriverBusy(driverID)
	case models.DriverStatusOffline:
		return nil, apperrors.BadRequest("driver is offline")
	}

	if err := s.transition(ctx, repository.Transition{
		RideID: rideID,
		From:   models.RideStatusPending,
		To:     models.RideStatusAssigned,
		Driver: &driverID,
	}); err != nil {
		return nil, err
	}

	ride.Status = models.RideStatusAssigned
	ride.DriverID = &driverID
	s.publish(ctx, models.NewEvent(models.EventRideAssigned, rideID, driverID, ride.Endpoints()))
	s.logger.Info("ride assigned", "ride_id", rideID, "driver_id", driverID)
	return ride, nil
}

// Accept commits driverID to the ride. The weather gate runs first; then the
// driver is claimed and the ride flipped with a compare-and-swap, so of many
// concurrent accepts exactly one wins.
func (s *rideService) Accept(ctx context.Context, rideID, driverID string) (*CheckedRide, error) {
	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	switch ride.Status {
	case models.RideStatusPending:
	case models.RideStatusAssigned:
		if !ride.HeldBy(driverID) {
			return nil, apperrors.NotAuthorized("ride is assigned to another driver")
		}
	default:
		return nil, preconditionFailed(ride, driverID, models.RideStatusAccepted)
	}

	driver, err := s.getDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver.Status == models.DriverStatusOffline {
		return nil, apperrors.BadRequest("driver is offline")
	}

	verdict := s.gate.Check(ctx, ride.PickupLat, ride.PickupLng)
	s.logWeather(ctx, rideID, stageAccept, verdict)
	if !verdict.IsSafe {
		observability.RideTransitions.WithLabelValues(string(models.RideStatusAccepted), "unsafe_weather").Inc()
		return nil, apperrors.UnsafeWeather(verdict.Message)
	}

	claimed, err := s.driverRepo.Claim(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("claim driver %s: %w", driverID, err)
	}
	if !claimed {
		if current, err := s.GetRide(ctx, rideID); err == nil && current.Status != ride.Status {
			return nil, apperrors.AlreadyHandled(rideID)
		}
		return nil, apperrors.DriverBusy(driverID)
	}

	err = s.transition(ctx, repository.Transition{
		RideID:       rideID,
		From:         ride.Status,
		ExpectDriver: ride.DriverID,
		To:           models.RideStatusAccepted,
		Driver:       &driverID,
	})
	if err != nil {
		s.releaseDriver(ctx, driverID)
		return nil, err
	}

	ride.Status = models.RideStatusAccepted
	ride.DriverID = &driverID
	s.recordDecision(ctx, ride, driver, models.DecisionAccepted)
	s.publish(ctx, models.NewEvent(models.EventDriverAccepted, rideID, driverID, map[string]interface{}{
		"ride_id":   rideID,
		"driver_id": driverID,
		"weather":   verdict,
	}))
	s.logger.Info("ride accepted", "ride_id", rideID, "driver_id", driverID, "weather", verdict.Severity.String())
	return &CheckedRide{Ride: ride, Weather: verdict}, nil
}

func (s *rideService) Reject(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	switch ride.Status {
	case models.RideStatusPending:
	case models.RideStatusAssigned:
		if !ride.HeldBy(driverID) {
			return nil, apperrors.NotAuthorized("ride is assigned to another driver")
		}
	default:
		return nil, preconditionFailed(ride, driverID, models.RideStatusRejected)
	}
	driver, err := s.getDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	next := models.RideStatusPending
	if s.config.RejectPolicy == RejectTerminal {
		next = models.RideStatusRejected
	}
	if err := s.transition(ctx, repository.Transition{
		RideID:       rideID,
		From:         ride.Status,
		ExpectDriver: ride.DriverID,
		To:           next,
	}); err != nil {
		return nil, err
	}

	ride.Status = next
	ride.DriverID = nil
	s.recordDecision(ctx, ride, driver, models.DecisionRejected)
	s.publish(ctx, models.NewEvent(models.EventDriverRejected, rideID, driverID, map[string]interface{}{
		"ride_id":   rideID,
		"driver_id": driverID,
		"status":    next,
	}))
	s.logger.Info("ride rejected", "ride_id", rideID, "driver_id", driverID, "status", next)
	return ride, nil
}

func (s *rideService) Start(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusAccepted {
		return nil, apperrors.InvalidTransition(string(ride.Status), string(models.RideStatusInProgress))
	}
	if !ride.HeldBy(driverID) {
		return nil, apperrors.NotAuthorized("ride was accepted by another driver")
	}

	if err := s.transition(ctx, repository.Transition{
		RideID:       rideID,
		From:         models.RideStatusAccepted,
		ExpectDriver: &driverID,
		To:           models.RideStatusInProgress,
		Driver:       &driverID,
	}); err != nil {
		return nil, err
	}

	ride.Status = models.RideStatusInProgress
	s.publish(ctx, models.NewEvent(models.EventRideStarted, rideID, driverID, ride.Endpoints()))
	s.logger.Info("ride started", "ride_id", rideID, "driver_id", driverID)
	return ride, nil
}

// Complete charges the rider, then flips the ride and stores the payment in
// one atomic step. If that step fails the charge is reversed and the ride
// stays in progress.
func (s *rideService) Complete(ctx context.Context, rideID, driverID, paymentMethod string) (*models.CompleteRideResult, error) {
	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusInProgress {
		return nil, apperrors.InvalidTransition(string(ride.Status), string(models.RideStatusCompleted))
	}
	if !ride.HeldBy(driverID) {
		return nil, apperrors.NotAuthorized("ride is held by another driver")
	}

	method := paymentMethod
	if method == "" {
		method = ride.PaymentMethod
	}
	payment := &models.Payment{
		RideID:   rideID,
		RiderID:  ride.RiderID,
		DriverID: driverID,
		Amount:   ride.Fare,
		Currency: s.config.Currency,
		Method:   method,
	}
	receipt, err := s.payments.Charge(ctx, payment)
	if err != nil {
		observability.RideTransitions.WithLabelValues(string(models.RideStatusCompleted), "payment_failed").Inc()
		return nil, err
	}

	ok, err := s.rideRepo.CompleteWithPayment(ctx, rideID, driverID, payment)
	if err != nil || !ok {
		if cerr := s.payments.Compensate(ctx, method, receipt); cerr != nil {
			s.logger.Error("payment compensation failed", "ride_id", rideID, "transaction_id", receipt.TransactionID, "err", cerr)
		}
		if err != nil {
			observability.RideTransitions.WithLabelValues(string(models.RideStatusCompleted), "error").Inc()
			return nil, fmt.Errorf("complete ride %s: %w", rideID, err)
		}
		observability.RideTransitions.WithLabelValues(string(models.RideStatusCompleted), "lost_race").Inc()
		return nil, apperrors.AlreadyHandled(rideID)
	}
	observability.RideTransitions.WithLabelValues(string(models.RideStatusCompleted), "ok").Inc()

	s.releaseDriver(ctx, driverID)
	if err := s.driverRepo.IncrementTotalRides(ctx, driverID); err != nil {
		s.logger.Warn("failed to bump driver ride count", "driver_id", driverID, "err", err)
	}
	ride.Status = models.RideStatusCompleted
	if driver, err := s.getDriver(ctx, driverID); err == nil {
		s.recordDecision(ctx, ride, driver, models.DecisionCompleted)
	}

	s.publish(ctx, models.NewEvent(models.EventRideCompleted, rideID, driverID, map[string]interface{}{
		"ride_id":    rideID,
		"payment_id": payment.ID,
		"fare":       ride.Fare,
	}))
	s.logger.Info("ride completed", "ride_id", rideID, "driver_id", driverID, "payment_id", payment.ID)

	return &models.CompleteRideResult{Ride: ride, PaymentID: payment.ID, Fare: ride.Fare}, nil
}

func (s *rideService) Cancel(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	switch ride.Status {
	case models.RideStatusAssigned, models.RideStatusAccepted, models.RideStatusInProgress:
	default:
		return nil, apperrors.InvalidTransition(string(ride.Status), string(models.RideStatusCancelled))
	}
	if !ride.HeldBy(driverID) {
		return nil, apperrors.NotAuthorized("ride is held by another driver")
	}

	from := ride.Status
	if err := s.transition(ctx, repository.Transition{
		RideID:       rideID,
		From:         from,
		ExpectDriver: &driverID,
		To:           models.RideStatusCancelled,
	}); err != nil {
		return nil, err
	}

	// assigned rides never claimed the driver
	if from != models.RideStatusAssigned {
		s.releaseDriver(ctx, driverID)
	}
	ride.Status = models.RideStatusCancelled
	ride.DriverID = nil
	if driver, err := s.getDriver(ctx, driverID); err == nil {
		s.recordDecision(ctx, ride, driver, models.DecisionCancelled)
	}

	s.publish(ctx, models.NewEvent(models.EventRideCancelled, rideID, driverID, map[string]interface{}{
		"ride_id":     rideID,
		"driver_id":   driverID,
		"from_status": from,
	}))
	s.logger.Info("ride cancelled", "ride_id", rideID, "driver_id", driverID, "from", from)
	return ride, nil
}

func (s *rideService) RateRide(ctx context.Context, principal models.Principal, rideID string, req *models.RateRideRequest) (*models.Rating, error) {
	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.RiderID != principal.ID {
		return nil, apperrors.NotAuthorized("only the rider can rate this ride")
	}
	if ride.Status != models.RideStatusCompleted || ride.DriverID == nil {
		return nil, apperrors.InvalidTransition(string(ride.Status), "rated")
	}

	rating := &models.Rating{RideID: rideID, DriverID: *ride.DriverID, Score: req.Score}
	if req.Comment != "" {
		rating.Comment = &req.Comment
	}
	created, err := s.ratingRepo.Create(ctx, rating)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, apperrors.Conflict("ride already rated")
	}

	avg, count, err := s.ratingRepo.DriverAverage(ctx, rating.DriverID)
	if err != nil {
		return nil, err
	}
	if err := s.driverRepo.UpdateRating(ctx, rating.DriverID, roundRating(avg), count); err != nil {
		return nil, err
	}
	return rating, nil
}

func roundRating(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// RefreshRoute re-routes from the driver's last position (or the pickup) to
// the drop-off.
func (s *rideService) RefreshRoute(ctx context.Context, rideID string) (*models.Ride, error) {
	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status.IsTerminal() {
		return nil, apperrors.InvalidTransition(string(ride.Status), "route refresh")
	}

	origin := ride.Pickup()
	if ride.CurrentLat != nil && ride.CurrentLng != nil {
		origin = models.Location{Lat: *ride.CurrentLat, Lng: *ride.CurrentLng}
	}
	route, err := s.router.Route(ctx, origin, ride.Dropoff())
	if err != nil {
		return nil, err
	}

	var polyline *string
	if route.Polyline != "" {
		polyline = &route.Polyline
	}
	if err := s.rideRepo.UpdateRoute(ctx, rideID, route.Summary, polyline); err != nil {
		return nil, err
	}
	return s.GetRide(ctx, rideID)
}

func (s *rideService) UpdateTrackedPosition(ctx context.Context, rideID, driverID string, lat, lng float64, at time.Time) error {
	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.Status != models.RideStatusInProgress {
		return apperrors.InvalidTransition(string(ride.Status), "position update")
	}
	if !ride.HeldBy(driverID) {
		return apperrors.NotAuthorized("driver does not hold this ride")
	}

	ok, err := s.rideRepo.UpdatePosition(ctx, rideID, driverID, lat, lng, at)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.InvalidTransition("ended", "position update")
	}
	return nil
}

func (s *rideService) releaseDriver(ctx context.Context, driverID string) {
	if err := s.driverRepo.Release(ctx, driverID); err != nil {
		s.logger.Error("failed to release driver", "driver_id", driverID, "err", err)
	}
}

func (s *rideService) recordDecision(ctx context.Context, ride *models.Ride, driver *models.Driver, outcome models.DecisionOutcome) {
	d := &models.RideDecision{
		RideID:               ride.ID,
		DriverID:             driver.ID,
		Outcome:              outcome,
		Fare:                 ride.Fare,
		DriverRating:         driver.EffectiveRating(),
		DriverAcceptanceRate: driver.EffectiveAcceptanceRate(),
		DriverTotalRides:     driver.TotalRides,
	}
	if ride.DistanceKm != nil {
		d.DistanceKm = *ride.DistanceKm
	}
	if err := s.decisionRepo.Upsert(ctx, d); err != nil {
		s.logger.Error("failed to record ride decision", "ride_id", ride.ID, "driver_id", driver.ID, "err", err)
		return
	}
	if s.listener != nil {
		s.listener.NotifyDecision(driver.ID)
	}
}

func (s *rideService) logWeather(ctx context.Context, rideID, stage string, v weather.Verdict) {
	check := &models.WeatherCheck{
		RideID:    rideID,
		CheckedAt: time.Now().UTC(),
		Stage:     stage,
		Severity:  v.Severity.String(),
		IsSafe:    v.IsSafe,
		Available: v.Available,
	}
	if v.Available {
		check.Condition = &v.Condition
		check.Temperature = v.Temperature
		check.WindSpeed = &v.WindSpeed
		check.Visibility = &v.Visibility
		check.Humidity = v.Humidity
		check.Precipitation = &v.Precipitation
	}
	if err := s.weatherLog.Append(ctx, check); err != nil {
		s.logger.Warn("weather check not logged", "ride_id", rideID, "err", err)
	}
}

func (s *rideService) publish(ctx context.Context, event models.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("event not published", "type", event.Type, "ride_id", event.RideID, "err", err)
	}
}
