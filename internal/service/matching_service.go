package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aditya/ridedispatch/internal/cache"
	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/events"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/observability"
	"github.com/aditya/ridedispatch/internal/repository"
	"github.com/aditya/ridedispatch/pkg/utils"
)

const (
	defaultTopN         = 5
	defaultMatchRadius  = 5.0 // km
	defaultMinTraining  = 3
	refreshQueueSize    = 256
	distanceWeight      = 0.3
	acceptanceWeight    = 0.4
	ratingWeight        = 0.3
	refreshFallbackWait = 5 * time.Second
)

// Candidate is one scored driver for a pickup point.
type Candidate struct {
	DriverID              string          `json:"driver_id"`
	Location              models.Location `json:"location"`
	Rating                float64         `json:"rating"`
	AcceptanceRate        float64         `json:"acceptance_rate"`
	TotalRides            int             `json:"total_rides"`
	DistanceKm            float64         `json:"distance_km"`
	AcceptanceProbability float64         `json:"acceptance_probability"`
	Score                 float64         `json:"score"`
}

type ModelInfo struct {
	Trained   bool       `json:"trained"`
	TrainedAt *time.Time `json:"trained_at,omitempty"`
	Examples  int        `json:"examples,omitempty"`
	Model     *Model     `json:"model,omitempty"`
}

// DecisionListener is told about every driver decision so acceptance rates
// can be recomputed off the request path.
type DecisionListener interface {
	NotifyDecision(driverID string)
}

type MatchingService interface {
	DecisionListener
	Rank(pickup models.Location, drivers []*models.Driver, n int) []Candidate
	FindCandidates(ctx context.Context, pickup models.Location, n int) ([]Candidate, error)
	CandidatesForRide(ctx context.Context, rideID string, n int) ([]Candidate, error)
	Dispatch(ctx context.Context, rideID string, n int) ([]Candidate, error)
	Train(ctx context.Context) (ModelInfo, error)
	ModelInfo() ModelInfo
	LoadSnapshot(ctx context.Context) error
	RefreshAcceptanceRate(ctx context.Context, driverID string) (float64, error)
	// Run drains the refresh queue until ctx is done.
	Run(ctx context.Context)
}

type MatchingConfig struct {
	RadiusKm    float64
	TopN        int
	MinTraining int
}

type matchingService struct {
	driverRepo   repository.DriverRepository
	rideRepo     repository.RideRepository
	decisionRepo repository.DecisionRepository
	driverCache  cache.DriverLocationCache
	snapshots    SnapshotStore
	publisher    events.Publisher
	estimator    *Estimator
	config       MatchingConfig
	refreshQueue chan string
	logger       *slog.Logger
}

// NewMatchingService builds the engine. driverCache and snapshots may be nil.
func NewMatchingService(
	store *repository.Store,
	driverCache cache.DriverLocationCache,
	snapshots SnapshotStore,
	publisher events.Publisher,
	config MatchingConfig,
	logger *slog.Logger,
) MatchingService {
	if config.TopN <= 0 {
		config.TopN = defaultTopN
	}
	if config.RadiusKm <= 0 {
		config.RadiusKm = defaultMatchRadius
	}
	if config.MinTraining <= 0 {
		config.MinTraining = defaultMinTraining
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &matchingService{
		driverRepo:   store.Drivers,
		rideRepo:     store.Rides,
		decisionRepo: store.Decisions,
		driverCache:  driverCache,
		snapshots:    snapshots,
		publisher:    publisher,
		estimator:    NewEstimator(),
		config:       config,
		refreshQueue: make(chan string, refreshQueueSize),
		logger:       logger,
	}
}

// Rank scores drivers with a known location against pickup and returns the
// best n. Ties are broken by driver id so equal inputs rank identically.
func (s *matchingService) Rank(pickup models.Location, drivers []*models.Driver, n int) []Candidate {
	if n <= 0 {
		n = s.config.TopN
	}
	state := s.estimator.State()

	candidates := make([]Candidate, 0, len(drivers))
	var maxDist float64
	for _, d := range drivers {
		if !d.HasLocation() {
			continue
		}
		dist := utils.HaversineKm(pickup.Lat, pickup.Lng, *d.CurrentLat, *d.CurrentLng)
		if dist > maxDist {
			maxDist = dist
		}

		var prob float64
		switch st := state.(type) {
		case Trained:
			prob = st.Model.Predict(ProxyFeatures(dist, d))
		default:
			prob = d.EffectiveAcceptanceRate()
		}

		candidates = append(candidates, Candidate{
			DriverID:              d.ID,
			Location:              models.Location{Lat: *d.CurrentLat, Lng: *d.CurrentLng},
			Rating:                d.EffectiveRating(),
			AcceptanceRate:        d.EffectiveAcceptanceRate(),
			TotalRides:            d.TotalRides,
			DistanceKm:            dist,
			AcceptanceProbability: prob,
		})
	}

	for i := range candidates {
		c := &candidates[i]
		normDist := 0.0
		if maxDist > 0 {
			normDist = c.DistanceKm / maxDist
		}
		c.Score = distanceWeight*(1-normDist) +
			acceptanceWeight*c.AcceptanceProbability +
			ratingWeight*c.Rating/models.MaxRating
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].DriverID < candidates[j].DriverID
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	for i := range candidates {
		candidates[i].DistanceKm = utils.Round2(candidates[i].DistanceKm)
	}
	return candidates
}

func (s *matchingService) FindCandidates(ctx context.Context, pickup models.Location, n int) ([]Candidate, error) {
	start := time.Now()
	drivers, err := s.availableDrivers(ctx, pickup)
	if err != nil {
		return nil, err
	}
	candidates := s.Rank(pickup, drivers, n)
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	observability.MatchCandidates.Observe(float64(len(drivers)))
	return candidates, nil
}

// availableDrivers sources online drivers near pickup from the GEO cache and
// falls back to the repository when the cache is missing, failing or empty.
func (s *matchingService) availableDrivers(ctx context.Context, pickup models.Location) ([]*models.Driver, error) {
	if s.driverCache != nil {
		nearby, err := s.driverCache.GetNearbyDrivers(ctx, pickup.Lat, pickup.Lng, s.config.RadiusKm)
		if err != nil {
			s.logger.Warn("driver cache lookup failed, using database", "err", err)
		} else if len(nearby) > 0 {
			ids := make([]string, 0, len(nearby))
			for _, d := range nearby {
				ids = append(ids, d.DriverID)
			}
			drivers, err := s.driverRepo.GetByIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			return onlineWithLocation(drivers), nil
		}
	}

	drivers, err := s.driverRepo.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	var inRange []*models.Driver
	for _, d := range onlineWithLocation(drivers) {
		if utils.HaversineKm(pickup.Lat, pickup.Lng, *d.CurrentLat, *d.CurrentLng) <= s.config.RadiusKm {
			inRange = append(inRange, d)
		}
	}
	return inRange, nil
}

// onlineWithLocation drops busy, offline and unlocated drivers.
func onlineWithLocation(drivers []*models.Driver) []*models.Driver {
	out := make([]*models.Driver, 0, len(drivers))
	for _, d := range drivers {
		if d.Status == models.DriverStatusOnline && d.HasLocation() {
			out = append(out, d)
		}
	}
	return out
}

func (s *matchingService) CandidatesForRide(ctx context.Context, rideID string, n int) ([]Candidate, error) {
	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}
	return s.FindCandidates(ctx, ride.Pickup(), n)
}

type rideRequestOffer struct {
	RideID           string          `json:"ride_id"`
	Pickup           models.Location `json:"pickup"`
	Dropoff          models.Location `json:"dropoff"`
	Fare             float64         `json:"fare"`
	DistanceToPickup float64         `json:"distance_to_pickup_km"`
	Score            float64         `json:"score"`
}

// Dispatch offers a pending ride to its top candidates through their driver rooms.
func (s *matchingService) Dispatch(ctx context.Context, rideID string, n int) ([]Candidate, error) {
	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}
	if ride.Status != models.RideStatusPending {
		return nil, apperrors.InvalidTransition(string(ride.Status), "dispatch")
	}

	candidates, err := s.FindCandidates(ctx, ride.Pickup(), n)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperrors.NoDriversAvailable()
	}

	for _, c := range candidates {
		offer := rideRequestOffer{
			RideID:           ride.ID,
			Pickup:           ride.Pickup(),
			Dropoff:          ride.Dropoff(),
			Fare:             ride.Fare,
			DistanceToPickup: c.DistanceKm,
			Score:            c.Score,
		}
		if err := s.publisher.Publish(ctx, models.NewEvent(models.EventNewRideRequest, ride.ID, c.DriverID, offer)); err != nil {
			s.logger.Warn("ride request not delivered", "ride_id", ride.ID, "driver_id", c.DriverID, "err", err)
		}
	}
	s.logger.Info("ride dispatched", "ride_id", ride.ID, "candidates", len(candidates))
	return candidates, nil
}

// Train fits a new estimator from the decision log and swaps it in. Below the
// minimum example count the current estimator stays.
func (s *matchingService) Train(ctx context.Context) (ModelInfo, error) {
	decisions, err := s.decisionRepo.ListAll(ctx)
	if err != nil {
		observability.EstimatorTrainings.WithLabelValues("error").Inc()
		return ModelInfo{}, err
	}
	if len(decisions) < s.config.MinTraining {
		observability.EstimatorTrainings.WithLabelValues("insufficient_data").Inc()
		return ModelInfo{}, apperrors.InsufficientData(fmt.Sprintf(
			"need at least %d ride decisions to train, have %d", s.config.MinTraining, len(decisions)))
	}

	examples := make([]Example, 0, len(decisions))
	for _, d := range decisions {
		examples = append(examples, ExampleFromDecision(d))
	}
	trained := Trained{Model: Fit(examples), TrainedAt: time.Now().UTC(), Examples: len(examples)}
	s.estimator.Install(trained)
	observability.EstimatorTrainings.WithLabelValues("success").Inc()
	s.logger.Info("acceptance estimator trained", "examples", trained.Examples)

	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, trained); err != nil {
			s.logger.Warn("estimator snapshot not saved", "err", err)
		}
	}
	return infoFor(trained), nil
}

func (s *matchingService) ModelInfo() ModelInfo {
	if t, ok := s.estimator.State().(Trained); ok {
		return infoFor(t)
	}
	return ModelInfo{}
}

func infoFor(t Trained) ModelInfo {
	at := t.TrainedAt
	return ModelInfo{Trained: true, TrainedAt: &at, Examples: t.Examples, Model: t.Model}
}

// LoadSnapshot installs the latest model another instance trained, if any.
func (s *matchingService) LoadSnapshot(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	t, err := s.snapshots.Load(ctx)
	if err != nil || t == nil {
		return err
	}
	s.estimator.Install(*t)
	s.logger.Info("acceptance estimator loaded from snapshot", "examples", t.Examples, "trained_at", t.TrainedAt)
	return nil
}

// RefreshAcceptanceRate recomputes positive/total over the driver's full
// decision history and stores it. Drivers without history keep the default.
func (s *matchingService) RefreshAcceptanceRate(ctx context.Context, driverID string) (float64, error) {
	stats, err := s.decisionRepo.AcceptanceStats(ctx, driverID)
	if err != nil {
		return 0, err
	}
	rate, ok := stats.Rate()
	if !ok {
		return models.DefaultAcceptanceRate, nil
	}
	if err := s.driverRepo.UpdateAcceptanceRate(ctx, driverID, rate); err != nil {
		return 0, err
	}
	return rate, nil
}

// NotifyDecision queues a refresh. When the queue is full the refresh runs
// inline so no decision is lost.
func (s *matchingService) NotifyDecision(driverID string) {
	select {
	case s.refreshQueue <- driverID:
	default:
		ctx, cancel := context.WithTimeout(context.Background(), refreshFallbackWait)
		defer cancel()
		if _, err := s.RefreshAcceptanceRate(ctx, driverID); err != nil {
			s.logger.Error("acceptance rate refresh failed", "driver_id", driverID, "err", err)
		}
	}
}

func (s *matchingService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case driverID := <-s.refreshQueue:
			if _, err := s.RefreshAcceptanceRate(ctx, driverID); err != nil {
				s.logger.Error("acceptance rate refresh failed", "driver_id", driverID, "err", err)
			}
		}
	}
}
