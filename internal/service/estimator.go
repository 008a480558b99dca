package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/aditya/ridedispatch/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	numFeatures      = 6
	trainEpochs      = 500
	trainLearnRate   = 0.5
	trainL2          = 0.001
	minTripDistKm    = 0.1
	tripLengthFactor = 2.0
	proxyFareBase    = 50.0
	proxyFarePerKm   = 15.0
)

// Features is the acceptance model input: estimated fare, estimated trip
// distance, fare per km, driver rating, driver acceptance rate and driver
// total rides.
type Features [numFeatures]float64

func NewFeatures(fare, distanceKm float64, driver *models.Driver) Features {
	return Features{
		fare,
		distanceKm,
		fare / math.Max(distanceKm, minTripDistKm),
		driver.EffectiveRating(),
		driver.EffectiveAcceptanceRate(),
		float64(driver.TotalRides),
	}
}

// ProxyFeatures stands in for a ride that does not exist yet: the trip is
// assumed to be twice the distance to pickup.
func ProxyFeatures(distanceToPickupKm float64, driver *models.Driver) Features {
	dist := tripLengthFactor * distanceToPickupKm
	return NewFeatures(proxyFareBase+proxyFarePerKm*dist, dist, driver)
}

func decisionFeatures(d *models.RideDecision) Features {
	return Features{
		d.Fare,
		d.DistanceKm,
		d.Fare / math.Max(d.DistanceKm, minTripDistKm),
		d.DriverRating,
		d.DriverAcceptanceRate,
		float64(d.DriverTotalRides),
	}
}

type Example struct {
	X     Features
	Label float64
}

// ExampleFromDecision labels accepted and completed outcomes 1, the rest 0.
func ExampleFromDecision(d *models.RideDecision) Example {
	label := 0.0
	if d.Outcome.Positive() {
		label = 1
	}
	return Example{X: decisionFeatures(d), Label: label}
}

// Model is logistic regression over standardized features.
type Model struct {
	Weights [numFeatures]float64 `json:"weights"`
	Bias    float64              `json:"bias"`
	Mean    [numFeatures]float64 `json:"mean"`
	Scale   [numFeatures]float64 `json:"scale"`
}

func (m *Model) standardize(x Features) Features {
	var z Features
	for i := range x {
		z[i] = (x[i] - m.Mean[i]) / m.Scale[i]
	}
	return z
}

func (m *Model) logit(z Features) float64 {
	s := m.Bias
	for i := range z {
		s += m.Weights[i] * z[i]
	}
	return s
}

// Predict returns the acceptance probability for x.
func (m *Model) Predict(x Features) float64 {
	return sigmoid(m.logit(m.standardize(x)))
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// Fit runs full-batch gradient descent from zero weights, so the same
// examples always produce the same model.
func Fit(examples []Example) *Model {
	m := &Model{}
	n := float64(len(examples))
	for i := 0; i < numFeatures; i++ {
		var sum float64
		for _, ex := range examples {
			sum += ex.X[i]
		}
		m.Mean[i] = sum / n
		var sq float64
		for _, ex := range examples {
			d := ex.X[i] - m.Mean[i]
			sq += d * d
		}
		m.Scale[i] = math.Sqrt(sq / n)
		if m.Scale[i] == 0 {
			m.Scale[i] = 1
		}
	}

	zs := make([]Features, len(examples))
	for i, ex := range examples {
		zs[i] = m.standardize(ex.X)
	}

	for epoch := 0; epoch < trainEpochs; epoch++ {
		var gradW [numFeatures]float64
		var gradB float64
		for i, ex := range examples {
			diff := sigmoid(m.logit(zs[i])) - ex.Label
			for j := range gradW {
				gradW[j] += diff * zs[i][j]
			}
			gradB += diff
		}
		for j := range m.Weights {
			m.Weights[j] -= trainLearnRate * (gradW[j]/n + trainL2*m.Weights[j])
		}
		m.Bias -= trainLearnRate * gradB / n
	}
	return m
}

// EstimatorState is either Untrained or Trained.
type EstimatorState interface {
	isEstimatorState()
}

type Untrained struct{}

type Trained struct {
	Model     *Model    `json:"model"`
	TrainedAt time.Time `json:"trained_at"`
	Examples  int       `json:"examples"`
}

func (Untrained) isEstimatorState() {}
func (Trained) isEstimatorState()   {}

// Estimator holds the current state behind an atomic pointer: readers never
// wait on a retrain and always see one whole model.
type Estimator struct {
	current atomic.Pointer[estimatorBox]
}

type estimatorBox struct {
	state EstimatorState
}

func NewEstimator() *Estimator {
	e := &Estimator{}
	e.current.Store(&estimatorBox{state: Untrained{}})
	return e
}

func (e *Estimator) State() EstimatorState {
	return e.current.Load().state
}

func (e *Estimator) Install(t Trained) {
	e.current.Store(&estimatorBox{state: t})
}

// SnapshotStore shares trained models between instances.
type SnapshotStore interface {
	Save(ctx context.Context, t Trained) error
	Load(ctx context.Context) (*Trained, error)
}

const estimatorSnapshotKey = "matching:estimator:latest"

type redisSnapshotStore struct {
	redis *redis.Client
}

func NewRedisSnapshotStore(client *redis.Client) SnapshotStore {
	return &redisSnapshotStore{redis: client}
}

func (s *redisSnapshotStore) Save(ctx context.Context, t Trained) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, estimatorSnapshotKey, data, 0).Err()
}

func (s *redisSnapshotStore) Load(ctx context.Context) (*Trained, error) {
	data, err := s.redis.Get(ctx, estimatorSnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t Trained
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode estimator snapshot: %w", err)
	}
	if t.Model == nil {
		return nil, nil
	}
	return &t, nil
}
