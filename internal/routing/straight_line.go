package routing

import (
	"context"
	"math"

	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/pkg/utils"
)

const (
	roadFactor      = 1.3
	citySpeedKmh    = 25.0
	minDurationMins = 5
)

// StraightLineProvider estimates a route without a maps backend: great-circle
// distance stretched by a road factor, driven at city speed.
type StraightLineProvider struct{}

func (StraightLineProvider) Route(ctx context.Context, origin, destination models.Location) (*Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dist := utils.Round2(utils.HaversineKm(origin.Lat, origin.Lng, destination.Lat, destination.Lng) * roadFactor)
	duration := math.Ceil(dist / citySpeedKmh * 60)
	if duration < minDurationMins {
		duration = minDurationMins
	}
	return &Route{
		Summary: models.RouteSummary{
			DistanceKm:  dist,
			DurationMin: duration,
			Path:        []models.Location{origin, destination},
		},
	}, nil
}
