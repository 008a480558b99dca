package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	driverLocationKey   = "drivers:locations"
	driverMetaKeyPrefix = "driver:meta:"
	nearbyLimit         = 50
)

// DriverLocationCache is the GEO index used to source matching candidates.
// Postgres stays the source of truth; the cache only narrows the search.
type DriverLocationCache interface {
	UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error
	GetNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]DriverWithDistance, error)
	RemoveDriver(ctx context.Context, driverID string) error
	SetDriverMeta(ctx context.Context, driverID, status string, rating float64) error
}

type DriverWithDistance struct {
	DriverID string
	Distance float64
}

type driverLocationCache struct {
	redis *redis.Client
}

func NewDriverLocationCache(redisClient *redis.Client) DriverLocationCache {
	return &driverLocationCache{redis: redisClient}
}

func (c *driverLocationCache) UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error {
	return c.redis.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// GetNearbyDrivers returns online drivers within radiusKm, nearest first.
func (c *driverLocationCache) GetNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]DriverWithDistance, error) {
	locations, err := c.redis.GeoRadius(ctx, driverLocationKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Count:    nearbyLimit,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo radius: %w", err)
	}

	result := make([]DriverWithDistance, 0, len(locations))
	for _, loc := range locations {
		status, err := c.redis.HGet(ctx, driverMetaKeyPrefix+loc.Name, "status").Result()
		if err != nil || status != "online" {
			continue
		}
		result = append(result, DriverWithDistance{
			DriverID: loc.Name,
			Distance: loc.Dist,
		})
	}

	return result, nil
}

func (c *driverLocationCache) RemoveDriver(ctx context.Context, driverID string) error {
	return c.redis.ZRem(ctx, driverLocationKey, driverID).Err()
}

func (c *driverLocationCache) SetDriverMeta(ctx context.Context, driverID, status string, rating float64) error {
	return c.redis.HSet(ctx, driverMetaKeyPrefix+driverID, map[string]interface{}{
		"status": status,
		"rating": fmt.Sprintf("%.1f", rating),
	}).Err()
}
