package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const observationKeyPrefix = "weather:obs:"

// CachedProvider memoizes observations in Redis per ~1 km grid cell.
type CachedProvider struct {
	next   Provider
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedProvider(next Provider, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	return &CachedProvider{next: next, redis: client, ttl: ttl, logger: logger}
}

func cellKey(lat, lng float64) string {
	return fmt.Sprintf("%s%.2f:%.2f", observationKeyPrefix, lat, lng)
}

func (c *CachedProvider) Observe(ctx context.Context, lat, lng float64) (*Observation, error) {
	key := cellKey(lat, lng)

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var obs Observation
		if err := json.Unmarshal(data, &obs); err == nil {
			return &obs, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("weather cache read failed", "key", key, "err", err)
	}

	obs, err := c.next.Observe(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(obs); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("weather cache write failed", "key", key, "err", err)
		}
	}
	return obs, nil
}

// StaticProvider returns a fixed observation, or Err when set. Used when no
// API key is configured and in tests.
type StaticProvider struct {
	Observation Observation
	Err         error
	Delay       time.Duration
}

func (s *StaticProvider) Observe(ctx context.Context, lat, lng float64) (*Observation, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	obs := s.Observation
	return &obs, nil
}
