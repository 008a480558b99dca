package weather

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/aditya/ridedispatch/internal/observability"
)

// Provider retrieves current conditions at a coordinate.
type Provider interface {
	Observe(ctx context.Context, lat, lng float64) (*Observation, error)
}

// Checker is what the ride lifecycle depends on.
type Checker interface {
	Check(ctx context.Context, lat, lng float64) Verdict
}

// Gate turns provider observations into verdicts. Provider failures and
// timeouts fail open with an unavailable verdict.
type Gate struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

func NewGate(provider Provider, timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{provider: provider, timeout: timeout, logger: logger}
}

func (g *Gate) Check(ctx context.Context, lat, lng float64) Verdict {
	verdict := g.check(ctx, lat, lng)
	observability.WeatherVerdicts.WithLabelValues(verdict.Severity.String(), strconv.FormatBool(verdict.Available)).Inc()
	return verdict
}

func (g *Gate) check(ctx context.Context, lat, lng float64) Verdict {
	if g.provider == nil {
		return Unavailable()
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	obs, err := g.provider.Observe(ctx, lat, lng)
	if err != nil || obs == nil {
		g.logger.Warn("weather observation unavailable, failing open",
			"lat", lat, "lng", lng, "err", err)
		return Unavailable()
	}
	return Classify(*obs)
}
