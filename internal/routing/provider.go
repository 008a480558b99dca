package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/models"
)

// Route is one origin -> destination answer.
type Route struct {
	Summary  models.RouteSummary
	Polyline string
}

type Provider interface {
	Route(ctx context.Context, origin, destination models.Location) (*Route, error)
}

// Router bounds every lookup with a timeout. Failures surface as
// CollaboratorUnavailable; there is no fare without a route.
type Router struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

func NewRouter(provider Provider, timeout time.Duration, logger *slog.Logger) *Router {
	return &Router{provider: provider, timeout: timeout, logger: logger}
}

func (r *Router) Route(ctx context.Context, origin, destination models.Location) (*Route, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	route, err := r.provider.Route(ctx, origin, destination)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn("route lookup timed out", "timeout", r.timeout)
		} else {
			r.logger.Error("route lookup failed", "err", err)
		}
		return nil, apperrors.CollaboratorUnavailable("route provider", err)
	}
	return route, nil
}
