package routing

import (
	"context"
	"fmt"

	"github.com/aditya/ridedispatch/internal/models"
	"googlemaps.github.io/maps"
)

// GoogleProvider asks the Directions API for a driving route.
type GoogleProvider struct {
	client *maps.Client
}

func NewGoogleProvider(apiKey string) (*GoogleProvider, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

func (p *GoogleProvider) Route(ctx context.Context, origin, destination models.Location) (*Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := p.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	route := &Route{
		Summary: models.RouteSummary{
			DistanceKm:  float64(leg.Distance.Meters) / 1000,
			DurationMin: leg.Duration.Minutes(),
		},
		Polyline: routes[0].OverviewPolyline.Points,
	}

	points, err := routes[0].OverviewPolyline.Decode()
	if err == nil {
		route.Summary.Path = make([]models.Location, 0, len(points))
		for _, pt := range points {
			route.Summary.Path = append(route.Summary.Path, models.Location{Lat: pt.Lat, Lng: pt.Lng})
		}
	}
	return route, nil
}

func latLng(l models.Location) string {
	return fmt.Sprintf("%f,%f", l.Lat, l.Lng)
}
