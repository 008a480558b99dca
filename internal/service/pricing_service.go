package service

import (
	"math"

	"github.com/aditya/ridedispatch/pkg/utils"
)

// FareConfig holds the fare formula coefficients.
type FareConfig struct {
	BaseFare   float64
	PerKmRate  float64
	PerMinRate float64
	Surge      float64
}

// DefaultFareConfig is base 100, 30 per km, 2 per minute, no surge.
var DefaultFareConfig = FareConfig{BaseFare: 100, PerKmRate: 30, PerMinRate: 2, Surge: 1.0}

// PricingService is the fare formula: a pure function of distance and duration.
type PricingService interface {
	Compute(distanceKm, durationMin float64) float64
}

type pricingService struct {
	config FareConfig
}

func NewPricingService(config FareConfig) PricingService {
	if config.Surge <= 0 {
		config.Surge = 1.0
	}
	return &pricingService{config: config}
}

func (s *pricingService) Compute(distanceKm, durationMin float64) float64 {
	distanceKm = math.Max(0, distanceKm)
	durationMin = math.Max(0, durationMin)
	subtotal := s.config.BaseFare + distanceKm*s.config.PerKmRate + durationMin*s.config.PerMinRate
	return utils.Round2(subtotal * s.config.Surge)
}
