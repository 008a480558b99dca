//go:build ignore

package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/aditya/ridedispatch/internal/cache"
	"github.com/aditya/ridedispatch/internal/config"
	"github.com/aditya/ridedispatch/internal/database"
	"github.com/aditya/ridedispatch/internal/logging"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/repository"
	"github.com/aditya/ridedispatch/pkg/utils"
)

// Karachi
const (
	baseLat = 24.8607
	baseLng = 67.0011
)

var (
	firstNames = []string{"Ali", "Sara", "Bilal", "Ayesha", "Hamza", "Fatima", "Usman", "Zainab", "Imran", "Hina",
		"Faisal", "Mariam", "Kamran", "Sana", "Danish", "Nida", "Asad", "Rabia", "Tariq", "Amna"}
	lastNames = []string{"Khan", "Ahmed", "Siddiqui", "Qureshi", "Sheikh", "Malik", "Raza", "Hussain", "Iqbal", "Javed"}
)

func jitter(spread float64) (float64, float64) {
	return baseLat + (rand.Float64()-0.5)*spread, baseLng + (rand.Float64()-0.5)*spread
}

func main() {
	logger := logging.NewLogger("info")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	db, err := database.NewPostgres(cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBMaxIdleConnections)
	if err != nil {
		logger.Error("failed to connect to postgres", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := database.NewRedis(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		logger.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx, logger); err != nil {
		logger.Error("migration failed", "err", err)
		os.Exit(1)
	}

	store := repository.NewPostgresStore(db.DB)
	driverCache := cache.NewDriverLocationCache(rdb.Client)

	// Drivers, about half online within ~5km of the city centre
	logger.Info("creating drivers", "count", 100)
	drivers := make([]*models.Driver, 0, 100)
	for i := 0; i < 100; i++ {
		driver := &models.Driver{
			Phone:         fmt.Sprintf("0300%07d", rand.Intn(10000000)),
			Name:          fmt.Sprintf("%s %s", firstNames[rand.Intn(len(firstNames))], lastNames[rand.Intn(len(lastNames))]),
			VehicleNumber: fmt.Sprintf("KHI-%04d", rand.Intn(10000)),
			Rating:        utils.Round2(3.5 + rand.Float64()*1.5),
		}
		if err := store.Drivers.Create(ctx, driver); err != nil {
			logger.Warn("failed to create driver", "err", err)
			continue
		}
		drivers = append(drivers, driver)

		if rand.Float64() > 0.5 {
			lat, lng := jitter(0.1)
			if err := store.Drivers.UpdateStatus(ctx, driver.ID, models.DriverStatusOnline); err != nil {
				logger.Warn("failed to set driver online", "driver_id", driver.ID, "err", err)
				continue
			}
			if err := store.Drivers.UpdateLocation(ctx, driver.ID, lat, lng); err != nil {
				logger.Warn("failed to set driver location", "driver_id", driver.ID, "err", err)
				continue
			}
			driverCache.SetDriverMeta(ctx, driver.ID, models.DriverStatusOnline, driver.Rating)
			driverCache.UpdateLocation(ctx, driver.ID, lat, lng)
		}
	}
	if len(drivers) == 0 {
		logger.Error("no drivers created")
		os.Exit(1)
	}

	// Closed historical rides with one decision each, so the acceptance model
	// has something to train on. Longer, pricier rides are accepted more often.
	logger.Info("creating decision history", "count", 200)
	decisions := 0
	for i := 0; i < 200; i++ {
		pLat, pLng := jitter(0.1)
		dLat, dLng := jitter(0.2)
		distance := utils.Round2(utils.HaversineKm(pLat, pLng, dLat, dLng))
		fare := utils.Round2(100 + 30*distance)

		ride := &models.Ride{
			RiderID:       fmt.Sprintf("rider-%03d", rand.Intn(50)),
			PickupLat:     pLat,
			PickupLng:     pLng,
			DropoffLat:    dLat,
			DropoffLng:    dLng,
			MinFare:       fare,
			MaxFare:       fare,
			Fare:          fare,
			DistanceKm:    &distance,
			PaymentMethod: models.PaymentMethodCash,
		}
		if err := store.Rides.Create(ctx, ride); err != nil {
			logger.Warn("failed to create ride", "err", err)
			continue
		}
		if _, err := store.Rides.TransitionStatus(ctx, repository.Transition{
			RideID: ride.ID, From: models.RideStatusPending, To: models.RideStatusCancelled,
		}); err != nil {
			logger.Warn("failed to close ride", "ride_id", ride.ID, "err", err)
			continue
		}

		driver := drivers[rand.Intn(len(drivers))]
		outcome := models.DecisionRejected
		if rand.Float64() < 0.2+distance/20 {
			outcome = models.DecisionCompleted
		}
		err := store.Decisions.Upsert(ctx, &models.RideDecision{
			RideID:               ride.ID,
			DriverID:             driver.ID,
			Outcome:              outcome,
			Fare:                 fare,
			DistanceKm:           distance,
			DriverRating:         driver.EffectiveRating(),
			DriverAcceptanceRate: driver.EffectiveAcceptanceRate(),
			DriverTotalRides:     driver.TotalRides,
			DecidedAt:            time.Now().UTC().Add(-time.Duration(rand.Intn(30*24)) * time.Hour),
		})
		if err != nil {
			logger.Warn("failed to record decision", "ride_id", ride.ID, "err", err)
			continue
		}
		decisions++
	}

	logger.Info("seed complete",
		"drivers", len(drivers),
		"decisions", decisions,
		"sample_driver_id", drivers[0].ID,
	)
	logger.Info("train the acceptance model with POST /v1/matching/train")
}
