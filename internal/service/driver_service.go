package service

import (
	"context"
	"log/slog"

	"github.com/aditya/ridedispatch/internal/cache"
	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/observability"
	"github.com/aditya/ridedispatch/internal/repository"
)

type DriverService interface {
	CreateDriver(ctx context.Context, req *models.CreateDriverRequest) (*models.Driver, error)
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	UpdateLocation(ctx context.Context, driverID string, req *models.UpdateDriverLocationRequest) error
	GoOnline(ctx context.Context, driverID string) error
	GoOffline(ctx context.Context, driverID string) error
}

type driverService struct {
	driverRepo  repository.DriverRepository
	rideRepo    repository.RideRepository
	driverCache cache.DriverLocationCache
	logger      *slog.Logger
}

// NewDriverService wires the driver registry. driverCache may be nil, in
// which case matching reads locations from the repository only.
func NewDriverService(
	driverRepo repository.DriverRepository,
	rideRepo repository.RideRepository,
	driverCache cache.DriverLocationCache,
	logger *slog.Logger,
) DriverService {
	return &driverService{
		driverRepo:  driverRepo,
		rideRepo:    rideRepo,
		driverCache: driverCache,
		logger:      logger,
	}
}

func (s *driverService) CreateDriver(ctx context.Context, req *models.CreateDriverRequest) (*models.Driver, error) {
	driver := &models.Driver{
		Name:          req.Name,
		Phone:         req.Phone,
		VehicleNumber: req.VehicleNumber,
		Rating:        req.Rating,
		Status:        models.DriverStatusOffline,
	}
	if err := s.driverRepo.Create(ctx, driver); err != nil {
		return nil, err
	}
	return driver, nil
}

func (s *driverService) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	driver, err := s.driverRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, apperrors.NotFound("driver")
	}
	return driver, nil
}

func (s *driverService) UpdateLocation(ctx context.Context, driverID string, req *models.UpdateDriverLocationRequest) error {
	driver, err := s.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if driver.Status == models.DriverStatusOffline {
		return apperrors.BadRequest("driver is offline")
	}

	if err := s.driverRepo.UpdateLocation(ctx, driverID, req.Lat, req.Lng); err != nil {
		return err
	}

	if s.driverCache != nil {
		if err := s.driverCache.UpdateLocation(ctx, driverID, req.Lat, req.Lng); err != nil {
			s.logger.Warn("failed to update driver location in cache", "driver_id", driverID, "err", err)
		}
	}
	return nil
}

func (s *driverService) GoOnline(ctx context.Context, driverID string) error {
	driver, err := s.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if driver.Status == models.DriverStatusBusy {
		return apperrors.DriverBusy(driverID)
	}

	if err := s.driverRepo.UpdateStatus(ctx, driverID, models.DriverStatusOnline); err != nil {
		return err
	}
	if driver.Status != models.DriverStatusOnline {
		observability.DriversOnline.Inc()
	}

	if s.driverCache != nil {
		if err := s.driverCache.SetDriverMeta(ctx, driverID, models.DriverStatusOnline, driver.Rating); err != nil {
			s.logger.Warn("failed to set driver meta in cache", "driver_id", driverID, "err", err)
		}
		if driver.HasLocation() {
			s.driverCache.UpdateLocation(ctx, driverID, *driver.CurrentLat, *driver.CurrentLng)
		}
	}
	return nil
}

func (s *driverService) GoOffline(ctx context.Context, driverID string) error {
	driver, err := s.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}

	activeRide, err := s.rideRepo.GetActiveRideByDriverID(ctx, driverID)
	if err != nil {
		return err
	}
	if activeRide != nil {
		return apperrors.BadRequest("cannot go offline with active ride")
	}

	if err := s.driverRepo.UpdateStatus(ctx, driverID, models.DriverStatusOffline); err != nil {
		return err
	}
	if driver.Status == models.DriverStatusOnline {
		observability.DriversOnline.Dec()
	}

	if s.driverCache != nil {
		s.driverCache.SetDriverMeta(ctx, driverID, models.DriverStatusOffline, driver.Rating)
		s.driverCache.RemoveDriver(ctx, driverID)
	}
	return nil
}
