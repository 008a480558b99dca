package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aditya/ridedispatch/internal/middleware"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/service"
	"github.com/aditya/ridedispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
)

const dispatchTimeout = 10 * time.Second

type RideHandler struct {
	rideService     service.RideService
	matchingService service.MatchingService
	paymentService  service.PaymentService
	logger          *slog.Logger
}

func NewRideHandler(
	rideService service.RideService,
	matchingService service.MatchingService,
	paymentService service.PaymentService,
	logger *slog.Logger,
) *RideHandler {
	return &RideHandler{
		rideService:     rideService,
		matchingService: matchingService,
		paymentService:  paymentService,
		logger:          logger,
	}
}

func (h *RideHandler) RegisterRoutes(r chi.Router) {
	r.Post("/fares/estimate", h.EstimateFare)
	r.With(middleware.RequireRole(models.RoleRider)).Post("/rides", h.CreateRide)
	r.Get("/rides/{id}", h.GetRide)
	r.Get("/rides/{id}/payment", h.GetPayment)
	r.Post("/rides/{id}/assign", h.Assign)
	r.Post("/rides/{id}/route", h.RefreshRoute)
	r.Get("/rides/{id}/candidates", h.Candidates)
	r.Post("/rides/{id}/dispatch", h.Dispatch)
	r.With(middleware.RequireRole(models.RoleRider)).Post("/rides/{id}/rate", h.RateRide)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(models.RoleDriver))
		r.Post("/rides/{id}/accept", h.Accept)
		r.Post("/rides/{id}/reject", h.Reject)
		r.Post("/rides/{id}/start", h.Start)
		r.Post("/rides/{id}/complete", h.Complete)
		r.Post("/rides/{id}/cancel", h.Cancel)
	})
}

// POST /v1/fares/estimate
func (h *RideHandler) EstimateFare(w http.ResponseWriter, r *http.Request) {
	var req models.FareEstimateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleError(w, h.logger, err)
		return
	}

	estimate, err := h.rideService.EstimateFare(r.Context(), req.Pickup, req.Dropoff)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, estimate)
}

// POST /v1/rides
func (h *RideHandler) CreateRide(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	var req models.CreateRideRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleError(w, h.logger, err)
		return
	}

	created, err := h.rideService.CreateRide(r.Context(), p, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	// Offer the ride to nearby drivers without holding up the rider.
	go func(rideID string) {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if _, err := h.matchingService.Dispatch(ctx, rideID, 0); err != nil {
			h.logger.Warn("initial dispatch failed", "ride_id", rideID, "err", err)
		}
	}(created.Ride.ID)

	utils.Created(w, created)
}

// GET /v1/rides/{id}
func (h *RideHandler) GetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := h.rideService.GetRide(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, ride)
}

// GET /v1/rides/{id}/payment
func (h *RideHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.paymentService.GetPaymentByRideID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, payment)
}

// POST /v1/rides/{id}/assign
func (h *RideHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req models.DriverActionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleError(w, h.logger, err)
		return
	}
	ride, err := h.rideService.Assign(r.Context(), chi.URLParam(r, "id"), req.DriverID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, ride)
}

// POST /v1/rides/{id}/accept
func (h *RideHandler) Accept(w http.ResponseWriter, r *http.Request) {
	p, _ := principal(r)
	accepted, err := h.rideService.Accept(r.Context(), chi.URLParam(r, "id"), p.ID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, accepted)
}

// POST /v1/rides/{id}/reject
func (h *RideHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.driverAction(w, r, h.rideService.Reject)
}

// POST /v1/rides/{id}/start
func (h *RideHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.driverAction(w, r, h.rideService.Start)
}

// POST /v1/rides/{id}/cancel
func (h *RideHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.driverAction(w, r, h.rideService.Cancel)
}

func (h *RideHandler) driverAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, rideID, driverID string) (*models.Ride, error)) {
	p, _ := principal(r)
	ride, err := action(r.Context(), chi.URLParam(r, "id"), p.ID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, ride)
}

// POST /v1/rides/{id}/complete
func (h *RideHandler) Complete(w http.ResponseWriter, r *http.Request) {
	p, _ := principal(r)
	var req struct {
		PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=cash wallet card"`
	}
	if err := decodeJSON(r, &req, true); err != nil {
		handleError(w, h.logger, err)
		return
	}

	result, err := h.rideService.Complete(r.Context(), chi.URLParam(r, "id"), p.ID, req.PaymentMethod)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, result)
}

// POST /v1/rides/{id}/rate
func (h *RideHandler) RateRide(w http.ResponseWriter, r *http.Request) {
	p, _ := principal(r)
	var req models.RateRideRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleError(w, h.logger, err)
		return
	}
	rating, err := h.rideService.RateRide(r.Context(), p, chi.URLParam(r, "id"), &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.Created(w, rating)
}

// POST /v1/rides/{id}/route
func (h *RideHandler) RefreshRoute(w http.ResponseWriter, r *http.Request) {
	ride, err := h.rideService.RefreshRoute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, ride)
}

// GET /v1/rides/{id}/candidates?limit=
func (h *RideHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.matchingService.CandidatesForRide(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 0))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, map[string]interface{}{"candidates": candidates})
}

// POST /v1/rides/{id}/dispatch
func (h *RideHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.matchingService.Dispatch(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 0))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, map[string]interface{}{"offered_to": candidates})
}
