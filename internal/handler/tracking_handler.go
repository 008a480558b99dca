package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aditya/ridedispatch/internal/middleware"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/service"
	"github.com/aditya/ridedispatch/internal/tracking"
	"github.com/aditya/ridedispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
)

type TrackingHandler struct {
	hub         *tracking.Hub
	rideService service.RideService
	heartbeat   time.Duration
	logger      *slog.Logger
}

func NewTrackingHandler(hub *tracking.Hub, rideService service.RideService, logger *slog.Logger) *TrackingHandler {
	return &TrackingHandler{
		hub:         hub,
		rideService: rideService,
		heartbeat:   15 * time.Second,
		logger:      logger,
	}
}

func (h *TrackingHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireRole(models.RoleDriver)).Post("/rides/{id}/position", h.ReportPosition)
	r.Get("/rides/{id}/position", h.CurrentPosition)
	r.Get("/rides/{id}/track", h.TrackRide)
}

type positionRequest struct {
	Lat    *float64   `json:"lat" validate:"required,latitude"`
	Lng    *float64   `json:"lng" validate:"required,longitude"`
	SentAt *time.Time `json:"sent_at,omitempty"`
}

// POST /v1/rides/{id}/position
func (h *TrackingHandler) ReportPosition(w http.ResponseWriter, r *http.Request) {
	p, _ := principal(r)
	var req positionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleError(w, h.logger, err)
		return
	}

	pos, progress, err := h.hub.ReportPosition(r.Context(), models.PositionReport{
		DriverID: p.ID,
		RideID:   chi.URLParam(r, "id"),
		Lat:      req.Lat,
		Lng:      req.Lng,
		SentAt:   req.SentAt,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, map[string]interface{}{
		"position": pos,
		"progress": progress,
	})
}

// GET /v1/rides/{id}/position
func (h *TrackingHandler) CurrentPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.hub.CurrentPosition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, pos)
}
