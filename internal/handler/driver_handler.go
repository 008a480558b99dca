package handler

import (
	"log/slog"
	"net/http"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/service"
	"github.com/aditya/ridedispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
)

type DriverHandler struct {
	driverService service.DriverService
	logger        *slog.Logger
}

func NewDriverHandler(driverService service.DriverService, logger *slog.Logger) *DriverHandler {
	return &DriverHandler{driverService: driverService, logger: logger}
}

func (h *DriverHandler) RegisterRoutes(r chi.Router) {
	r.Post("/drivers", h.CreateDriver)
	r.Get("/drivers/{id}", h.GetDriver)
	r.Post("/drivers/{id}/location", h.UpdateLocation)
	r.Post("/drivers/{id}/online", h.GoOnline)
	r.Post("/drivers/{id}/offline", h.GoOffline)
}

// self returns the path driver id when the caller is that driver.
func self(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	p, err := principal(r)
	if err != nil {
		return "", err
	}
	if !p.IsDriver() || p.ID != id {
		return "", apperrors.NotAuthorized("drivers may only update themselves")
	}
	return id, nil
}

// POST /v1/drivers
func (h *DriverHandler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDriverRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleError(w, h.logger, err)
		return
	}

	driver, err := h.driverService.CreateDriver(r.Context(), &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.Created(w, driver)
}

// GET /v1/drivers/{id}
func (h *DriverHandler) GetDriver(w http.ResponseWriter, r *http.Request) {
	driver, err := h.driverService.GetDriver(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, driver)
}

// POST /v1/drivers/{id}/location
func (h *DriverHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, err := self(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	var req models.UpdateDriverLocationRequest
	if err := decodeJSON(r, &req, false); err != nil {
		handleError(w, h.logger, err)
		return
	}

	if err := h.driverService.UpdateLocation(r.Context(), id, &req); err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, map[string]string{"status": "ok"})
}

// POST /v1/drivers/{id}/online
func (h *DriverHandler) GoOnline(w http.ResponseWriter, r *http.Request) {
	id, err := self(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if err := h.driverService.GoOnline(r.Context(), id); err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, map[string]string{"status": models.DriverStatusOnline})
}

// POST /v1/drivers/{id}/offline
func (h *DriverHandler) GoOffline(w http.ResponseWriter, r *http.Request) {
	id, err := self(r)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if err := h.driverService.GoOffline(r.Context(), id); err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, map[string]string{"status": models.DriverStatusOffline})
}
