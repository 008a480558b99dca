package handler

import (
	"log/slog"
	"net/http"

	"github.com/aditya/ridedispatch/internal/service"
	"github.com/aditya/ridedispatch/internal/weather"
	"github.com/aditya/ridedispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
)

type MatchingHandler struct {
	matchingService service.MatchingService
	gate            weather.Checker
	logger          *slog.Logger
}

func NewMatchingHandler(matchingService service.MatchingService, gate weather.Checker, logger *slog.Logger) *MatchingHandler {
	return &MatchingHandler{matchingService: matchingService, gate: gate, logger: logger}
}

func (h *MatchingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/matching/train", h.Train)
	r.Get("/matching/model", h.Model)
	r.Get("/weather/check", h.CheckWeather)
}

// POST /v1/matching/train
func (h *MatchingHandler) Train(w http.ResponseWriter, r *http.Request) {
	info, err := h.matchingService.Train(r.Context())
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.OK(w, info)
}

// GET /v1/matching/model
func (h *MatchingHandler) Model(w http.ResponseWriter, r *http.Request) {
	utils.OK(w, h.matchingService.ModelInfo())
}

// GET /v1/weather/check?lat=&lng=
func (h *MatchingHandler) CheckWeather(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	lng, err := queryFloat(r, "lng")
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if err := validate.Var(lat, "latitude"); err != nil {
		utils.BadRequest(w, "lat out of range")
		return
	}
	if err := validate.Var(lng, "longitude"); err != nil {
		utils.BadRequest(w, "lng out of range")
		return
	}

	verdict := h.gate.Check(r.Context(), lat, lng)
	utils.OK(w, map[string]interface{}{
		"verdict": verdict,
		"summary": verdict.Summary(),
	})
}
