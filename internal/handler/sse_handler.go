package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/tracking"
	"github.com/aditya/ridedispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
)

// TrackRide streams a ride room over server-sent events. The current position
// goes out first so late joiners do not wait for the next report.
//
// GET /v1/rides/{id}/track
func (h *TrackingHandler) TrackRide(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "id")
	if _, err := h.rideService.GetRide(r.Context(), rideID); err != nil {
		handleError(w, h.logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.Error(w, apperrors.InternalError("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := tracking.NewSubscriber()
	h.hub.Join(sub, rideID)
	defer h.hub.Disconnect(sub)

	if pos, err := h.hub.CurrentPosition(r.Context(), rideID); err == nil {
		if data, err := json.Marshal(models.NewEvent(models.EventRideLocation, rideID, pos.DriverID, pos)); err == nil {
			writeSSE(w, models.EventRideLocation, data)
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Send:
			if !ok {
				return
			}
			writeSSE(w, eventType(msg), msg)
			flusher.Flush()
		case t := <-ticker.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {\"time\":%q}\n\n", t.UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func eventType(msg []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil || head.Type == "" {
		return "message"
	}
	return head.Type
}
