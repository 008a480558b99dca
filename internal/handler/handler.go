package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/pkg/utils"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// decodeJSON reads and validates a request body. An empty body is allowed
// when optional is set.
func decodeJSON(r *http.Request, v interface{}, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		err = nil
	}
	if err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	if err := validate.Struct(v); err != nil {
		return apperrors.BadRequest(err.Error())
	}
	return nil
}

// handleError writes typed errors as-is and hides everything else behind a 500.
func handleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if apiErr, ok := apperrors.As(err); ok {
		utils.Error(w, apiErr)
		return
	}
	logger.Error("request failed", "err", err)
	utils.InternalError(w, "internal server error")
}

func principal(r *http.Request) (models.Principal, error) {
	p, ok := models.PrincipalFrom(r.Context())
	if !ok {
		return models.Principal{}, apperrors.NotAuthorized("missing caller identity")
	}
	return p, nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	v, err := strconv.ParseFloat(r.URL.Query().Get(key), 64)
	if err != nil {
		return 0, apperrors.BadRequest(key + " must be a number")
	}
	return v, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
