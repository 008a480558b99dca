package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors
var (
	ErrNotFound                = errors.New("resource not found")
	ErrBadRequest              = errors.New("bad request")
	ErrInternalServer          = errors.New("internal server error")
	ErrIdempotencyConflict     = errors.New("idempotency key conflict")
	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrNotAuthorized           = errors.New("not authorized")
	ErrAlreadyHandled          = errors.New("already handled")
	ErrUnsafeWeather           = errors.New("unsafe weather")
	ErrFareOutOfRange          = errors.New("fare out of range")
	ErrInsufficientData        = errors.New("insufficient data")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrDriverBusy              = errors.New("driver is busy")
	ErrNotAvailable            = errors.New("not available")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrNoDriversAvailable      = errors.New("no drivers available")
	ErrStalePosition           = errors.New("stale position report")
	ErrConflict                = errors.New("conflict")
)

// APIError represents a structured API error. Err is the sentinel it belongs to,
// so callers can match with errors.Is.
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new API error
func NewAPIError(code, message string, statusCode int, kind error) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        kind,
	}
}

func NotFound(resource string) *APIError {
	return NewAPIError("not_found", fmt.Sprintf("%s not found", resource), http.StatusNotFound, ErrNotFound)
}

func BadRequest(message string) *APIError {
	return NewAPIError("bad_request", message, http.StatusBadRequest, ErrBadRequest)
}

func InternalError(message string) *APIError {
	return NewAPIError("internal_error", message, http.StatusInternalServerError, ErrInternalServer)
}

func IdempotencyConflict() *APIError {
	return NewAPIError("idempotency_conflict", "idempotency key already used with different request", http.StatusConflict, ErrIdempotencyConflict)
}

func InvalidTransition(from, to string) *APIError {
	return NewAPIError("invalid_transition", fmt.Sprintf("cannot transition from %s to %s", from, to), http.StatusConflict, ErrInvalidTransition)
}

func NotAuthorized(message string) *APIError {
	return NewAPIError("not_authorized", message, http.StatusForbidden, ErrNotAuthorized)
}

func AlreadyHandled(rideID string) *APIError {
	return NewAPIError("already_handled", fmt.Sprintf("ride %s was already handled by another request", rideID), http.StatusConflict, ErrAlreadyHandled)
}

func UnsafeWeather(message string) *APIError {
	return NewAPIError("unsafe_weather", message, http.StatusUnprocessableEntity, ErrUnsafeWeather)
}

func FareOutOfRange(fare, min, max float64) *APIError {
	return NewAPIError("fare_out_of_range",
		fmt.Sprintf("estimated fare %.2f is outside the offered range [%.2f, %.2f]", fare, min, max),
		http.StatusUnprocessableEntity, ErrFareOutOfRange)
}

func InsufficientData(message string) *APIError {
	return NewAPIError("insufficient_data", message, http.StatusUnprocessableEntity, ErrInsufficientData)
}

func CollaboratorUnavailable(collaborator string, err error) *APIError {
	msg := fmt.Sprintf("%s is unavailable", collaborator)
	if err != nil {
		msg = fmt.Sprintf("%s is unavailable: %v", collaborator, err)
	}
	return NewAPIError("collaborator_unavailable", msg, http.StatusServiceUnavailable, ErrCollaboratorUnavailable)
}

func DriverBusy(driverID string) *APIError {
	return NewAPIError("driver_busy", fmt.Sprintf("driver %s already has an active ride", driverID), http.StatusConflict, ErrDriverBusy)
}

func NotAvailable(what string) *APIError {
	return NewAPIError("not_available", fmt.Sprintf("%s is not available", what), http.StatusNotFound, ErrNotAvailable)
}

func PaymentFailed(err error) *APIError {
	return NewAPIError("payment_failed", fmt.Sprintf("payment failed: %v", err), http.StatusPaymentRequired, ErrPaymentFailed)
}

func NoDriversAvailable() *APIError {
	return NewAPIError("no_drivers_available", "no drivers available in your area", http.StatusServiceUnavailable, ErrNoDriversAvailable)
}

func Conflict(message string) *APIError {
	return NewAPIError("conflict", message, http.StatusConflict, ErrConflict)
}

func StalePosition(rideID string) *APIError {
	return NewAPIError("stale_position", fmt.Sprintf("a newer position for ride %s was already applied", rideID), http.StatusConflict, ErrStalePosition)
}

// As extracts an *APIError from err's chain.
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
