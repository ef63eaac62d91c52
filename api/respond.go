package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"argus/core"
	"argus/detect"
	"argus/ingest"
	"argus/service"
)

// Machine-readable error codes returned in the error envelope.
const (
	codeValidation          = "validation_error"
	codeNotFound            = "not_found"
	codeInvalidTransition   = "invalid_transition"
	codeRunInProgress       = "run_in_progress"
	codeFalsePositiveReason = "false_positive_reason_required"
	codeBatchTooLarge       = "batch_too_large"
	codeStorageUnavailable  = "storage_unavailable"
	codeUnauthorized        = "unauthorized"
	codeRateLimited         = "rate_limited"
	codeInternal            = "internal_error"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// respondJSON writes data as JSON. Encoding failures are logged; the
// response has already started so the client sees a truncated body.
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// respondError writes the error envelope and logs the full error.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, err error) {
	fields := []interface{}{
		"status_code", statusCode,
		"code", code,
		"request_id", RequestIDFromContext(r.Context()),
	}
	if err != nil {
		fields = append(fields, "error", err)
	}
	if statusCode >= http.StatusInternalServerError {
		a.logger.Errorw(message, fields...)
	} else {
		a.logger.Debugw(message, fields...)
	}

	a.respondJSON(w, errorEnvelope{Error: errorBody{Code: code, Message: message}}, statusCode)
}

// respondServiceError maps service-layer errors onto HTTP statuses and
// envelope codes.
func (a *API) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var storageErr *core.StorageError

	switch {
	case core.IsNotFound(err):
		a.respondError(w, r, http.StatusNotFound, codeNotFound, err.Error(), nil)
	case core.IsInvalidTransition(err):
		a.respondError(w, r, http.StatusConflict, codeInvalidTransition, err.Error(), nil)
	case errors.Is(err, detect.ErrRunInProgress):
		a.respondError(w, r, http.StatusConflict, codeRunInProgress, "a detection run is already in progress", nil)
	case errors.Is(err, service.ErrFalsePositiveReasonRequired):
		a.respondError(w, r, http.StatusUnprocessableEntity, codeFalsePositiveReason, "marking an alert false positive requires a reason", nil)
	case errors.Is(err, ingest.ErrBatchTooLarge):
		a.respondError(w, r, http.StatusUnprocessableEntity, codeBatchTooLarge, err.Error(), nil)
	case errors.As(err, &storageErr):
		a.respondError(w, r, http.StatusServiceUnavailable, codeStorageUnavailable, "storage backend unavailable", err)
	default:
		a.respondError(w, r, http.StatusInternalServerError, codeInternal, "internal server error", err)
	}
}

// decodeJSONBody decodes a JSON request body, rejecting unknown fields
// and bodies over maxBytes.
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
