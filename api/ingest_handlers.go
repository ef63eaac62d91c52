package api

import (
	"io"
	"mime"
	"net/http"

	"github.com/vmihailenco/msgpack/v5"
)

const ingestBodyLimit = 10 << 20

type ingestRequest struct {
	Events []interface{} `json:"events" msgpack:"events" validate:"required,min=1"`
}

type ingestItemError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type ingestResponse struct {
	Ingested int               `json:"ingested"`
	EventIDs []string          `json:"event_ids,omitempty"`
	Errors   []ingestItemError `json:"errors,omitempty"`
}

// decodeIngestBody picks the codec from the Content-Type header. JSON
// is the default; msgpack is accepted for high-volume shippers.
func (a *API) decodeIngestBody(w http.ResponseWriter, r *http.Request, dst *ingestRequest) error {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch mediaType {
	case "application/msgpack", "application/x-msgpack":
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, ingestBodyLimit))
		if err != nil {
			return err
		}
		return msgpack.Unmarshal(body, dst)
	default:
		return a.decodeJSONBody(w, r, dst, ingestBodyLimit)
	}
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := a.decodeIngestBody(w, r, &req); err != nil {
		a.respondError(w, r, http.StatusBadRequest, codeValidation, "undecodable request body", err)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.respondError(w, r, http.StatusUnprocessableEntity, codeValidation, "events list is required and must not be empty", err)
		return
	}

	result, err := a.events.Ingest(r.Context(), req.Events)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}

	resp := ingestResponse{
		Ingested: result.Ingested,
		EventIDs: result.EventIDs,
	}
	for _, verr := range result.Errors {
		resp.Errors = append(resp.Errors, ingestItemError{Index: verr.Index, Reason: verr.Reason})
	}

	// Partial acceptance is reported multi-status so shippers notice
	// their rejects without losing the accepted ids
	status := http.StatusOK
	if len(resp.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	a.respondJSON(w, resp, status)
}

func (a *API) handleDetectionRun(w http.ResponseWriter, r *http.Request) {
	result, err := a.detections.Run(r.Context())
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}

	username, _ := UsernameFromContext(r.Context())
	a.logger.Infow("Detection sweep triggered via API",
		"alerts_generated", result.AlertsGenerated,
		"rules_executed", len(result.RulesExecuted),
		"triggered_by", username)

	a.respondJSON(w, result, http.StatusOK)
}
