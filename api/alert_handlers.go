package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"argus/core"
)

const statusPatchBodyLimit = 64 * 1024

type alertListResponse struct {
	Alerts []*core.Alert `json:"alerts"`
	Count  int           `json:"count"`
}

type statusPatchRequest struct {
	Status   string `json:"status" validate:"required,oneof=open triaged closed false_positive"`
	Reason   string `json:"reason,omitempty" validate:"max=2000"`
	MarkedBy string `json:"marked_by,omitempty" validate:"max=255"`
}

// severityParam parses an optional severity query value.
func severityParam(value string) (core.Severity, bool) {
	if value == "" {
		return "", true
	}
	sev := core.Severity(value)
	return sev, sev.IsValid()
}

// parseAlertFilter builds a storage filter from the list query string.
func parseAlertFilter(r *http.Request) (core.AlertFilter, string) {
	q := r.URL.Query()
	filter := core.AlertFilter{RuleID: q.Get("rule_id")}

	if raw := q.Get("status"); raw != "" {
		status := core.AlertStatus(raw)
		if !status.IsValid() {
			return filter, "status must be one of open, triaged, closed, false_positive"
		}
		filter.Status = status
	}

	if raw := q.Get("severity"); raw != "" {
		sev, ok := severityParam(raw)
		if !ok {
			return filter, "severity must be one of low, medium, high, critical"
		}
		filter.Severity = sev
	}

	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{
		{"since", &filter.Since},
		{"until", &filter.Until},
	} {
		if raw := q.Get(bound.name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filter, bound.name + " must be an RFC3339 timestamp"
			}
			*bound.dst = t
		}
	}

	for _, num := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		if raw := q.Get(num.name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return filter, num.name + " must be a non-negative integer"
			}
			*num.dst = n
		}
	}

	return filter, ""
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, problem := parseAlertFilter(r)
	if problem != "" {
		a.respondError(w, r, http.StatusBadRequest, codeValidation, problem, nil)
		return
	}

	alerts, err := a.alerts.List(r.Context(), filter)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*core.Alert{}
	}

	a.respondJSON(w, alertListResponse{Alerts: alerts, Count: len(alerts)}, http.StatusOK)
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	alert, err := a.alerts.Get(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}

	a.respondJSON(w, alert, http.StatusOK)
}

func (a *API) handleUpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req statusPatchRequest
	if err := a.decodeJSONBody(w, r, &req, statusPatchBodyLimit); err != nil {
		a.respondError(w, r, http.StatusBadRequest, codeValidation, "undecodable request body", err)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.respondError(w, r, http.StatusUnprocessableEntity, codeValidation,
			"status must be one of open, triaged, closed, false_positive", err)
		return
	}

	markedBy := req.MarkedBy
	if markedBy == "" {
		if username, ok := UsernameFromContext(r.Context()); ok {
			markedBy = username
		}
	}

	alert, err := a.alerts.UpdateStatus(r.Context(), id, core.AlertStatus(req.Status), req.Reason, markedBy)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}

	a.respondJSON(w, alert, http.StatusOK)
}

func (a *API) handleGetFalsePositive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := a.alerts.GetFalsePositive(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}

	a.respondJSON(w, record, http.StatusOK)
}
