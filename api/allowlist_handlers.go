package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"argus/core"
	"argus/storage"
)

const allowlistBodyLimit = 64 * 1024

type allowlistCreateRequest struct {
	EntryType  string `json:"entry_type" validate:"required,oneof=ip actor"`
	EntryValue string `json:"entry_value" validate:"required,max=512"`
	Reason     string `json:"reason" validate:"required,max=2000"`
	RuleID     string `json:"rule_id" validate:"max=128"`
	ExpiresAt  string `json:"expires_at" validate:"omitempty"`
	CreatedBy  string `json:"created_by" validate:"max=255"`
}

type allowlistListResponse struct {
	Entries []core.AllowlistEntry `json:"entries"`
	Count   int                   `json:"count"`
}

func (a *API) handleCreateAllowlistEntry(w http.ResponseWriter, r *http.Request) {
	var req allowlistCreateRequest
	if err := a.decodeJSONBody(w, r, &req, allowlistBodyLimit); err != nil {
		a.respondError(w, r, http.StatusBadRequest, codeValidation, "invalid JSON in request body", err)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		a.respondError(w, r, http.StatusUnprocessableEntity, codeValidation,
			"entry_type must be ip or actor, and entry_value and reason are required", err)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		ts, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			a.respondError(w, r, http.StatusUnprocessableEntity, codeValidation,
				"expires_at must be an RFC3339 timestamp", err)
			return
		}
		if !ts.After(time.Now().UTC()) {
			a.respondError(w, r, http.StatusUnprocessableEntity, codeValidation,
				"expires_at must be in the future", nil)
			return
		}
		utc := ts.UTC()
		expiresAt = &utc
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		if username, ok := UsernameFromContext(r.Context()); ok {
			createdBy = username
		}
	}

	entry := &core.AllowlistEntry{
		EntryType:  core.AllowlistEntryType(req.EntryType),
		EntryValue: req.EntryValue,
		Reason:     req.Reason,
		RuleID:     req.RuleID,
		ExpiresAt:  expiresAt,
		CreatedBy:  createdBy,
	}

	if err := a.allowlist.InsertEntry(r.Context(), entry); err != nil {
		a.respondServiceError(w, r, err)
		return
	}

	a.logger.Infow("Allowlist entry created",
		"entry_id", entry.ID,
		"entry_type", entry.EntryType,
		"entry_value", entry.EntryValue,
		"rule_id", entry.RuleID,
		"created_by", entry.CreatedBy,
		"request_id", RequestIDFromContext(r.Context()),
	)

	a.respondJSON(w, entry, http.StatusCreated)
}

func (a *API) handleListAllowlist(w http.ResponseWriter, r *http.Request) {
	includeExpired := r.URL.Query().Get("include_expired") == "true"

	entries, err := a.allowlist.ListEntries(r.Context(), includeExpired)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.AllowlistEntry{}
	}

	a.respondJSON(w, allowlistListResponse{Entries: entries, Count: len(entries)}, http.StatusOK)
}

func (a *API) handleDeleteAllowlistEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := a.allowlist.DeleteEntry(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrAllowlistEntryNotFound) {
			a.respondError(w, r, http.StatusNotFound, codeNotFound, "allowlist entry not found", err)
			return
		}
		a.respondServiceError(w, r, err)
		return
	}

	deletedBy, _ := UsernameFromContext(r.Context())
	a.logger.Infow("Allowlist entry deleted",
		"entry_id", id,
		"deleted_by", deletedBy,
		"request_id", RequestIDFromContext(r.Context()),
	)

	a.respondJSON(w, map[string]string{"message": "allowlist entry deleted"}, http.StatusOK)
}
