/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/benchbook/internal/audit"
	"github.com/friendsincode/benchbook/internal/auth"
	"github.com/friendsincode/benchbook/internal/models"
)

// handleAuditList returns a lab's audit trail (lab admins only).
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if a.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_service_unavailable")
		return
	}
	labID := chi.URLParam(r, "labID")
	if err := a.inventory.RequireAdmin(r.Context(), labID, auth.UserID(r.Context())); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	filters := parseAuditFilters(r)
	filters.LabID = &labID

	logs, total, err := a.audit.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query audit logs")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit_logs": logs,
		"total":      total,
		"limit":      filters.Limit,
		"offset":     filters.Offset,
	})
}

func parseAuditFilters(r *http.Request) audit.QueryFilters {
	q := r.URL.Query()
	filters := audit.QueryFilters{Limit: 50}

	if userID := q.Get("user_id"); userID != "" {
		filters.UserID = &userID
	}
	if action := q.Get("action"); action != "" {
		a := models.AuditAction(action)
		filters.Action = &a
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filters.StartTime = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filters.EndTime = &t
		}
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit <= 500 {
		filters.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		filters.Offset = offset
	}
	return filters
}
