/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/benchbook/internal/auth"
	"github.com/friendsincode/benchbook/internal/integrity"
)

type integrityRepairRequest struct {
	Type       string `json:"type"`
	ResourceID string `json:"resource_id"`
}

func (a *API) handleIntegrityReport(w http.ResponseWriter, r *http.Request) {
	if a.integrity == nil {
		writeError(w, http.StatusServiceUnavailable, "integrity_service_unavailable")
		return
	}
	labID := chi.URLParam(r, "labID")
	if err := a.inventory.RequireAdmin(r.Context(), labID, auth.UserID(r.Context())); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	report, err := a.integrity.Scan(r.Context(), labID)
	if err != nil {
		a.logger.Error().Err(err).Str("lab_id", labID).Msg("failed to run integrity scan")
		writeError(w, http.StatusInternalServerError, "scan_failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleIntegrityRepair(w http.ResponseWriter, r *http.Request) {
	if a.integrity == nil {
		writeError(w, http.StatusServiceUnavailable, "integrity_service_unavailable")
		return
	}
	labID := chi.URLParam(r, "labID")
	userID := auth.UserID(r.Context())
	if err := a.inventory.RequireAdmin(r.Context(), labID, userID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	var req integrityRepairRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Type == "" || req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "type_and_resource_id_required")
		return
	}

	result, err := a.integrity.Repair(r.Context(), integrity.RepairInput{
		Type:       integrity.FindingType(req.Type),
		LabID:      labID,
		ResourceID: req.ResourceID,
		UserID:     userID,
	})
	if err != nil {
		a.logger.Error().
			Err(err).
			Str("type", req.Type).
			Str("lab_id", labID).
			Str("resource_id", req.ResourceID).
			Msg("integrity repair failed")
		writeError(w, http.StatusInternalServerError, "repair_failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
