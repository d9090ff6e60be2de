/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/benchbook/internal/auth"
)

type labCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type labJoinRequest struct {
	Lab string `json:"lab"`
}

type equipmentAddRequest struct {
	EquipmentType string `json:"equipment_type"`
	Count         int    `json:"count"`
}

type unitUpdateRequest struct {
	Active *bool `json:"active"`
}

func (a *API) handleLabsList(w http.ResponseWriter, r *http.Request) {
	labs, err := a.inventory.Labs(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labs": labs})
}

func (a *API) handleLabsCreate(w http.ResponseWriter, r *http.Request) {
	var req labCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lab, err := a.inventory.CreateLab(r.Context(), auth.UserID(r.Context()), req.Name, req.Description)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lab)
}

func (a *API) handleLabsJoin(w http.ResponseWriter, r *http.Request) {
	var req labJoinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lab, member, err := a.inventory.JoinLab(r.Context(), auth.UserID(r.Context()), req.Lab)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lab": lab, "role": member.Role})
}

func (a *API) handleLabsGet(w http.ResponseWriter, r *http.Request) {
	lab, err := a.inventory.Lab(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "labID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lab)
}

func (a *API) handleMembersList(w http.ResponseWriter, r *http.Request) {
	members, err := a.inventory.Members(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "labID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) handleMembersGrantAdmin(w http.ResponseWriter, r *http.Request) {
	member, err := a.inventory.GrantAdmin(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "labID"), chi.URLParam(r, "userID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (a *API) handleEquipmentSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.inventory.Summary(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "labID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"equipment": summary})
}

func (a *API) handleEquipmentAdd(w http.ResponseWriter, r *http.Request) {
	var req equipmentAddRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	units, err := a.inventory.AddUnits(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "labID"), req.EquipmentType, req.Count)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"units": units})
}

func (a *API) handleEquipmentRemove(w http.ResponseWriter, r *http.Request) {
	count := 1
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_count")
			return
		}
		count = n
	}
	removed, err := a.inventory.RemoveUnits(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "labID"), chi.URLParam(r, "equipmentType"), count)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *API) handleUnitsList(w http.ResponseWriter, r *http.Request) {
	units, err := a.inventory.Units(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "labID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units})
}

func (a *API) handleUnitsUpdate(w http.ResponseWriter, r *http.Request) {
	var req unitUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "active_required")
		return
	}
	unit, err := a.inventory.SetUnitActive(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "labID"), chi.URLParam(r, "unitID"), *req.Active)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}
