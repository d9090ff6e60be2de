/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/benchbook/internal/auth"
	"github.com/friendsincode/benchbook/internal/planner"
)

type templateShareRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) handleTemplatesList(w http.ResponseWriter, r *http.Request) {
	list, err := a.inventory.Templates(r.Context(), auth.UserID(r.Context()), r.URL.Query().Get("lab_id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": list})
}

func (a *API) handleTemplatesCreate(w http.ResponseWriter, r *http.Request) {
	var task planner.Task
	if !decodeJSON(w, r, &task) {
		return
	}
	tmpl, err := a.inventory.SaveTemplate(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "labID"), task)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (a *API) handleTemplatesGet(w http.ResponseWriter, r *http.Request) {
	tmpl, err := a.inventory.Template(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "templateID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"template": tmpl,
		"duration": planner.TaskDuration(tmpl.Task()).Minutes(),
	})
}

func (a *API) handleTemplatesDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.inventory.DeleteTemplate(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "templateID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTemplatesShare(w http.ResponseWriter, r *http.Request) {
	var req templateShareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cp, err := a.inventory.ShareTemplate(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "templateID"), req.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}
