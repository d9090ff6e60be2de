/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/friendsincode/benchbook/internal/auth"
	"github.com/friendsincode/benchbook/internal/builder"
	"github.com/friendsincode/benchbook/internal/planner"
)

type builderStartRequest struct {
	LabID       string `json:"lab_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type builderFinalizeRequest struct {
	// Order lists 1-based step numbers per branch. OrderText is the same as
	// lines of numbers, e.g. "1 2 3\n4 5". Neither means one branch in input order.
	Order     [][]int `json:"order,omitempty"`
	OrderText string  `json:"order_text,omitempty"`
}

func (a *API) handleBuilderStart(w http.ResponseWriter, r *http.Request) {
	var req builderStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := auth.UserID(r.Context())
	if _, err := a.inventory.RequireMember(r.Context(), req.LabID, userID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	session, err := a.builder.Start(r.Context(), userID, req.LabID, req.Name, req.Description)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleBuilderGet(w http.ResponseWriter, r *http.Request) {
	session, err := a.builder.Session(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleBuilderAddStep(w http.ResponseWriter, r *http.Request) {
	var step planner.Step
	if !decodeJSON(w, r, &step) {
		return
	}
	n, err := a.builder.AddStep(r.Context(), auth.UserID(r.Context()), step)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"index": n})
}

func (a *API) handleBuilderFinalize(w http.ResponseWriter, r *http.Request) {
	var req builderFinalizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order := req.Order
	if order == nil && req.OrderText != "" {
		parsed, err := builder.ParseOrder(req.OrderText)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		order = parsed
	}
	tmpl, err := a.builder.Finalize(r.Context(), auth.UserID(r.Context()), order)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (a *API) handleBuilderDiscard(w http.ResponseWriter, r *http.Request) {
	if err := a.builder.Discard(r.Context(), auth.UserID(r.Context())); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
