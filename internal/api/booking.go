/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/benchbook/internal/auth"
	"github.com/friendsincode/benchbook/internal/planner"
	"github.com/friendsincode/benchbook/internal/store"
)

// taskRequest names a stored template or carries an inline task.
type taskRequest struct {
	TemplateID string        `json:"template_id,omitempty"`
	Task       *planner.Task `json:"task,omitempty"`
	Date       string        `json:"date,omitempty"`
	Start      string        `json:"start,omitempty"`
}

type slotResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
	// Local renders the slot as HH:MM-HH:MM in the lab zone.
	Local string `json:"local"`
}

// resolveTask checks membership and loads the task a request refers to.
func (a *API) resolveTask(r *http.Request, labID string, req taskRequest) (planner.Task, error) {
	userID := auth.UserID(r.Context())
	if _, err := a.inventory.RequireMember(r.Context(), labID, userID); err != nil {
		return planner.Task{}, err
	}
	switch {
	case req.TemplateID != "":
		tmpl, err := a.inventory.Template(r.Context(), userID, req.TemplateID)
		if err != nil {
			return planner.Task{}, err
		}
		if tmpl.LabID != labID {
			return planner.Task{}, fmt.Errorf("template %s in lab %s: %w", req.TemplateID, labID, store.ErrNotFound)
		}
		return tmpl.Task(), nil
	case req.Task != nil:
		return *req.Task, nil
	default:
		return planner.Task{}, planner.ErrEmptyTask
	}
}

func (a *API) handleSlots(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	day, ok := a.parseDay(req.Date)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	labID := chi.URLParam(r, "labID")
	task, err := a.resolveTask(r, labID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	slots, err := a.booking.FindAvailableSlots(r.Context(), task, labID, day)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	out := make([]slotResponse, len(slots))
	for i, s := range slots {
		out[i] = slotResponse{
			Start: s.Start.Format(time.RFC3339),
			End:   s.End.Format(time.RFC3339),
			Local: s.Start.In(a.loc).Format("15:04") + "-" + s.End.In(a.loc).Format("15:04"),
		}
	}
	// estimate is the sum-of-steps bound; duration is what a slot really takes
	resp := map[string]any{
		"date":     day.Format("2006-01-02"),
		"estimate": planner.TaskDuration(task).Minutes(),
		"slots":    out,
	}
	if len(slots) > 0 {
		resp["duration"] = slots[0].Duration().Minutes()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, ok := a.parseStart(req.Start)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_start")
		return
	}
	labID := chi.URLParam(r, "labID")
	task, err := a.resolveTask(r, labID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	assignment, err := a.booking.Preview(r.Context(), task, labID, start)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (a *API) handleReservationsCreate(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, ok := a.parseStart(req.Start)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_start")
		return
	}
	labID := chi.URLParam(r, "labID")
	task, err := a.resolveTask(r, labID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	placement, err := a.booking.PlaceAndReserve(r.Context(), task, labID, auth.UserID(r.Context()), start)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, placement)
}

func (a *API) handleReservationsList(w http.ResponseWriter, r *http.Request) {
	since := time.Now().In(a.loc).Truncate(time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		since = t
	}
	rows, err := a.store.UserReservations(r.Context(), auth.UserID(r.Context()), since)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": rows})
}

func (a *API) handleLabReservations(w http.ResponseWriter, r *http.Request) {
	labID := chi.URLParam(r, "labID")
	if _, err := a.inventory.RequireMember(r.Context(), labID, auth.UserID(r.Context())); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	day, ok := a.parseDay(r.URL.Query().Get("date"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	rows, err := a.store.LabReservations(r.Context(), labID, day, day.AddDate(0, 0, 1))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": rows})
}

func (a *API) handleReservationsCancel(w http.ResponseWriter, r *http.Request) {
	n, err := a.booking.CancelReservations(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "taskID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}
