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

	"github.com/friendsincode/benchbook/internal/auth"
)

// handleNotificationsList returns the user's notifications.
func (a *API) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	list, err := a.store.UserNotifications(r.Context(), auth.UserID(r.Context()), unreadOnly, limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (a *API) handleNotificationsMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := a.store.MarkNotificationRead(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), time.Now()); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
