/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/benchbook/internal/audit"
	"github.com/friendsincode/benchbook/internal/auth"
	"github.com/friendsincode/benchbook/internal/booking"
	"github.com/friendsincode/benchbook/internal/builder"
	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/integrity"
	"github.com/friendsincode/benchbook/internal/inventory"
	"github.com/friendsincode/benchbook/internal/planner"
	"github.com/friendsincode/benchbook/internal/store"
	"github.com/friendsincode/benchbook/internal/telemetry"
)

// Deps are the services the API serves.
type Deps struct {
	Store     *store.Store
	Booking   *booking.Service
	Inventory *inventory.Service
	Builder   *builder.Builder
	Integrity *integrity.Service
	Audit     *audit.Service
	Bus       events.Broker
	JWTSecret []byte

	// SlotSearchRate and SlotSearchBurst bound slot searches per user.
	SlotSearchRate  rate.Limit
	SlotSearchBurst int
}

// API exposes HTTP handlers.
type API struct {
	store     *store.Store
	booking   *booking.Service
	inventory *inventory.Service
	builder   *builder.Builder
	integrity *integrity.Service
	audit     *audit.Service
	bus       events.Broker
	jwtSecret []byte
	limiter   *userLimiter
	loc       *time.Location
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(deps Deps, logger zerolog.Logger) *API {
	loc := deps.Booking.Planner().Config().Location
	if loc == nil {
		loc = time.UTC
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	return &API{
		store:     deps.Store,
		booking:   deps.Booking,
		inventory: deps.Inventory,
		builder:   deps.Builder,
		integrity: deps.Integrity,
		audit:     deps.Audit,
		bus:       bus,
		jwtSecret: deps.JWTSecret,
		limiter:   newUserLimiter(deps.SlotSearchRate, deps.SlotSearchBurst),
		loc:       loc,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Get("/events", a.handleEvents)

			pr.Route("/labs", func(r chi.Router) {
				r.Get("/", a.handleLabsList)
				r.Post("/", a.handleLabsCreate)
				r.Post("/join", a.handleLabsJoin)
				r.Route("/{labID}", func(r chi.Router) {
					r.Get("/", a.handleLabsGet)
					r.Get("/members", a.handleMembersList)
					r.Post("/members/{userID}/admin", a.handleMembersGrantAdmin)

					r.Get("/equipment", a.handleEquipmentSummary)
					r.Post("/equipment", a.handleEquipmentAdd)
					r.Delete("/equipment/{equipmentType}", a.handleEquipmentRemove)
					r.Get("/units", a.handleUnitsList)
					r.Patch("/units/{unitID}", a.handleUnitsUpdate)

					r.Post("/templates", a.handleTemplatesCreate)

					r.With(a.limiter.middleware).Post("/slots", a.handleSlots)
					r.Post("/preview", a.handlePreview)
					r.Post("/reservations", a.handleReservationsCreate)
					r.Get("/reservations", a.handleLabReservations)

					r.Get("/integrity", a.handleIntegrityReport)
					r.Post("/integrity/repair", a.handleIntegrityRepair)
					r.Get("/audit", a.handleAuditList)
				})
			})

			pr.Route("/templates", func(r chi.Router) {
				r.Get("/", a.handleTemplatesList)
				r.Get("/{templateID}", a.handleTemplatesGet)
				r.Delete("/{templateID}", a.handleTemplatesDelete)
				r.Post("/{templateID}/share", a.handleTemplatesShare)
			})

			pr.Route("/reservations", func(r chi.Router) {
				r.Get("/", a.handleReservationsList)
				r.Delete("/{taskID}", a.handleReservationsCancel)
			})

			pr.Route("/builder", func(r chi.Router) {
				r.Get("/", a.handleBuilderGet)
				r.Post("/", a.handleBuilderStart)
				r.Delete("/", a.handleBuilderDiscard)
				r.Post("/steps", a.handleBuilderAddStep)
				r.Post("/finalize", a.handleBuilderFinalize)
			})

			pr.Route("/notifications", func(r chi.Router) {
				r.Get("/", a.handleNotificationsList)
				r.Post("/{id}/read", a.handleNotificationsMarkRead)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if sqlDB, err := a.store.DB().DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "time": time.Now().UTC()})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.All
	}

	// Subscribe before the handshake so nothing published after it is missed.
	type envelope struct {
		eventType events.EventType
		payload   events.Payload
	}
	merged := make(chan envelope, 64)
	subCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		defer a.bus.Unsubscribe(eventType, sub)
		go func(eventType events.EventType, sub events.Subscriber) {
			for {
				select {
				case <-subCtx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- envelope{eventType, payload}:
					case <-subCtx.Done():
						return
					}
				}
			}
		}(eventType, sub)
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Reads are only needed to observe the client closing.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case env := <-merged:
			if !visibleTo(env.payload, userID) {
				continue
			}
			if err := a.writeEvent(ctx, conn, env.eventType, env.payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

// visibleTo hides reminders addressed to other users.
func visibleTo(payload events.Payload, userID string) bool {
	if _, ok := payload["notification_id"]; !ok {
		return true
	}
	owner, _ := payload["user_id"].(string)
	return owner == userID
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// writeServiceError maps domain errors onto status codes and stable error codes.
// Each error kind keeps its own code.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, planner.ErrEmptyTask):
		return http.StatusUnprocessableEntity, "empty_task"
	case errors.Is(err, planner.ErrUnknownEquipmentType):
		return http.StatusUnprocessableEntity, "unknown_equipment_type"
	case errors.Is(err, planner.ErrInvalidTask):
		return http.StatusUnprocessableEntity, "invalid_task"
	case errors.Is(err, builder.ErrInvalidOrder):
		return http.StatusUnprocessableEntity, "invalid_order"
	case errors.Is(err, booking.ErrOutsideHorizon):
		return http.StatusUnprocessableEntity, "outside_horizon"
	case errors.Is(err, planner.ErrInfeasible):
		return http.StatusConflict, "infeasible"
	case errors.Is(err, booking.ErrRaceLost):
		return http.StatusConflict, "race_lost"
	case errors.Is(err, builder.ErrSessionExists):
		return http.StatusConflict, "session_exists"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, booking.ErrStore):
		return http.StatusServiceUnavailable, "store_error"
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, builder.ErrNoSession):
		return http.StatusNotFound, "no_session"
	case errors.Is(err, inventory.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, inventory.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// parseDay reads a YYYY-MM-DD date in the lab zone.
func (a *API) parseDay(raw string) (time.Time, bool) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), a.loc)
	return t, err == nil
}

// parseStart accepts RFC 3339 or a local "YYYY-MM-DDTHH:MM" in the lab zone.
func (a *API) parseStart(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, raw, a.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
