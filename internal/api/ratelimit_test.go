/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/friendsincode/benchbook/internal/auth"
)

func TestUserLimiterIsPerUser(t *testing.T) {
	l := newUserLimiter(rate.Limit(1), 2)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.True(t, l.allow("alice", now))
	assert.True(t, l.allow("alice", now))
	assert.False(t, l.allow("alice", now))
	assert.True(t, l.allow("bob", now), "another user has its own bucket")
	assert.True(t, l.allow("alice", now.Add(time.Second)))
}

func TestUserLimiterSweepsIdleEntries(t *testing.T) {
	l := newUserLimiter(rate.Limit(1), 1)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	l.allow("alice", now)
	l.allow("bob", now.Add(limiterIdleTTL+time.Minute))
	assert.Len(t, l.entries, 1)
}

func TestUserLimiterDisabled(t *testing.T) {
	for _, limit := range []rate.Limit{0, rate.Inf} {
		l := newUserLimiter(limit, 1)
		for i := 0; i < 10; i++ {
			assert.True(t, l.allow("alice", time.Now()))
		}
	}
}

func TestLimiterMiddlewareReturns429(t *testing.T) {
	l := newUserLimiter(rate.Limit(0.5), 1)
	h := l.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ctx := auth.WithClaims(httptest.NewRequest(http.MethodPost, "/", nil).Context(), &auth.Claims{UserID: "alice"})
	req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}
