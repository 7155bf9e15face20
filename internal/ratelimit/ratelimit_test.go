package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ggoodman/taskd/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLimitsPerIP(t *testing.T) {
	l := ratelimit.New(t.Context(), 0.5, 2)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:1001").Code)

	limited := do("10.0.0.1:1002")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "2", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, do("10.0.0.2:1000").Code, "other clients keep their own bucket")
}

func TestCustomReject(t *testing.T) {
	l := ratelimit.New(t.Context(), 1, 0)
	l.Reject = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}
	h := l.Middleware(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[::1]:443"
	assert.Equal(t, "::1", ratelimit.ClientIP(r))
	r.RemoteAddr = "unix"
	assert.Equal(t, "unix", ratelimit.ClientIP(r))
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, "unix", ratelimit.ClientIP(r))
}
