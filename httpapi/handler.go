// Package httpapi exposes tasks.Service over HTTP. Every /tasks route
// resolves the caller's bearer credential before any store access.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/taskd/auth"
	"github.com/ggoodman/taskd/internal/logctx"
	"github.com/ggoodman/taskd/internal/metrics"
	"github.com/ggoodman/taskd/internal/ratelimit"
	"github.com/ggoodman/taskd/internal/wellknown"
	"github.com/ggoodman/taskd/tasks"
	"github.com/google/uuid"
)

const (
	authorizationHeader   = "authorization"
	wwwAuthenticateHeader = "www-authenticate"
	requestIDHeader       = "x-request-id"

	// DefaultRealm is used in WWW-Authenticate challenges when Config.Realm is empty.
	DefaultRealm = "taskd"

	maxBodyBytes = 1 << 20
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// Resolver turns a bearer credential into an identity. *auth.Resolver
// satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, tok string) (auth.UserInfo, error)
	Policy() auth.Policy
}

var _ Resolver = (*auth.Resolver)(nil)

type Config struct {
	Resolver Resolver
	Tasks    *tasks.Service

	// Realm is advertised in bearer challenges.
	Realm string

	// Metrics is optional.
	Metrics *metrics.Metrics

	// RateLimiter is optional. When set, requests over the per-client limit
	// get a 429 before authentication runs.
	RateLimiter *ratelimit.Limiter

	// ResourceMetadata is optional. When set, it is served at
	// wellknown.ProtectedResourcePath and referenced from every challenge.
	ResourceMetadata *wellknown.ProtectedResourceMetadata

	// LogHandler is an optional slog.Handler. If nil, logging is discarded.
	LogHandler slog.Handler
}

// Handler is the taskd HTTP API.
type Handler struct {
	resolver Resolver
	tasks    *tasks.Service
	realm    string
	metrics  *metrics.Metrics
	log      *slog.Logger

	prm    *wellknown.ProtectedResourceMetadata
	prmURL string

	root http.Handler
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("Resolver is required")
	}
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("Tasks is required")
	}

	logHandler := slog.DiscardHandler
	if cfg.LogHandler != nil {
		logHandler = cfg.LogHandler
	}
	if _, ok := logHandler.(logctx.Handler); !ok {
		logHandler = logctx.Handler{Handler: logHandler}
	}

	h := &Handler{
		resolver: cfg.Resolver,
		tasks:    cfg.Tasks,
		realm:    cfg.Realm,
		metrics:  cfg.Metrics,
		log:      slog.New(logHandler),
	}
	if h.realm == "" {
		h.realm = DefaultRealm
	}
	if cfg.ResourceMetadata != nil {
		h.prm = cfg.ResourceMetadata
		h.prmURL = strings.TrimRight(cfg.ResourceMetadata.Resource, "/") + wellknown.ProtectedResourcePath
	}

	mux := http.NewServeMux()
	h.route(mux, "GET /{$}", h.handleRoot)
	h.route(mux, "GET /healthz", h.handleHealth)
	if h.prm != nil {
		h.route(mux, "GET "+wellknown.ProtectedResourcePath, h.handleProtectedResourceMetadata)
	}
	h.route(mux, "POST /tasks", h.authenticated(h.handleCreate))
	h.route(mux, "GET /tasks", h.authenticated(h.handleList))
	h.route(mux, "GET /tasks/{id}", h.authenticated(h.handleGet))
	h.route(mux, "PUT /tasks/{id}", h.authenticated(h.handleUpdate))
	h.route(mux, "PATCH /tasks/{id}/toggle", h.authenticated(h.handleToggle))
	h.route(mux, "DELETE /tasks/{id}", h.authenticated(h.handleDelete))

	// Method-less patterns are less specific than the ones above, so they
	// only see requests no other route accepted.
	h.route(mux, "/healthz", methodNotAllowed("GET, HEAD"))
	h.route(mux, "/tasks", methodNotAllowed("GET, HEAD, POST"))
	h.route(mux, "/tasks/{id}", methodNotAllowed("DELETE, GET, HEAD, PUT"))
	h.route(mux, "/tasks/{id}/toggle", methodNotAllowed("PATCH"))
	h.route(mux, "/", h.handleNotFound)

	var root http.Handler = mux
	if cfg.RateLimiter != nil {
		cfg.RateLimiter.Reject = h.handleRateLimited
		root = cfg.RateLimiter.Middleware(root)
	}
	h.root = h.withRequestData(root)

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// route registers fn under pattern and records per-route metrics.
func (h *Handler) route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		fn(sw, r)

		elapsed := time.Since(start)
		if h.metrics != nil {
			h.metrics.RequestsTotal.WithLabelValues(pattern, fmt.Sprint(sw.status)).Inc()
			h.metrics.RequestDuration.WithLabelValues(pattern).Observe(elapsed.Seconds())
		}
		h.log.InfoContext(r.Context(), "http.request.done",
			slog.String("route", pattern),
			slog.Int("status", sw.status),
			slog.Duration("duration", elapsed),
		)
	}))
}

// withRequestData assigns a request id and attaches request attributes for
// logging.
func (h *Handler) withRequestData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(requestIDHeader, id)

		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  id,
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: ratelimit.ClientIP(r),
			Path:       r.URL.Path,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticated resolves the caller and attaches it to the request context
// before calling fn. On failure it writes a 401 challenge and fn never runs.
func (h *Handler) authenticated(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		policy := h.resolver.Policy().String()

		tok, err := auth.ExtractBearer(r.Header.Get(authorizationHeader))
		if err == nil {
			var user auth.UserInfo
			user, err = h.resolver.Resolve(ctx, tok)
			if err == nil {
				h.countAuth(policy, metrics.OutcomeOK)
				ctx = auth.WithUserInfo(ctx, user)
				ctx = logctx.WithUserData(ctx, &logctx.UserData{UserID: user.UserID(), Policy: policy})
				fn(w, r.WithContext(ctx))
				return
			}
		}

		ch := auth.ChallengeFor(err, h.realm)
		if ch == nil {
			h.log.ErrorContext(ctx, "http.auth.error", slog.String("err", err.Error()))
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		switch {
		case errors.Is(err, auth.ErrMissingAuthHeader):
			h.countAuth(policy, metrics.OutcomeMissing)
		case errors.Is(err, auth.ErrMalformedAuthScheme):
			h.countAuth(policy, metrics.OutcomeMalformed)
		default:
			h.countAuth(policy, metrics.OutcomeRejected)
		}

		challenge := ch.WWWAuthenticate
		if h.prmURL != "" {
			challenge += fmt.Sprintf(`, resource_metadata="%s"`, h.prmURL)
		}
		w.Header().Set(wwwAuthenticateHeader, challenge)
		writeError(w, ch.Status, ch.Message)
	}
}

func (h *Handler) countAuth(policy, outcome string) {
	if h.metrics != nil {
		h.metrics.AuthOutcomes.WithLabelValues(policy, outcome).Inc()
	}
}

func (h *Handler) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	if h.metrics != nil {
		h.metrics.RateLimited.Inc()
	}
	h.log.WarnContext(r.Context(), "http.rate_limited")
	writeError(w, http.StatusTooManyRequests, "Too many requests")
}

// requireJSON writes a 415 and returns false unless the body is JSON.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
