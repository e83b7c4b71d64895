// Package api exposes the notifier over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/metrics"
	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/notifier"
	"github.com/dmitrymomot/notifykit/pkg/preferences"
	"github.com/dmitrymomot/notifykit/pkg/transport"
)

// UserHeader carries the authenticated user id for WebSocket connections.
// An upstream gateway is expected to set it.
const UserHeader = "X-User-ID"

const maxBodyBytes = 64 << 10

// PreferenceStore is the read-write side of the preference store.
type PreferenceStore interface {
	preferences.Store
	SetPreferences(ctx context.Context, p preferences.Preferences) error
}

// Deps are the handlers' collaborators. Hub may be nil when in-app
// delivery is disabled.
type Deps struct {
	Service     *notifier.Service
	Preferences PreferenceStore
	Metrics     *metrics.Collector
	Hub         *transport.Hub
	Ready       []httpserver.Check
	Logger      *slog.Logger
}

type handler struct {
	Deps
}

// NewRouter mounts every endpoint.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logger.Discard()
	}
	h := handler{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.Liveness())
	r.Get("/readyz", httpserver.Readiness(d.Logger, d.Ready...))
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/notifications", h.send)
		r.Get("/health", h.health)
		r.Get("/users/{userID}/preferences", h.getPreferences)
		r.Put("/users/{userID}/preferences", h.putPreferences)
		if d.Hub != nil {
			r.Get("/ws", h.websocket)
		}
	})
	return r
}

// requestLogger attaches the request id to the context logger attributes
// and logs each request at debug level.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logger.WithAttrs(r.Context(), slog.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))
			log.LogAttrs(ctx, slog.LevelDebug, "http request",
				logger.Component("api"),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				logger.Duration(time.Since(start)),
			)
		})
	}
}

// SendRequest is the body of POST /v1/notifications.
type SendRequest struct {
	UserID       string                `json:"user_id"`
	Priority     notification.Priority `json:"priority"`
	Notification notification.Payload  `json:"notification"`
	Options      notifier.Options      `json:"options"`
}

func (h handler) send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.Service.Send(r.Context(), req.UserID, req.Notification, req.Priority, req.Options)
	switch {
	case errors.Is(err, notifier.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, notifier.ErrRateLimited):
		if !res.RetryAt.IsZero() {
			w.Header().Set("Retry-After", retryAfter(res.RetryAt))
		}
		writeError(w, http.StatusTooManyRequests, err)
	case errors.Is(err, notifier.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		h.Logger.LogAttrs(r.Context(), slog.LevelError, "send failed",
			logger.Component("api"),
			logger.UserID(req.UserID),
			logger.Error(err),
		)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	case res.Status == notifier.StatusQueued:
		writeJSON(w, http.StatusAccepted, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h handler) health(w http.ResponseWriter, r *http.Request) {
	report := h.Service.GetSystemHealth(r.Context())
	code := http.StatusOK
	if report.Status == notifier.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (h handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := h.Preferences.GetPreferences(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h handler) putPreferences(w http.ResponseWriter, r *http.Request) {
	var p preferences.Preferences
	if err := decode(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p.UserID = chi.URLParam(r, "userID")
	if err := h.Preferences.SetPreferences(r.Context(), p); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, preferences.ErrInvalidPreferences) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h handler) websocket(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing "+UserHeader))
		return
	}
	// The upgrader has already replied when ServeWS fails.
	if err := h.Hub.ServeWS(w, r, userID); err != nil {
		h.Logger.LogAttrs(r.Context(), slog.LevelWarn, "websocket upgrade failed",
			logger.Component("api"),
			logger.UserID(userID),
			logger.Error(err),
		)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func retryAfter(at time.Time) string {
	secs := int(time.Until(at).Round(time.Second) / time.Second)
	return strconv.Itoa(max(secs, 1))
}
