// Package api provides the admin HTTP API of the bridge: pair management,
// dead letter inspection and replay, and health.
//
// Routes live under /api. When a token is configured every route except
// /healthz requires "Authorization: Bearer <token>".
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/dlq"
	"github.com/xraph/bridge/pair"
)

// Handler is the root HTTP handler for the admin API.
type Handler struct {
	bridge *bridge.Bridge
	token  string
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a new admin API handler. An empty token disables auth.
func NewHandler(b *bridge.Bridge, token string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		bridge: b,
		token:  token,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Pairs
	h.mux.HandleFunc("GET /api/bridge-pairs", h.listPairs)
	h.mux.HandleFunc("POST /api/bridge-pairs", h.createPair)
	h.mux.HandleFunc("GET /api/bridge-pairs/{id}", h.getPair)
	h.mux.HandleFunc("PUT /api/bridge-pairs/{id}", h.updatePair)
	h.mux.HandleFunc("DELETE /api/bridge-pairs/{id}", h.deletePair)

	// DLQ
	h.mux.HandleFunc("GET /api/dlq", h.listDLQ)
	h.mux.HandleFunc("DELETE /api/dlq", h.purgeDLQ)
	h.mux.HandleFunc("GET /api/dlq/{id}", h.getDLQ)
	h.mux.HandleFunc("POST /api/dlq/{id}/replay", h.replayDLQ)
	h.mux.HandleFunc("POST /api/dlq/replay", h.replayBulkDLQ)

	// Health
	h.mux.HandleFunc("GET /api/heartbeat", h.getHeartbeat)
	h.mux.HandleFunc("GET /api/stats", h.getStats)
	h.mux.HandleFunc("GET /healthz", h.healthz)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(h.auth(next)))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.InfoContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) auth(next http.Handler) http.Handler {
	if h.token == "" {
		return next
	}
	expected := []byte("Bearer " + h.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), expected) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps pair and DLQ errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *pair.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, pair.ErrNotFound), errors.Is(err, dlq.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dlq.ErrAlreadyReplayed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a non-negative query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

// queryTime parses an RFC3339 query parameter. A missing parameter yields nil.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
