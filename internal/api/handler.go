package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/gyaneshwarpardhi/policytrace/internal/lifecycle"
	"github.com/gyaneshwarpardhi/policytrace/internal/logging"
	"github.com/gyaneshwarpardhi/policytrace/internal/telemetry"
)

// Buffer is the slice of telemetry.Buffer the bridge drives.
type Buffer interface {
	Enqueue(name string, payload map[string]any)
	EnqueueDebounced(name string, payload map[string]any)
	Flush(ctx context.Context) telemetry.Outcome
	TeardownFlush() telemetry.Outcome
	Len() int
	PendingDebounced() int
	QueuedFlushes() int
}

// Navigator receives page changes reported by the browser.
type Navigator interface {
	Navigate(page string)
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	buf    Buffer
	nav    Navigator
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes. allowedOrigins lists
// the dashboard origins permitted to call the bridge from a browser.
func New(buf Buffer, nav Navigator, logger *slog.Logger, allowedOrigins []string) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	h := &Handler{buf: buf, nav: nav, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/interactions", h.interaction)
	h.mux.HandleFunc("POST /v1/pages", h.page)
	h.mux.HandleFunc("POST /v1/flush", h.flush)
	h.mux.HandleFunc("POST /v1/lifecycle/{phase}", h.lifecycle)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	var root http.Handler = h.mux
	// cors treats an empty origin list as "*".
	if len(allowedOrigins) > 0 {
		root = cors.New(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(root)
	}
	return loggingMiddleware(logger, root)
}

type interactionRequest struct {
	Event    string         `json:"event"`
	Payload  map[string]any `json:"payload"`
	Debounce bool           `json:"debounce"`
}

// POST /v1/interactions: record one dashboard interaction.
func (h *Handler) interaction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	if req.Debounce {
		h.buf.EnqueueDebounced(req.Event, req.Payload)
	} else {
		h.buf.Enqueue(req.Event, req.Payload)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":  true,
		"debounced": req.Debounce,
	})
}

// POST /v1/pages: the browser moved to another page.
func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page string `json:"page"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.nav.Navigate(req.Page)
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/flush: ship what is buffered now.
func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	outcome := h.buf.Flush(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// POST /v1/lifecycle/{phase}: page hidden or unloading.
func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request) {
	phase, ok := lifecycle.ParsePhase(r.PathValue("phase"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown lifecycle phase %q", r.PathValue("phase")))
		return
	}
	outcome := h.buf.TeardownFlush()
	h.logger.Debug("lifecycle signal", slog.String("phase", string(phase)), logging.Outcome(string(outcome)))
	writeJSON(w, http.StatusOK, map[string]string{
		"phase":   string(phase),
		"outcome": string(outcome),
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: buffered, pending-debounce and queued-flush counts.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"buffered":          h.buf.Len(),
		"pending_debounced": h.buf.PendingDebounced(),
		"queued_flushes":    h.buf.QueuedFlushes(),
	})
}
