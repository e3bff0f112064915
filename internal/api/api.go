// Package api implements the Aegis Decision API: a loopback-only HTTP
// surface the browser extension and dashboard UI use to ask for verdicts,
// read audit history, and manage protection state and rules. The State
// Store is the API's only source of truth.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aegis/internal/classify"
	"aegis/internal/interceptor"
	"aegis/internal/metrics"
	"aegis/internal/profile"
	"aegis/internal/rules"
	"aegis/internal/store"
)

var registerMetricsOnce sync.Once

// Config holds the Decision API's tunable knobs, per spec.md §6.
type Config struct {
	// ListenAddr is the loopback address:port to serve on (default
	// "127.0.0.1:8765").
	ListenAddr string
	// ExtensionOrigin is the single non-null CORS origin allowed to call
	// the API (the packed extension's chrome-extension://<id> origin).
	ExtensionOrigin string
	// RequestTimeout bounds how long any single handler may run, per
	// spec.md §5's "Decision-API requests time out at 5s" rule.
	RequestTimeout time.Duration
	// StatsWindow is the default lookback window for /api/stats when the
	// caller doesn't supply one.
	StatsWindow time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8765",
		ExtensionOrigin: "null",
		RequestTimeout:  5 * time.Second,
		StatsWindow:     24 * time.Hour,
	}
}

// Handler serves the Decision API.
type Handler struct {
	cfg        Config
	db         *store.Store
	classifier *classify.Pipeline
	profiles   *profile.Manager
	limiter    *loginRateLimiter
	validate   *validator.Validate
	script     *interceptor.Handler
	router     chi.Router
}

// New wires the Decision API's collaborators and builds its router.
func New(cfg Config, db *store.Store, classifier *classify.Pipeline, profiles *profile.Manager, limiter *loginRateLimiter) (*Handler, error) {
	script, err := interceptor.New()
	if err != nil {
		return nil, err
	}

	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(metrics.All()...)
	})

	h := &Handler{
		cfg:        cfg,
		db:         db,
		classifier: classifier,
		profiles:   profiles,
		limiter:    limiter,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		script:     script,
	}
	h.router = h.buildRouter()
	return h, nil
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(h.cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.ExtensionOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Aegis-Session"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/api/check", h.handleCheck)
	r.Get("/api/stats", h.handleStats)
	r.Get("/api/logs", h.handleLogs)
	r.Get("/api/rules", h.handleGetRules)
	r.With(h.requireSession).Put("/api/rules", h.handlePutRules)
	r.Post("/api/auth/login", h.handleLogin)
	r.With(h.requireSession).Post("/api/auth/logout", h.handleLogout)
	r.Get("/api/protection/status", h.handleProtectionStatus)
	r.Post("/api/protection/pause", h.handleProtectionPause)
	r.Post("/api/protection/resume", h.handleProtectionResume)
	r.With(h.requireSession).Post("/api/protection/disable", h.handleProtectionDisable)
	r.With(h.requireSession).Get("/api/flagged", h.handleListFlagged)
	r.With(h.requireSession).Post("/api/flagged/{id}/acknowledge", h.handleAcknowledgeFlagged)
	r.Get("/api/interceptor.js", h.script.ServeHTTP)
	r.Handle("/api/metrics", promhttp.Handler())

	return r
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// categoryJSON mirrors spec.md §6's stable /api/check category shape.
type categoryJSON struct {
	Category   classify.Category `json:"category"`
	Confidence float64           `json:"confidence"`
	Tier       classify.Tier     `json:"tier"`
}

func verdictToCategoriesJSON(c classify.Classification) []categoryJSON {
	out := make([]categoryJSON, 0, len(c.Categories))
	for _, m := range c.Categories {
		out = append(out, categoryJSON{Category: m.Category, Confidence: m.Confidence, Tier: m.Tier})
	}
	return out
}

// checkResponse is the stable wire format for POST /api/check, per
// spec.md §6.
type checkResponse struct {
	Action     rules.Action   `json:"action"`
	Reason     string         `json:"reason"`
	Categories []categoryJSON `json:"categories"`
	LatencyMS  int64          `json:"latency_ms"`
}
