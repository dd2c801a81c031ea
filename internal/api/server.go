package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/browser"
	"github.com/JakeFAU/screenshot-service/internal/config"
	"github.com/JakeFAU/screenshot-service/internal/metrics"
	"github.com/JakeFAU/screenshot-service/internal/policy/ratelimit"
	"github.com/JakeFAU/screenshot-service/internal/queue/memory"
	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

const maxBodyBytes = 1 << 20

// maxPriority caps the queue priority an authenticated caller may request.
const maxPriority = 10

// Dispatcher admits capture requests and reports queue state.
type Dispatcher interface {
	Capture(ctx context.Context, req screenshot.Request, priority int) (screenshot.Record, error)
	Stats() memory.Stats
}

// PoolStats reports browser pool occupancy.
type PoolStats interface {
	Stats() browser.Stats
}

// Performance summarizes recent captures.
type Performance interface {
	Stats(window time.Duration) metrics.Summary
}

// Deps are the collaborators the HTTP layer calls. Pool, Monitor and
// Limiter are optional.
type Deps struct {
	Dispatcher Dispatcher
	Records    screenshot.RecordStore
	Pool       PoolStats
	Monitor    Performance
	Limiter    ratelimit.Limiter
	Logger     *zap.Logger
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router       chi.Router
	deps         Deps
	cfg          config.Config
	staticPrefix string
	logger       *zap.Logger
	shuttingDown atomic.Bool
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := "/" + strings.Trim(cfg.Server.StaticPrefix, "/")
	if prefix == "/" {
		prefix = "/screenshots"
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	s := &Server{deps: deps, cfg: cfg, staticPrefix: prefix, logger: logger}

	trusted, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		logger.Warn("ignoring trusted proxies", zap.Error(err))
		trusted = nil
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(clientIPMiddleware(trusted))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	if cfg.Capture.OutputDir != "" {
		files := http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.Capture.OutputDir)))
		r.Get(prefix+"/*", files.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/stats", s.stats)
		r.Get("/screenshots", s.listScreenshots)
		r.Get("/screenshots/{id}", s.getScreenshot)
		r.Group(func(r chi.Router) {
			if deps.Limiter != nil {
				r.Use(rateLimitMiddleware(deps.Limiter, logger))
			}
			r.Post("/screenshot", s.createScreenshot)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// BeginShutdown makes readyz report not ready so load balancers drain the
// instance.
func (s *Server) BeginShutdown() {
	s.shuttingDown.Store(true)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.shuttingDown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type captureRequest struct {
	URL           string `json:"url"`
	Resolution    string `json:"resolution"`
	UserAgent     string `json:"userAgent"`
	EnableAdblock bool   `json:"enableAdblock"`
	FullPage      *bool  `json:"fullPage"`
	WaitUntil     string `json:"waitUntil"`
	Priority      int    `json:"priority"`
}

type screenshotItem struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

type screenshotDetail struct {
	screenshotItem
	SourceURL  string `json:"sourceUrl"`
	Resolution string `json:"resolution"`
	UserAgent  string `json:"userAgent,omitempty"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Bytes      int    `json:"bytes"`
	Hash       string `json:"hash,omitempty"`
	BlobURI    string `json:"blobUri,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

func (s *Server) item(record screenshot.Record) screenshotItem {
	return screenshotItem{
		ID:        record.ID,
		URL:       fmt.Sprintf("%s/%s.png", s.staticPrefix, record.ID),
		CreatedAt: record.CreatedAt,
	}
}

func (s *Server) createScreenshot(w http.ResponseWriter, r *http.Request) {
	var body captureRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid JSON body", nil)
		return
	}
	req := screenshot.Request{
		URL:           strings.TrimSpace(body.URL),
		Resolution:    screenshot.Resolution(body.Resolution),
		UserAgent:     screenshot.UserAgent(body.UserAgent),
		EnableAdblock: body.EnableAdblock,
		FullPage:      body.FullPage,
		WaitUntil:     screenshot.WaitCondition(body.WaitUntil),
	}
	s.logger.Info("screenshot request received",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("url", req.URL),
		zap.String("resolution", body.Resolution),
		zap.String("user_agent", body.UserAgent),
		zap.Bool("enable_adblock", body.EnableAdblock),
		zap.String("ip", clientIP(r)),
	)

	record, err := s.deps.Dispatcher.Capture(r.Context(), req, s.priority(body.Priority))
	if err != nil {
		s.logger.Warn("screenshot request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		writeKindError(w, r, err)
		return
	}
	writeSuccess(w, s.item(record))
}

// priority honours a requested priority only when the API key guards the
// route, clamped to [0, maxPriority]. Open deployments queue everyone at 0.
func (s *Server) priority(requested int) int {
	if !s.cfg.Auth.Enabled {
		return 0
	}
	return min(max(requested, 0), maxPriority)
}

func (s *Server) listScreenshots(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, CodeValidation, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}
	items := []screenshotItem{}
	if s.deps.Records != nil {
		records, err := s.deps.Records.List(r.Context(), limit)
		if err != nil {
			s.logger.Error("list screenshots failed", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to list screenshots", nil)
			return
		}
		for _, rec := range records {
			items = append(items, s.item(rec))
		}
	}
	writeSuccess(w, items)
}

func (s *Server) getScreenshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Records == nil {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "screenshot not found", nil)
		return
	}
	record, err := s.deps.Records.Get(r.Context(), id)
	if err != nil {
		status, code := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, r, status, code, "screenshot not found", nil)
			return
		}
		s.logger.Error("get screenshot failed", zap.String("screenshot_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to load screenshot", nil)
		return
	}
	writeSuccess(w, screenshotDetail{
		screenshotItem: s.item(record),
		SourceURL:      record.URL,
		Resolution:     string(record.Resolution),
		UserAgent:      string(record.UserAgent),
		Width:          record.Width,
		Height:         record.Height,
		Bytes:          record.Bytes,
		Hash:           record.Hash,
		BlobURI:        record.BlobURI,
		DurationMs:     record.DurationMs,
	})
}

type statsResponse struct {
	Pool        *browser.Stats   `json:"pool,omitempty"`
	Queue       memory.Stats     `json:"queue"`
	Performance *metrics.Summary `json:"performance,omitempty"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	window := metrics.DefaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, r, http.StatusBadRequest, CodeValidation, "window must be a positive duration", nil)
			return
		}
		window = d
	}
	resp := statsResponse{Queue: s.deps.Dispatcher.Stats()}
	if s.deps.Pool != nil {
		ps := s.deps.Pool.Stats()
		resp.Pool = &ps
	}
	if s.deps.Monitor != nil {
		summary := s.deps.Monitor.Stats(window)
		resp.Performance = &summary
	}
	writeSuccess(w, resp)
}
