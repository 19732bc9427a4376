// SPDX-License-Identifier: MIT

// Package api is the HTTP surface: upload admission, job status and
// download, health, and the websocket progress endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/audiolevel/audiolevel/internal/admission"
	"github.com/audiolevel/audiolevel/internal/log"
	"github.com/audiolevel/audiolevel/internal/progress"
	"github.com/audiolevel/audiolevel/internal/queue"
)

// Server holds the handler dependencies and builds the router.
type Server struct {
	queue       *queue.Queue
	controller  *admission.Controller
	limiter     *admission.Limiter
	hub         *progress.Hub
	maxFileSize int64
	corsOrigins []string

	baseCtx context.Context
	done    <-chan struct{}
	logger  zerolog.Logger
}

// NewServer wires the HTTP layer. baseCtx scopes background watchers and
// closes with the process.
func NewServer(baseCtx context.Context, q *queue.Queue, ctrl *admission.Controller, lim *admission.Limiter, hub *progress.Hub, maxFileSize int64, corsOrigins []string) *Server {
	return &Server{
		queue:       q,
		controller:  ctrl,
		limiter:     lim,
		hub:         hub,
		maxFileSize: maxFileSize,
		corsOrigins: corsOrigins,
		baseCtx:     baseCtx,
		done:        baseCtx.Done(),
		logger:      log.WithComponent("api"),
	}
}

// Router assembles the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Retry-After", "Content-Disposition"},
		MaxAge:           300,
		AllowCredentials: false,
	}))
	// Coarse per-client flood guard; the upload budget is enforced
	// separately with its own window.
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/health/queue", s.handleQueueHealth)

	r.Route("/upload", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Get("/rate-limit", s.handleRateLimit)
		r.Get("/queue-status", s.handleQueueStatus)
		r.Get("/job/{id}", s.handleJobStatus)
		r.Get("/job/{id}/download", s.handleDownload)
	})

	r.Get("/ws", s.hub.ServeWS)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
