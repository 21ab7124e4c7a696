package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dgnsrekt/ledger-monitor/internal/monitor"
	"github.com/dgnsrekt/ledger-monitor/internal/syncer"
	"github.com/dgnsrekt/ledger-monitor/internal/ws"
)

// Server is the REST control surface over the monitor.
type Server struct {
	monitor *monitor.Monitor
	tracker *syncer.Tracker
	hub     *ws.Hub
	logger  *zap.Logger
}

func New(m *monitor.Monitor, tracker *syncer.Tracker, hub *ws.Hub, logger *zap.Logger) *Server {
	return &Server{
		monitor: m,
		tracker: tracker,
		hub:     hub,
		logger:  logger,
	}
}

func NewRouter(s *Server, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.hub.HandleWS)

	r.Route("/monitor", func(r chi.Router) {
		r.Post("/start", s.handleStartMonitoring)
		r.Post("/stop", s.handleStopMonitoring)
		r.Get("/status", s.handleStatus)
	})

	r.Route("/sync", func(r chi.Router) {
		r.Post("/", s.handleEnqueueSync)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleCancelJob)
	})

	r.Get("/activity", s.handleActivity)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}
