package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/config"
	httphandler "github.com/windfall/francoflex_service/internal/handler/http"
	wshandler "github.com/windfall/francoflex_service/internal/handler/ws"
	"github.com/windfall/francoflex_service/internal/middleware"
)

// HTTPServer represents the HTTP server.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// NewHTTPServer creates a new HTTP server.
func NewHTTPServer(
	cfg *config.Config,
	log zerolog.Logger,
	healthHandler *httphandler.HealthHandler,
	pronunciationHandler *httphandler.PronunciationHandler,
	analysisHandler *httphandler.AnalysisHandler,
	audioHandler *httphandler.AudioHandler,
	verifier middleware.TokenVerifier,
	hub *WebSocketHub,
	wsHandler *wshandler.Handler,
) *HTTPServer {
	r := NewRouter(cfg, log, healthHandler, pronunciationHandler, analysisHandler, audioHandler, verifier, hub, wsHandler)

	server := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &HTTPServer{
		server: server,
		log:    log,
	}
}

// NewRouter builds the route table.
func NewRouter(
	cfg *config.Config,
	log zerolog.Logger,
	healthHandler *httphandler.HealthHandler,
	pronunciationHandler *httphandler.PronunciationHandler,
	analysisHandler *httphandler.AnalysisHandler,
	audioHandler *httphandler.AudioHandler,
	verifier middleware.TokenVerifier,
	hub *WebSocketHub,
	wsHandler *wshandler.Handler,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (public)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)

	// Websocket; the token may come as ?access_token= since browsers
	// cannot set headers on the upgrade request.
	r.With(middleware.Auth(verifier)).Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, wsHandler)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(verifier))

		r.Route("/pronunciation", func(r chi.Router) {
			r.Post("/analyze", pronunciationHandler.Analyze)
			r.Post("/analyze/upload", pronunciationHandler.AnalyzeUpload)

			r.Post("/jobs", pronunciationHandler.SubmitJob)
			r.Get("/jobs/{jobID}", pronunciationHandler.GetJob)

			r.Post("/analyses", analysisHandler.Save)
			r.Get("/analyses", analysisHandler.List)
		})

		r.Post("/audio/upload", audioHandler.Upload)
	})

	return r
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
