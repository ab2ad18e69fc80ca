// Package server exposes the telephony-facing HTTP surface: the inbound-call
// webhook, the media-stream WebSocket endpoint, and health.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/callscreen/internal/domain"
	"github.com/tjfontaine/callscreen/internal/session"
)

// Config holds the server's own knobs.
type Config struct {
	Port int

	// StreamURL is the public wss:// URL Twilio connects its media stream to.
	StreamURL string

	// SetupTimeout bounds the wait for the media stream's start event.
	SetupTimeout time.Duration
}

// Deps are the collaborators the handlers drive.
type Deps struct {
	Registry *session.Registry
	Profiles domain.ProfileStore

	// NewSession builds an unstarted session for an admitted call.
	NewSession func(callID, callerNumber string, profile domain.UserProfile) *session.Session

	// DialModel connects the speech model with per-call instructions.
	DialModel func(ctx context.Context, instructions string) (session.ModelConn, error)

	Logger *slog.Logger
}

type Server struct {
	Router *chi.Mux
	Port   int

	cfg    Config
	deps   Deps
	logger *slog.Logger

	httpServer *http.Server
}

func New(cfg Config, deps Deps) *Server {
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = 15 * time.Second
	}

	s := &Server{
		Port:   cfg.Port,
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
	}

	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(30 * time.Second))
		r.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "callscreen")
		})
		r.Post("/calls/inbound", s.handleInboundCall)
		r.Get("/healthz", s.handleHealth)
	})

	// The media stream lives as long as the call; no request timeout, and
	// no otel wrapper in the hijack path.
	r.Get("/calls/audio-stream", s.handleAudioStream)

	s.Router = r
	return s
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
