// Package server wires the gateway's routes and middleware into a single
// http.Handler.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/omnibot-ai/voicegate/pkg/gateway/config"
	"github.com/omnibot-ai/voicegate/pkg/gateway/handlers"
	"github.com/omnibot-ai/voicegate/pkg/gateway/lifecycle"
	"github.com/omnibot-ai/voicegate/pkg/gateway/live/sessions"
	"github.com/omnibot-ai/voicegate/pkg/gateway/metrics"
	"github.com/omnibot-ai/voicegate/pkg/gateway/mw"
	"github.com/omnibot-ai/voicegate/pkg/gateway/upstream"
	"github.com/omnibot-ai/voicegate/pkg/usage"
)

// Deps carries the injected collaborators.
type Deps struct {
	Connector upstream.Connector
	Generator upstream.Generator
	Usage     *usage.Service
	Metrics   *metrics.Metrics
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Deps

	lifecycle    *lifecycle.State
	liveSessions *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		deps:         deps,
		lifecycle:    &lifecycle.State{},
		liveSessions: sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("/metrics", metrics.Handler())

	s.mux.Handle("/api/gemini", handlers.GenerateHandler{
		Config:    s.cfg,
		Generator: s.deps.Generator,
		Logger:    s.logger,
		Metrics:   s.deps.Metrics,
		Usage:     s.deps.Usage,
	})
	s.mux.Handle("/api/usage", handlers.UsageHandler{Usage: s.deps.Usage})

	s.mux.Handle("/ws/live", handlers.LiveHandler{
		Config:       s.cfg,
		Connector:    s.deps.Connector,
		Logger:       s.logger,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
		Metrics:      s.deps.Metrics,
		Usage:        s.deps.Usage,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness so load balancers stop routing new work here.
func (s *Server) SetDraining() {
	s.lifecycle.StartDraining()
}

// WarnLiveSessionsDraining pushes a best-effort shutdown notice to every
// live session.
func (s *Server) WarnLiveSessionsDraining() {
	s.liveSessions.WarnAll("gateway is draining")
}

// WaitLiveSessions blocks until live sessions finish or ctx expires.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

// CancelLiveSessions force-closes any sessions still running.
func (s *Server) CancelLiveSessions() {
	s.liveSessions.CancelAll()
}
