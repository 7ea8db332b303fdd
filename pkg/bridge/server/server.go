// Package server assembles the bridge HTTP surface: the health endpoints
// and the per-call media-stream websocket.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shanewala/voice-agent-websocket/pkg/bridge/config"
	"github.com/shanewala/voice-agent-websocket/pkg/bridge/handlers"
	"github.com/shanewala/voice-agent-websocket/pkg/bridge/lifecycle"
	"github.com/shanewala/voice-agent-websocket/pkg/bridge/mw"
	"github.com/shanewala/voice-agent-websocket/pkg/bridge/sessions"
	"github.com/shanewala/voice-agent-websocket/pkg/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	lifecycle *lifecycle.Lifecycle
	tracker   *sessions.Tracker
	profiles  store.ProfileStore
	recorder  store.CallRecorder
}

func New(cfg config.Config, logger *slog.Logger, profiles store.ProfileStore, recorder store.CallRecorder) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		lifecycle: &lifecycle.Lifecycle{},
		tracker:   sessions.NewTracker(),
		profiles:  profiles,
		recorder:  recorder,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/", handlers.RootHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Sessions:  s.tracker,
	})

	s.mux.Handle("/media-stream", handlers.StreamHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
		Sessions:  s.tracker,
		Profiles:  s.profiles,
		Recorder:  s.recorder,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness so the load balancer stops routing new
// calls here; established calls keep running.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WaitCallSessions blocks until live calls drain or the context ends.
func (s *Server) WaitCallSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CloseCallSessions force-closes any calls still live.
func (s *Server) CloseCallSessions() int {
	return s.tracker.CloseAll()
}
