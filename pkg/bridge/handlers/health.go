// Package handlers holds the HTTP endpoints of the bridge server.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shanewala/voice-agent-websocket/pkg/bridge/config"
	"github.com/shanewala/voice-agent-websocket/pkg/bridge/lifecycle"
	"github.com/shanewala/voice-agent-websocket/pkg/bridge/sessions"
)

// RootBanner is served at / so an operator hitting the base URL in a
// browser sees the server is up.
const RootBanner = "Voice Agent WebSocket Server Running"

type RootHandler struct{}

func (h RootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(RootBanner + "\n"))
}

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		LiveSessions int      `json:"live_sessions"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	if h.Config.DatabaseURL == "" {
		issues = append(issues, "database url not configured")
	}
	if h.Config.DefaultModel == "" {
		issues = append(issues, "default model not configured")
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:           ok,
		Draining:     draining,
		LiveSessions: h.Sessions.Count(),
		Issues:       issues,
	})
}
