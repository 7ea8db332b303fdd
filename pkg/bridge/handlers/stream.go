package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shanewala/voice-agent-websocket/pkg/bridge/call/session"
	"github.com/shanewala/voice-agent-websocket/pkg/bridge/config"
	"github.com/shanewala/voice-agent-websocket/pkg/bridge/lifecycle"
	"github.com/shanewala/voice-agent-websocket/pkg/bridge/mw"
	"github.com/shanewala/voice-agent-websocket/pkg/bridge/sessions"
	"github.com/shanewala/voice-agent-websocket/pkg/core/providers/gemini"
	"github.com/shanewala/voice-agent-websocket/pkg/core/providers/openai"
	"github.com/shanewala/voice-agent-websocket/pkg/core/voice/stt"
	"github.com/shanewala/voice-agent-websocket/pkg/core/voice/tts"
	"github.com/shanewala/voice-agent-websocket/pkg/store"
)

const setupTimeout = 10 * time.Second

// ResponderFactory builds the reply generator for a call, keyed by the
// profile's model string.
type ResponderFactory func(cfg config.Config, model string, creds map[string]string) (session.Responder, error)

// StreamHandler serves the /media-stream websocket endpoint that telephony
// connects each call to.
type StreamHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Profiles  store.ProfileStore
	Recorder  store.CallRecorder

	// Overridable in tests.
	NewResponder ResponderFactory
}

type setupError struct {
	code    string
	message string
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
		return
	}

	agentID := strings.TrimSpace(r.URL.Query().Get("agent_id"))
	callSID := strings.TrimSpace(r.URL.Query().Get("call_sid"))

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.WSHandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sessionID := uuid.NewString()
	logger = logger.With("request_id", reqID, "session_id", sessionID, "agent_id", agentID)

	// Profile and credential resolution happens after the upgrade so the
	// caller gets a clean close frame instead of a failed handshake, and
	// before any provider link is opened.
	sessCfg, setupErr := h.resolveCall(r.Context(), agentID)
	if setupErr != nil {
		logger.Warn("call setup rejected", "code", setupErr.code, "reason", setupErr.message)
		closeWithSetupError(conn, setupErr)
		return
	}

	responderFactory := h.NewResponder
	if responderFactory == nil {
		responderFactory = defaultResponderFactory
	}
	responder, err := responderFactory(h.Config, sessCfg.model, sessCfg.creds)
	if err != nil {
		logger.Warn("call setup rejected", "code", "unsupported_model", "reason", err.Error())
		closeWithSetupError(conn, &setupError{code: "unsupported_model", message: err.Error()})
		return
	}

	sess, err := session.New(session.Dependencies{
		Conn:        conn,
		Logger:      logger,
		Transcriber: session.TranscriberAdapter{Provider: stt.NewDeepgram()},
		Synthesizer: session.SynthesizerAdapter{Provider: tts.NewElevenLabs()},
		Responder:   responder,
		Recorder:    h.Recorder,
		SessionID:   sessionID,
		RequestID:   reqID,
		AgentID:     agentID,
		CallSID:     callSID,
		Config:      sessCfg.session,
	})
	if err != nil {
		logger.Error("session init failed", "error", err)
		closeWithSetupError(conn, &setupError{code: "internal", message: "failed to initialize session"})
		return
	}

	unregister := h.Sessions.Register(sessionID, sessions.Handle{Close: sess.Close})
	defer unregister()

	if h.Config.MaxCallDuration > 0 {
		timer := time.AfterFunc(h.Config.MaxCallDuration, sess.Close)
		defer timer.Stop()
	}

	logger.Info("call session started", "call_sid", callSID)
	if err := sess.Run(); err != nil {
		logger.Warn("call session ended", "error", err)
		return
	}
	logger.Info("call session ended")
}

type resolvedCall struct {
	session session.Config
	model   string
	creds   map[string]string
}

// resolveCall loads the agent profile and the owning tenant's provider
// keys. Credentials are threaded into the session config and never stored.
func (h StreamHandler) resolveCall(ctx context.Context, agentID string) (resolvedCall, *setupError) {
	if agentID == "" {
		return resolvedCall{}, &setupError{code: "bad_request", message: "agent_id query parameter is required"}
	}
	if h.Profiles == nil {
		return resolvedCall{}, &setupError{code: "internal", message: "profile store unavailable"}
	}

	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	profile, err := h.Profiles.AgentProfile(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return resolvedCall{}, &setupError{code: "unknown_agent", message: "agent not found"}
		}
		return resolvedCall{}, &setupError{code: "internal", message: "failed to load agent"}
	}

	creds, err := h.Profiles.ServiceCredentials(ctx, profile.OwnerID,
		store.ServiceDeepgram, store.ServiceElevenLabs, store.ServiceOpenAI, "gemini")
	if err != nil {
		return resolvedCall{}, &setupError{code: "internal", message: "failed to load credentials"}
	}
	if creds[store.ServiceDeepgram] == "" {
		return resolvedCall{}, &setupError{code: "missing_credentials", message: "deepgram api key not configured"}
	}
	if creds[store.ServiceElevenLabs] == "" {
		return resolvedCall{}, &setupError{code: "missing_credentials", message: "elevenlabs api key not configured"}
	}

	model := strings.TrimSpace(profile.Model)
	if model == "" {
		model = h.Config.DefaultModel
	}

	return resolvedCall{
		session: session.Config{
			SystemPrompt:        profile.SystemPrompt,
			Greeting:            profile.Greeting,
			VoiceID:             profile.VoiceID,
			DeepgramAPIKey:      creds[store.ServiceDeepgram],
			ElevenLabsAPIKey:    creds[store.ServiceElevenLabs],
			DeepgramWSBaseURL:   h.Config.DeepgramWSBaseURL,
			ElevenLabsWSBaseURL: h.Config.ElevenLabsWSBaseURL,
			WriteTimeout:        h.Config.WSWriteTimeout,
			TeardownTimeout:     h.Config.TeardownTimeout,
		},
		model: model,
		creds: creds,
	}, nil
}

func defaultResponderFactory(cfg config.Config, model string, creds map[string]string) (session.Responder, error) {
	if strings.HasPrefix(model, "gemini/") {
		key := creds["gemini"]
		if key == "" {
			return nil, &missingKeyError{provider: "gemini"}
		}
		opts := []gemini.Option{gemini.WithModel(model)}
		if cfg.GeminiBaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.GeminiBaseURL))
		}
		return gemini.New(key, opts...), nil
	}

	key := creds[store.ServiceOpenAI]
	if key == "" {
		return nil, &missingKeyError{provider: "openai"}
	}
	opts := []openai.Option{openai.WithModel(model)}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	return openai.New(key, opts...), nil
}

type missingKeyError struct {
	provider string
}

func (e *missingKeyError) Error() string {
	return e.provider + " api key not configured"
}

// closeWithSetupError sends a terminal error frame then a close frame so
// the telephony side sees why the stream never started.
func closeWithSetupError(conn *websocket.Conn, se *setupError) {
	frame, err := json.Marshal(map[string]any{
		"event": "error",
		"error": map[string]string{"code": se.code, "message": se.message},
	})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, se.code),
		time.Now().Add(2*time.Second))
	_ = conn.Close()
}
