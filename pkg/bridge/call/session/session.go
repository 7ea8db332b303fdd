// Package session orchestrates one phone call: caller audio flows from the
// telephony websocket into the transcription stream, finalized utterances
// drive reply generation, and synthesized speech flows back out as media
// frames. A single run loop owns all turn state; provider goroutines hand
// their results back through channels.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shanewala/voice-agent-websocket/pkg/bridge/call/protocol"
	"github.com/shanewala/voice-agent-websocket/pkg/core/types"
	"github.com/shanewala/voice-agent-websocket/pkg/core/voice/stt"
	"github.com/shanewala/voice-agent-websocket/pkg/core/voice/tts"
)

const (
	defaultWriteTimeout    = 10 * time.Second
	defaultTeardownTimeout = 5 * time.Second
)

var errSessionClosed = errors.New("call session closed")

// Config carries per-call settings resolved from the agent profile plus
// the tenant's provider credentials. Credentials live only as long as the
// session itself.
type Config struct {
	SystemPrompt string
	Greeting     string
	VoiceID      string

	DeepgramAPIKey   string
	ElevenLabsAPIKey string

	DeepgramWSBaseURL   string
	ElevenLabsWSBaseURL string

	WriteTimeout    time.Duration
	TeardownTimeout time.Duration
}

// Dependencies wires the session's collaborators.
type Dependencies struct {
	Conn        *websocket.Conn
	Logger      *slog.Logger
	Transcriber Transcriber
	Synthesizer Synthesizer
	Responder   Responder
	Recorder    CallRecorder

	SessionID string
	RequestID string
	AgentID   string
	CallSID   string

	Config Config
}

// Session bridges one telephony call to the voice providers.
type Session struct {
	conn        *websocket.Conn
	logger      *slog.Logger
	transcriber Transcriber
	synth       Synthesizer
	responder   Responder
	recorder    CallRecorder

	sessionID string
	requestID string
	agentID   string
	callSID   string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	writeMu  sync.Mutex
	torn     atomic.Bool
	downOnce sync.Once

	// stateMu guards sttStream and callSID, which Run writes and teardown
	// reads from other goroutines.
	stateMu   sync.Mutex
	sttStream TranscriptStream
	script    *transcript
}

type inboundFrame struct {
	data []byte
	err  error
}

type genResult struct {
	reply string
	err   error
}

// New validates the dependencies and builds a session.
func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if deps.Responder == nil {
		return nil, fmt.Errorf("responder is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = defaultWriteTimeout
	}
	if deps.Config.TeardownTimeout <= 0 {
		deps.Config.TeardownTimeout = defaultTeardownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:        deps.Conn,
		logger:      deps.Logger.With("session_id", deps.SessionID, "call_sid", deps.CallSID),
		transcriber: deps.Transcriber,
		synth:       deps.Synthesizer,
		responder:   deps.Responder,
		recorder:    deps.Recorder,
		sessionID:   deps.SessionID,
		requestID:   deps.RequestID,
		agentID:     deps.AgentID,
		callSID:     deps.CallSID,
		cfg:         deps.Config,
		script:      newTranscript(deps.Config.SystemPrompt),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Run drives the call until the caller hangs up, a provider stream dies,
// or the context is torn down. It always leaves the session fully closed.
func (s *Session) Run() error {
	defer s.teardown()

	sttStream, err := s.transcriber.OpenStream(s.ctx, stt.StreamConfig{
		APIKey:         s.cfg.DeepgramAPIKey,
		InterimResults: true,
		BaseWSURL:      s.cfg.DeepgramWSBaseURL,
		Logger:         s.logger,
	})
	if err != nil {
		return fmt.Errorf("open transcription stream: %w", err)
	}
	s.stateMu.Lock()
	s.sttStream = sttStream
	s.stateMu.Unlock()

	inbound := make(chan inboundFrame, 32)
	go s.readLoop(inbound)

	// The transcription link may die mid-call; the source goes nil then so
	// the select stops polling it while the call itself keeps running.
	sttEvents := sttStream.Events()

	genCh := make(chan genResult, 1)
	speakEnd := make(chan struct{}, 1)

	var streamSID string
	isSpeaking := false

	for {
		select {
		case frame, ok := <-inbound:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				if s.torn.Load() {
					return nil
				}
				return fmt.Errorf("read call stream: %w", frame.err)
			}

			msg, err := protocol.DecodeInboundMessage(frame.data)
			if err != nil {
				s.logger.Warn("inbound frame ignored", "error", err)
				continue
			}
			switch m := msg.(type) {
			case protocol.Connected:
				s.logger.Debug("caller connected", "protocol", m.Protocol)
			case protocol.Start:
				streamSID = m.Start.StreamSID
				s.stateMu.Lock()
				if s.callSID == "" {
					s.callSID = m.Start.CallSID
				}
				s.stateMu.Unlock()
				s.logger.Info("media stream started", "stream_sid", streamSID)
				if s.cfg.Greeting != "" {
					// The greeting enters the transcript like any assistant
					// turn but plays without holding the turn; the caller may
					// talk over it.
					s.script.appendAssistant(s.cfg.Greeting)
					go s.speakUtterance(s.ctx, s.cfg.Greeting, streamSID, nil)
				}
			case protocol.Media:
				audio, err := m.AudioPayload()
				if err != nil {
					s.logger.Warn("media frame ignored", "error", err)
					continue
				}
				if err := sttStream.SendAudio(audio); err != nil {
					s.logger.Warn("forward audio failed", "error", err)
				}
			case protocol.Stop:
				s.logger.Info("media stream stopped", "stream_sid", streamSID)
				return nil
			case protocol.Mark:
			}

		case ev, ok := <-sttEvents:
			if !ok {
				if s.torn.Load() {
					return nil
				}
				s.logger.Warn("transcription link lost, call continues without transcripts")
				sttEvents = nil
				continue
			}
			if !ev.IsFinal {
				continue
			}
			text := strings.TrimSpace(ev.Text)
			if text == "" {
				continue
			}
			if isSpeaking {
				s.logger.Debug("transcript dropped while replying", "text_len", len(text))
				continue
			}
			s.logger.Info("caller utterance finalized", "text_len", len(text))
			isSpeaking = true
			s.script.appendUser(text)
			go s.generate(s.script.snapshot(), genCh)

		case res := <-genCh:
			if res.err != nil {
				s.logger.Error("reply generation failed", "error", res.err)
				isSpeaking = false
				continue
			}
			reply := strings.TrimSpace(res.reply)
			if reply == "" {
				isSpeaking = false
				continue
			}
			s.script.appendAssistant(reply)
			s.logger.Info("assistant reply generated", "text_len", len(reply))
			go s.speakUtterance(s.ctx, reply, streamSID, speakEnd)

		case <-speakEnd:
			isSpeaking = false

		case <-s.ctx.Done():
			return nil
		}
	}
}

// Close tears the session down from outside the run loop. Safe to call
// concurrently with Run and more than once.
func (s *Session) Close() {
	s.teardown()
}

// SessionID returns the session identifier.
func (s *Session) SessionID() string { return s.sessionID }

func (s *Session) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// generate runs one reply generation off the loop. Results race against
// teardown; a canceled context discards them.
func (s *Session) generate(history []types.Message, out chan<- genResult) {
	reply, err := s.responder.Respond(s.ctx, history)
	select {
	case out <- genResult{reply: reply, err: err}:
	case <-s.ctx.Done():
	}
}

// speakUtterance synthesizes one utterance and relays its audio to the
// caller. done, when non-nil, receives a signal once playback dispatch
// finishes so the loop can release the turn.
func (s *Session) speakUtterance(ctx context.Context, text, streamSID string, done chan<- struct{}) {
	if done != nil {
		defer func() {
			select {
			case done <- struct{}{}:
			case <-ctx.Done():
			}
		}()
	}
	if streamSID == "" {
		s.logger.Warn("utterance dropped, media stream not started")
		return
	}

	stream, err := s.synth.Speak(ctx, text, tts.SpeakConfig{
		APIKey:    s.cfg.ElevenLabsAPIKey,
		VoiceID:   s.cfg.VoiceID,
		BaseWSURL: s.cfg.ElevenLabsWSBaseURL,
		Logger:    s.logger,
	})
	if err != nil {
		s.logger.Error("open synthesis stream failed", "error", err)
		return
	}
	defer stream.Close()

	for {
		select {
		case chunk, ok := <-stream.Chunks():
			if !ok {
				return
			}
			if err := s.sendMedia(streamSID, chunk); err != nil {
				if !errors.Is(err, errSessionClosed) {
					s.logger.Warn("send media failed", "error", err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) sendMedia(streamSID string, audio []byte) error {
	if s.torn.Load() {
		return errSessionClosed
	}
	frame, err := protocol.EncodeMediaFrame(streamSID, audio)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// teardown closes every leg exactly once. Legs close independently so one
// failure never blocks the others, and the call record write is
// fire-and-forget.
func (s *Session) teardown() {
	s.downOnce.Do(func() {
		s.torn.Store(true)
		s.cancel()

		s.stateMu.Lock()
		sttStream := s.sttStream
		callSID := s.callSID
		s.stateMu.Unlock()

		if sttStream != nil {
			if err := sttStream.Close(); err != nil {
				s.logger.Debug("close transcription stream", "error", err)
			}
		}

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()

		if s.recorder != nil && callSID != "" {
			timeout := s.cfg.TeardownTimeout
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				if err := s.recorder.CompleteCall(ctx, callSID); err != nil {
					s.logger.Warn("record call completion failed", "error", err)
				}
			}()
		}

		s.logger.Info("session closed")
	})
}
