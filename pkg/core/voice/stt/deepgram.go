// Package stt provides the streaming speech-to-text link used by call
// sessions. One link wraps one Deepgram live websocket for the full
// lifetime of a call.
package stt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultDeepgramWSBase = "wss://api.deepgram.com/v1/listen"

// keepAliveFrame is sent alongside every audio frame to keep the upstream
// connection from idling out between utterances.
var keepAliveFrame = []byte(`{"type":"KeepAlive"}`)

// TranscriptEvent is one recognized-text event from the provider. Interim
// events carry IsFinal=false and never drive turn-taking.
type TranscriptEvent struct {
	Text    string
	IsFinal bool
}

// StreamConfig describes the audio the link will carry. Zero values fall
// back to telephony defaults (mulaw @8000Hz mono, interim results on).
type StreamConfig struct {
	APIKey         string
	Encoding       string
	SampleRate     int
	Channels       int
	InterimResults bool
	BaseWSURL      string
	Logger         *slog.Logger
}

// DeepgramProvider opens live transcription streams against Deepgram.
type DeepgramProvider struct{}

// NewDeepgram creates a Deepgram streaming STT provider.
func NewDeepgram() *DeepgramProvider {
	return &DeepgramProvider{}
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string { return "deepgram" }

// Stream is a live transcription session over one websocket.
type Stream struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	events  chan TranscriptEvent
	done    chan struct{}
	quit    chan struct{}
	closed  atomic.Bool

	currentMu   sync.Mutex
	currentText string
}

// OpenStream dials the live-transcription websocket and starts the read
// loop. The stream stays open until Close or a transport failure.
func (p *DeepgramProvider) OpenStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("deepgram api key is required")
	}
	wsURL, err := buildDeepgramWSURL(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+strings.TrimSpace(cfg.APIKey))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("deepgram connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("deepgram connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram connect: %w", err)
	}

	s := &Stream{
		conn:   conn,
		logger: cfg.Logger,
		events: make(chan TranscriptEvent, 64),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// SendAudio forwards one raw audio frame. A keep-alive control frame is
// written before each audio frame; both writes share the write lock so
// frames are never interleaved.
func (s *Stream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("transcription stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, keepAliveFrame); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Events returns the channel of transcript events. Empty and
// whitespace-only transcripts are filtered out before they reach it.
func (s *Stream) Events() <-chan TranscriptEvent {
	return s.events
}

// Done returns a channel closed when the read loop exits.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// CurrentText reports the most recent transcript text, interim included.
// Observability only; turn-taking keys off final events exclusively.
func (s *Stream) CurrentText() string {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()
	return s.currentText
}

// Close shuts the websocket down. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.quit)
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *Stream) readLoop() {
	defer func() {
		close(s.events)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("deepgram read failed", "error", err)
			}
			return
		}

		ev, ok := parseTranscriptPayload(data)
		if !ok {
			// Malformed provider frames are dropped; the connection stays up.
			s.logger.Warn("deepgram payload ignored", "bytes", len(data))
			continue
		}
		if strings.TrimSpace(ev.Text) == "" {
			continue
		}

		s.currentMu.Lock()
		s.currentText = ev.Text
		s.currentMu.Unlock()

		select {
		case s.events <- ev:
		case <-s.quit:
			return
		}
	}
}

func buildDeepgramWSURL(cfg StreamConfig) (string, error) {
	base := strings.TrimSpace(cfg.BaseWSURL)
	if base == "" {
		base = defaultDeepgramWSBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram ws base url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "mulaw"
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("encoding", encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	q.Set("channels", fmt.Sprintf("%d", channels))
	if cfg.InterimResults {
		q.Set("interim_results", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
