// Package tts provides the streaming text-to-speech link used by call
// sessions. Unlike the transcription link, a synthesis stream is scoped to
// a single utterance: one websocket is dialed per spoken reply and closed
// when the provider signals the end of the audio.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultElevenLabsWSBase = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"

// DefaultVoiceID is used when the agent profile carries no voice.
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// SpeakConfig describes one synthesis request.
type SpeakConfig struct {
	APIKey    string
	VoiceID   string
	BaseWSURL string
	Logger    *slog.Logger
}

// ElevenLabsProvider opens per-utterance synthesis streams.
type ElevenLabsProvider struct{}

// NewElevenLabs creates an ElevenLabs streaming TTS provider.
func NewElevenLabs() *ElevenLabsProvider {
	return &ElevenLabsProvider{}
}

// Name returns the provider identifier.
func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

// UtteranceStream delivers the decoded audio for one utterance.
type UtteranceStream struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	chunks  chan []byte
	done    chan struct{}
	quit    chan struct{}
	closed  atomic.Bool
}

// submitPayload is the first frame of a stream-input connection; the api
// key travels in-band rather than as a header.
type submitPayload struct {
	Text          string        `json:"text"`
	VoiceSettings voiceSettings `json:"voice_settings"`
	XIAPIKey      string        `json:"xi_api_key"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type audioFrame struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Speak dials a fresh synthesis connection, submits the text followed by
// the end-of-text marker, and streams decoded audio chunks until the
// provider marks the utterance final.
func (p *ElevenLabsProvider) Speak(ctx context.Context, text string, cfg SpeakConfig) (*UtteranceStream, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("utterance text is required")
	}
	voiceID := strings.TrimSpace(cfg.VoiceID)
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	wsURL, err := buildElevenLabsWSURL(strings.TrimSpace(cfg.BaseWSURL), voiceID)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("elevenlabs connect (status %d): %s", resp.StatusCode, string(body))
			}
		}
		return nil, fmt.Errorf("elevenlabs connect: %w", err)
	}

	s := &UtteranceStream{
		conn:   conn,
		logger: cfg.Logger,
		chunks: make(chan []byte, 256),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}

	if err := s.writeJSON(submitPayload{
		Text:          text,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XIAPIKey:      strings.TrimSpace(cfg.APIKey),
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("elevenlabs submit text: %w", err)
	}
	if err := s.writeJSON(map[string]string{"text": ""}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("elevenlabs end marker: %w", err)
	}

	go s.readLoop()
	return s, nil
}

// Chunks returns the decoded audio chunks in provider order. The channel
// is closed when the utterance completes or the connection drops.
func (s *UtteranceStream) Chunks() <-chan []byte {
	if s == nil {
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	return s.chunks
}

// Done returns a channel closed once the stream has fully drained.
func (s *UtteranceStream) Done() <-chan struct{} {
	return s.done
}

// Close tears the connection down. Safe to call more than once and after
// the provider has already closed its side.
func (s *UtteranceStream) Close() error {
	if s == nil {
		return nil
	}
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

func (s *UtteranceStream) writeJSON(payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(payload)
}

func (s *UtteranceStream) readLoop() {
	defer func() {
		close(s.chunks)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("elevenlabs read failed", "error", err)
			}
			return
		}

		var frame audioFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("elevenlabs payload ignored", "bytes", len(data))
			continue
		}
		if msg := strings.TrimSpace(frame.Error + frame.Message); frame.Error != "" || frame.Message != "" {
			s.logger.Warn("elevenlabs server message", "message", msg)
		}

		if frame.Audio != "" {
			audio, err := decodeBase64Any(frame.Audio)
			if err != nil {
				s.logger.Warn("elevenlabs audio chunk ignored", "error", err)
			} else if len(audio) > 0 {
				select {
				case s.chunks <- audio:
				case <-s.quit:
					return
				}
			}
		}
		if frame.IsFinal {
			return
		}
	}
}

func buildElevenLabsWSURL(base, voiceID string) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = defaultElevenLabsWSBase
	}
	base = strings.ReplaceAll(base, "{voice_id}", url.PathEscape(voiceID))
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws base url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input"
	}
	q := u.Query()
	if q.Get("model_id") == "" {
		q.Set("model_id", "eleven_turbo_v2_5")
	}
	if q.Get("optimize_streaming_latency") == "" {
		q.Set("optimize_streaming_latency", "4")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func decodeBase64Any(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	// The provider normally uses standard base64 but may omit padding.
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(raw); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(raw); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("invalid base64")
}
