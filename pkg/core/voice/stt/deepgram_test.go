package stt

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTranscriberServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func TestBuildDeepgramWSURL_TelephonyDefaults(t *testing.T) {
	t.Parallel()
	got, err := buildDeepgramWSURL(StreamConfig{InterimResults: true})
	if err != nil {
		t.Fatalf("buildDeepgramWSURL error: %v", err)
	}
	for _, want := range []string{"encoding=mulaw", "sample_rate=8000", "channels=1", "interim_results=true"} {
		if !strings.Contains(got, want) {
			t.Fatalf("url=%q missing %q", got, want)
		}
	}
	if !strings.HasPrefix(got, "wss://api.deepgram.com/v1/listen") {
		t.Fatalf("url=%q, want default base", got)
	}
}

func TestOpenStream_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	p := NewDeepgram()
	if _, err := p.OpenStream(context.Background(), StreamConfig{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestStream_EmitsFinalAndInterimEvents(t *testing.T) {
	srv := newTranscriberServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{
			"is_final": false,
			"channel":  map[string]any{"alternatives": []map[string]any{{"transcript": "hel"}}},
		})
		_ = conn.WriteJSON(map[string]any{
			"is_final": true,
			"channel":  map[string]any{"alternatives": []map[string]any{{"transcript": "hello there"}}},
		})
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	p := NewDeepgram()
	s, err := p.OpenStream(context.Background(), StreamConfig{
		APIKey:    "dg-test",
		BaseWSURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("OpenStream error: %v", err)
	}
	defer s.Close()

	select {
	case ev := <-s.Events():
		if ev.IsFinal || ev.Text != "hel" {
			t.Fatalf("event=%+v, want interim %q", ev, "hel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for interim event")
	}

	select {
	case ev := <-s.Events():
		if !ev.IsFinal || ev.Text != "hello there" {
			t.Fatalf("event=%+v, want final %q", ev, "hello there")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for final event")
	}

	if got := s.CurrentText(); got != "hello there" {
		t.Fatalf("CurrentText=%q, want %q", got, "hello there")
	}
}

func TestStream_DropsMalformedAndWhitespacePayloads(t *testing.T) {
	srv := newTranscriberServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteJSON(map[string]any{"type": "Metadata"})
		_ = conn.WriteJSON(map[string]any{
			"is_final": true,
			"channel":  map[string]any{"alternatives": []map[string]any{{"transcript": "   "}}},
		})
		_ = conn.WriteJSON(map[string]any{
			"is_final": true,
			"channel":  map[string]any{"alternatives": []map[string]any{{"transcript": "real words"}}},
		})
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	p := NewDeepgram()
	s, err := p.OpenStream(context.Background(), StreamConfig{
		APIKey:    "dg-test",
		BaseWSURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("OpenStream error: %v", err)
	}
	defer s.Close()

	// Only the single well-formed non-blank transcript should surface.
	select {
	case ev := <-s.Events():
		if ev.Text != "real words" || !ev.IsFinal {
			t.Fatalf("event=%+v, want final %q", ev, "real words")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestStream_SendAudioWritesKeepAliveThenBinary(t *testing.T) {
	type wsFrame struct {
		messageType int
		data        []byte
	}
	frames := make(chan wsFrame, 4)
	srv := newTranscriberServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 2; i++ {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- wsFrame{messageType: mt, data: data}
		}
	})
	defer srv.Close()

	p := NewDeepgram()
	s, err := p.OpenStream(context.Background(), StreamConfig{
		APIKey:    "dg-test",
		BaseWSURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("OpenStream error: %v", err)
	}
	defer s.Close()

	if err := s.SendAudio([]byte{0x7f, 0x7f}); err != nil {
		t.Fatalf("SendAudio error: %v", err)
	}

	select {
	case f := <-frames:
		if f.messageType != websocket.TextMessage || !strings.Contains(string(f.data), "KeepAlive") {
			t.Fatalf("first frame=%d %q, want KeepAlive text frame", f.messageType, f.data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for keep-alive frame")
	}
	select {
	case f := <-frames:
		if f.messageType != websocket.BinaryMessage || len(f.data) != 2 {
			t.Fatalf("second frame=%d len=%d, want 2-byte binary frame", f.messageType, len(f.data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for audio frame")
	}
}

func TestStream_SendAudioAfterCloseFails(t *testing.T) {
	srv := newTranscriberServer(t, func(conn *websocket.Conn) {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	p := NewDeepgram()
	s, err := p.OpenStream(context.Background(), StreamConfig{
		APIKey:    "dg-test",
		BaseWSURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("OpenStream error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if err := s.SendAudio([]byte{0x00}); err == nil {
		t.Fatal("expected SendAudio to fail after Close")
	}
}
