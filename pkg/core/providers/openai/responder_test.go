package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shanewala/voice-agent-websocket/pkg/core/types"
)

func TestRespond_SendsChatRequest(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Sure, I can help with that."}}]}`))
	}))
	defer srv.Close()

	r := New("sk-test", WithBaseURL(srv.URL))
	reply, err := r.Respond(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "You are a helpful receptionist."},
		{Role: types.RoleUser, Content: "Can I book an appointment?"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "Sure, I can help with that." {
		t.Fatalf("reply = %q", reply)
	}

	if auth != "Bearer sk-test" {
		t.Errorf("authorization = %q", auth)
	}
	if got.Model != DefaultModel {
		t.Errorf("model = %q, want %q", got.Model, DefaultModel)
	}
	if got.MaxTokens != DefaultMaxTokens {
		t.Errorf("max_tokens = %d, want %d", got.MaxTokens, DefaultMaxTokens)
	}
	if got.Temperature != DefaultTemperature {
		t.Errorf("temperature = %v, want %v", got.Temperature, DefaultTemperature)
	}
	if got.Stream {
		t.Error("stream = true, want false")
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "Can I book an appointment?" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestRespond_EmptyChoicesYieldsEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	r := New("sk-test", WithBaseURL(srv.URL))
	reply, err := r.Respond(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "" {
		t.Fatalf("reply = %q, want empty", reply)
	}
}

func TestRespond_SurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	r := New("sk-bad", WithBaseURL(srv.URL))
	_, err := r.Respond(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestWithModelAndMaxTokens(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	r := New("sk-test", WithBaseURL(srv.URL), WithModel("gpt-4o"), WithMaxTokens(64))
	if _, err := r.Respond(context.Background(), nil); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.Model != "gpt-4o" || got.MaxTokens != 64 {
		t.Errorf("request = %+v", got)
	}
}
