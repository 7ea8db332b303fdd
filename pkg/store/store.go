// Package store provides the Postgres-backed configuration store: agent
// profiles, per-tenant provider credentials, and call completion records.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Provider credential service names as stored in the api_keys table.
const (
	ServiceOpenAI     = "openai"
	ServiceDeepgram   = "deepgram"
	ServiceElevenLabs = "elevenlabs"
)

// AgentProfile is the per-agent configuration resolved at call setup.
type AgentProfile struct {
	ID           string
	OwnerID      string
	SystemPrompt string
	Greeting     string
	VoiceID      string
	Model        string
}

// CallRecord describes a finished call as written to call_logs.
type CallRecord struct {
	CallSID string
	AgentID string
	Status  string
	EndedAt time.Time
}

// ProfileStore resolves agent configuration and credentials.
type ProfileStore interface {
	// AgentProfile loads the agent row and its owning tenant.
	AgentProfile(ctx context.Context, agentID string) (AgentProfile, error)

	// ServiceCredentials returns the owner's API keys for the named
	// services. Missing services are absent from the map, not an error.
	ServiceCredentials(ctx context.Context, ownerID string, services ...string) (map[string]string, error)
}

// CallRecorder persists call lifecycle updates.
type CallRecorder interface {
	// CompleteCall marks the call finished. Implementations should treat
	// repeat calls for the same SID as a no-op.
	CompleteCall(ctx context.Context, callSID string) error
}
