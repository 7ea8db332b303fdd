// Package types holds the shared data shapes exchanged between the call
// session and the provider links.
package types

// Conversation roles. The transcript is seeded with one system entry and
// then alternates user/assistant in real time.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a call transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
