package session

import "github.com/shanewala/voice-agent-websocket/pkg/core/types"

// transcript accumulates the conversation sent to the responder. The
// system prompt is pinned as the first message.
type transcript struct {
	messages []types.Message
}

func newTranscript(systemPrompt string) *transcript {
	t := &transcript{messages: make([]types.Message, 0, 16)}
	if systemPrompt != "" {
		t.messages = append(t.messages, types.Message{Role: types.RoleSystem, Content: systemPrompt})
	}
	return t
}

func (t *transcript) appendUser(text string) {
	t.messages = append(t.messages, types.Message{Role: types.RoleUser, Content: text})
}

func (t *transcript) appendAssistant(text string) {
	t.messages = append(t.messages, types.Message{Role: types.RoleAssistant, Content: text})
}

func (t *transcript) snapshot() []types.Message {
	out := make([]types.Message, len(t.messages))
	copy(out, t.messages)
	return out
}
