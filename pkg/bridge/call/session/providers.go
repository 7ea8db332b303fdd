package session

import (
	"context"

	"github.com/shanewala/voice-agent-websocket/pkg/core/types"
	"github.com/shanewala/voice-agent-websocket/pkg/core/voice/stt"
	"github.com/shanewala/voice-agent-websocket/pkg/core/voice/tts"
)

// TranscriptStream receives caller audio and emits transcript events.
type TranscriptStream interface {
	SendAudio(data []byte) error
	Events() <-chan stt.TranscriptEvent
	Done() <-chan struct{}
	Close() error
}

// Transcriber opens one transcript stream per call.
type Transcriber interface {
	OpenStream(ctx context.Context, cfg stt.StreamConfig) (TranscriptStream, error)
}

// SpeechStream delivers synthesized audio for one utterance.
type SpeechStream interface {
	Chunks() <-chan []byte
	Close() error
}

// Synthesizer opens one speech stream per utterance.
type Synthesizer interface {
	Speak(ctx context.Context, text string, cfg tts.SpeakConfig) (SpeechStream, error)
}

// Responder generates the next assistant reply for a conversation.
type Responder interface {
	Respond(ctx context.Context, history []types.Message) (string, error)
}

// CallRecorder persists the call completion record at teardown.
type CallRecorder interface {
	CompleteCall(ctx context.Context, callSID string) error
}

// TranscriberAdapter adapts the concrete Deepgram provider.
type TranscriberAdapter struct {
	Provider *stt.DeepgramProvider
}

func (a TranscriberAdapter) OpenStream(ctx context.Context, cfg stt.StreamConfig) (TranscriptStream, error) {
	return a.Provider.OpenStream(ctx, cfg)
}

// SynthesizerAdapter adapts the concrete ElevenLabs provider.
type SynthesizerAdapter struct {
	Provider *tts.ElevenLabsProvider
}

func (a SynthesizerAdapter) Speak(ctx context.Context, text string, cfg tts.SpeakConfig) (SpeechStream, error) {
	return a.Provider.Speak(ctx, text, cfg)
}
