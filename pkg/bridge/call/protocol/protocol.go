// Package protocol defines the Twilio media-stream wire frames exchanged
// over the call websocket: the inbound connected/start/media/stop events
// and the outbound media frame carrying synthesized audio.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Connected is the first frame Twilio sends after the websocket opens.
type Connected struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
}

// StartPayload carries the stream metadata inside a start frame.
type StartPayload struct {
	StreamSID  string            `json:"streamSid"`
	AccountSID string            `json:"accountSid,omitempty"`
	CallSID    string            `json:"callSid,omitempty"`
	Parameters map[string]string `json:"customParameters,omitempty"`
}

// Start marks the beginning of the inbound media stream.
type Start struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Start     StartPayload `json:"start"`
}

// MediaPayload is the base64 payload inside a media frame.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Media carries one audio chunk. Inbound payloads are mu-law at 8 kHz.
type Media struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Media     MediaPayload `json:"media"`
}

// Stop marks the end of the call's media stream.
type Stop struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
}

// Mark acknowledges playback of a previously sent mark. The bridge does
// not send marks, but Twilio may still emit them; they decode cleanly and
// are ignored upstream.
type Mark struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
}

// DecodeInboundMessage parses one inbound frame into its typed variant.
func DecodeInboundMessage(data []byte) (any, error) {
	var env struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badRequest("invalid frame", "")
	}
	event := strings.TrimSpace(env.Event)
	if event == "" {
		return nil, badRequest("missing event", "event")
	}

	switch event {
	case "connected":
		var msg Connected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid connected frame", "")
		}
		return msg, nil
	case "start":
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start frame", "")
		}
		if strings.TrimSpace(msg.Start.StreamSID) == "" {
			msg.Start.StreamSID = strings.TrimSpace(msg.StreamSID)
		}
		if msg.Start.StreamSID == "" {
			return nil, badRequest("start.streamSid is required", "streamSid")
		}
		return msg, nil
	case "media":
		var msg Media
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid media frame", "")
		}
		if strings.TrimSpace(msg.Media.Payload) == "" {
			return nil, badRequest("media.payload is required", "payload")
		}
		return msg, nil
	case "stop":
		var msg Stop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid stop frame", "")
		}
		return msg, nil
	case "mark":
		var msg Mark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid mark frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported event", "event")
	}
}

// AudioPayload decodes the media frame's base64 payload.
func (m Media) AudioPayload() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, badRequest("media.payload is not valid base64", "payload")
	}
	return b, nil
}

// EncodeMediaFrame builds the outbound media frame for synthesized audio.
func EncodeMediaFrame(streamSID string, audio []byte) ([]byte, error) {
	if strings.TrimSpace(streamSID) == "" {
		return nil, badRequest("streamSid is required", "streamSid")
	}
	frame := Media{
		Event:     "media",
		StreamSID: streamSID,
		Media:     MediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
	return json.Marshal(frame)
}
