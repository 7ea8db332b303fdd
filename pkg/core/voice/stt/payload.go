package stt

import "encoding/json"

// deepgramResult mirrors the live-transcription event shape: the text sits
// in a nested channel/alternatives structure next to an is_final flag.
type deepgramResult struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseTranscriptPayload decodes one inbound provider frame. It reports
// ok=false for payloads that are not well-formed transcript events so the
// caller can skip them without tearing the connection down.
func parseTranscriptPayload(data []byte) (TranscriptEvent, bool) {
	var res deepgramResult
	if err := json.Unmarshal(data, &res); err != nil {
		return TranscriptEvent{}, false
	}
	if len(res.Channel.Alternatives) == 0 {
		return TranscriptEvent{}, false
	}
	return TranscriptEvent{
		Text:    res.Channel.Alternatives[0].Transcript,
		IsFinal: res.IsFinal,
	}, true
}
