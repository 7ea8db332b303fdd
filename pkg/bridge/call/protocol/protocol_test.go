package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeInboundMessage_Start(t *testing.T) {
	data := []byte(`{"event":"start","streamSid":"MZ123","start":{"streamSid":"MZ123","callSid":"CA456","customParameters":{"agent_id":"a1"}}}`)
	msg, err := DecodeInboundMessage(data)
	if err != nil {
		t.Fatalf("DecodeInboundMessage: %v", err)
	}
	start, ok := msg.(Start)
	if !ok {
		t.Fatalf("message type = %T", msg)
	}
	if start.Start.StreamSID != "MZ123" || start.Start.CallSID != "CA456" {
		t.Errorf("start = %+v", start.Start)
	}
	if start.Start.Parameters["agent_id"] != "a1" {
		t.Errorf("customParameters = %v", start.Start.Parameters)
	}
}

func TestDecodeInboundMessage_StartFallsBackToTopLevelSID(t *testing.T) {
	msg, err := DecodeInboundMessage([]byte(`{"event":"start","streamSid":"MZ999","start":{}}`))
	if err != nil {
		t.Fatalf("DecodeInboundMessage: %v", err)
	}
	if got := msg.(Start).Start.StreamSID; got != "MZ999" {
		t.Fatalf("streamSid = %q", got)
	}
}

func TestDecodeInboundMessage_Media(t *testing.T) {
	audio := []byte{0xff, 0x7f, 0x00}
	payload := base64.StdEncoding.EncodeToString(audio)
	data := []byte(`{"event":"media","media":{"track":"inbound","payload":"` + payload + `"}}`)

	msg, err := DecodeInboundMessage(data)
	if err != nil {
		t.Fatalf("DecodeInboundMessage: %v", err)
	}
	media := msg.(Media)
	got, err := media.AudioPayload()
	if err != nil {
		t.Fatalf("AudioPayload: %v", err)
	}
	if string(got) != string(audio) {
		t.Fatalf("audio = %v, want %v", got, audio)
	}
}

func TestDecodeInboundMessage_Errors(t *testing.T) {
	cases := []struct {
		name  string
		data  string
		param string
	}{
		{"not json", `not json`, ""},
		{"missing event", `{"streamSid":"MZ1"}`, "event"},
		{"unknown event", `{"event":"dtmf"}`, "event"},
		{"media without payload", `{"event":"media","media":{}}`, "payload"},
		{"start without sid", `{"event":"start","start":{}}`, "streamSid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeInboundMessage([]byte(tc.data))
			if err == nil {
				t.Fatal("expected error")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error type = %T", err)
			}
			if de.Param != tc.param {
				t.Errorf("param = %q, want %q", de.Param, tc.param)
			}
		})
	}
}

func TestDecodeInboundMessage_StopAndConnectedAndMark(t *testing.T) {
	for _, data := range []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		`{"event":"stop","streamSid":"MZ1"}`,
		`{"event":"mark","streamSid":"MZ1"}`,
	} {
		if _, err := DecodeInboundMessage([]byte(data)); err != nil {
			t.Errorf("DecodeInboundMessage(%s): %v", data, err)
		}
	}
}

func TestEncodeMediaFrame(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03}
	data, err := EncodeMediaFrame("MZ777", audio)
	if err != nil {
		t.Fatalf("EncodeMediaFrame: %v", err)
	}

	var frame Media
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Event != "media" || frame.StreamSID != "MZ777" {
		t.Errorf("frame = %+v", frame)
	}
	got, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
	if err != nil || string(got) != string(audio) {
		t.Errorf("payload = %q (%v)", frame.Media.Payload, err)
	}

	if _, err := EncodeMediaFrame("", audio); err == nil {
		t.Error("expected error for empty streamSid")
	}
}

func TestMediaAudioPayload_InvalidBase64(t *testing.T) {
	m := Media{Media: MediaPayload{Payload: "!!bad!!"}}
	if _, err := m.AudioPayload(); err == nil {
		t.Fatal("expected error")
	}
}
