package realtime

import (
	"testing"

	"github.com/zhouzirui/voice-relay/backend/internal/errorsx"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		kind  Kind
		delta string
		resp  string
	}{
		{name: "ga audio transcript delta", raw: `{"type":"response.output_audio_transcript.delta","response_id":"r1","delta":"Hola"}`, kind: KindTranscriptDelta, delta: "Hola", resp: "r1"},
		{name: "beta audio transcript delta", raw: `{"type":"response.audio_transcript.delta","delta":", ¿qué"}`, kind: KindTranscriptDelta, delta: ", ¿qué"},
		{name: "text delta", raw: `{"type":"response.output_text.delta","delta":" tal?"}`, kind: KindTranscriptDelta, delta: " tal?"},
		{name: "legacy text delta", raw: `{"type":"response.text.delta","delta":"x"}`, kind: KindTranscriptDelta, delta: "x"},
		{name: "transcript done", raw: `{"type":"response.output_audio_transcript.done","transcript":"Hola"}`, kind: KindCompletion},
		{name: "text done", raw: `{"type":"response.output_text.done"}`, kind: KindCompletion},
		{name: "response done", raw: `{"type":"response.done","response":{"id":"r9"}}`, kind: KindCompletion, resp: "r9"},
		{name: "response created", raw: `{"type":"response.created","response":{"id":"r2"}}`, kind: KindResponseCreated, resp: "r2"},
		{name: "upstream audio suppressed", raw: `{"type":"response.output_audio.delta","delta":"AAAA"}`, kind: KindAudio},
		{name: "beta audio suppressed", raw: `{"type":"response.audio.delta","delta":"AAAA"}`, kind: KindAudio},
		{name: "speech started passes", raw: `{"type":"input_audio_buffer.speech_started"}`, kind: KindPassThrough},
		{name: "session updated passes", raw: `{"type":"session.updated","session":{}}`, kind: KindPassThrough},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Classify([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Classify err: %v", err)
			}
			if ev.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", ev.Kind, tc.kind)
			}
			if ev.Delta != tc.delta {
				t.Fatalf("delta = %q, want %q", ev.Delta, tc.delta)
			}
			if ev.ResponseID != tc.resp {
				t.Fatalf("response id = %q, want %q", ev.ResponseID, tc.resp)
			}
			if string(ev.Raw) != tc.raw {
				t.Fatalf("raw payload not preserved")
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	ev, err := Classify([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"bad_value","message":"nope"}}`))
	if err != nil {
		t.Fatalf("Classify err: %v", err)
	}
	if ev.Kind != KindError || ev.ErrorCode != "bad_value" || ev.ErrorMsg != "nope" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestClassifyMalformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{"delta":"x"}`, `[]`} {
		_, err := Classify([]byte(raw))
		if !errorsx.HasReason(err, errorsx.ReasonProtocolParse) {
			t.Fatalf("Classify(%s) err = %v, want protocol_parse", raw, err)
		}
	}
}
