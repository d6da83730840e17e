package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/zhouzirui/voice-relay/backend/internal/errorsx"
)

// Kind is the closed set of upstream event categories the relay acts on.
type Kind int

const (
	// KindPassThrough events are forwarded to the client verbatim.
	KindPassThrough Kind = iota
	// KindTranscriptDelta carries incremental reply text.
	KindTranscriptDelta
	// KindCompletion ends the reply text for the current turn.
	KindCompletion
	// KindResponseCreated starts a new turn.
	KindResponseCreated
	// KindAudio is upstream-generated audio; never relayed.
	KindAudio
	// KindError is an upstream error report.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindPassThrough:
		return "pass_through"
	case KindTranscriptDelta:
		return "transcript_delta"
	case KindCompletion:
		return "completion"
	case KindResponseCreated:
		return "response_created"
	case KindAudio:
		return "audio"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// 上游事件类型到分类的映射。未列出的类型一律透传。
var eventKinds = map[string]Kind{
	"response.output_audio_transcript.delta": KindTranscriptDelta,
	"response.audio_transcript.delta":        KindTranscriptDelta,
	"response.output_text.delta":             KindTranscriptDelta,
	"response.text.delta":                    KindTranscriptDelta,

	"response.output_audio_transcript.done": KindCompletion,
	"response.audio_transcript.done":        KindCompletion,
	"response.output_text.done":             KindCompletion,
	"response.text.done":                    KindCompletion,
	"response.done":                         KindCompletion,

	"response.created": KindResponseCreated,

	"response.output_audio.delta": KindAudio,
	"response.audio.delta":        KindAudio,
	"response.output_audio.done":  KindAudio,
	"response.audio.done":         KindAudio,

	"error": KindError,
}

// Event is one classified upstream message.
type Event struct {
	Kind       Kind
	Type       string
	Delta      string
	ResponseID string
	ErrorCode  string
	ErrorMsg   string
	Raw        []byte
}

type wireEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	ResponseID string `json:"response_id"`
	Response   *struct {
		ID string `json:"id"`
	} `json:"response"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Classify decodes one upstream text frame. Frames that are not JSON objects
// or carry no type are reported as protocol_parse errors.
func Classify(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, errorsx.Wrap(fmt.Errorf("decode upstream event: %w", err), errorsx.ReasonProtocolParse)
	}
	if w.Type == "" {
		return Event{}, errorsx.New(errorsx.ReasonProtocolParse, "upstream event without type")
	}

	ev := Event{
		Kind:       eventKinds[w.Type],
		Type:       w.Type,
		ResponseID: w.ResponseID,
		Raw:        raw,
	}
	if ev.ResponseID == "" && w.Response != nil {
		ev.ResponseID = w.Response.ID
	}

	switch ev.Kind {
	case KindTranscriptDelta:
		ev.Delta = w.Delta
	case KindError:
		if w.Error != nil {
			ev.ErrorCode = w.Error.Code
			if ev.ErrorCode == "" {
				ev.ErrorCode = w.Error.Type
			}
			ev.ErrorMsg = w.Error.Message
		}
	}

	return ev, nil
}
