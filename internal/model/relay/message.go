package relay

import "encoding/base64"

// 客户端与服务端之间的消息类型。
const (
	TypeInit         = "init"
	TypeSessionReady = "session.ready"
	TypeAudioDelta   = "audio.delta"
	TypeAudioDone    = "audio.done"
	TypeError        = "error"

	SourceTTS = "tts"
)

// ClientEnvelope is the part of a client frame the relay inspects. Everything
// else in the frame is forwarded upstream untouched.
type ClientEnvelope struct {
	Type    string `json:"type"`
	Persona string `json:"persona,omitempty"`
}

// SessionReady 在对话服务握手成功后发送给客户端。
type SessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Persona   string `json:"persona,omitempty"`
}

// AudioDelta carries one synthesized chunk, base64 encoded.
type AudioDelta struct {
	Type   string `json:"type"`
	Audio  string `json:"audio"`
	Source string `json:"source"`
}

// AudioDone marks the end of synthesized audio for a turn.
type AudioDone struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

// ErrorMessage 是发给客户端的错误事件，只包含可公开的描述。
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewSessionReady builds the readiness event.
func NewSessionReady(sessionID, persona string) SessionReady {
	return SessionReady{Type: TypeSessionReady, SessionID: sessionID, Persona: persona}
}

// NewAudioDelta encodes chunk for the client.
func NewAudioDelta(chunk AudioChunk) AudioDelta {
	source := chunk.Source
	if source == "" {
		source = SourceTTS
	}
	return AudioDelta{
		Type:   TypeAudioDelta,
		Audio:  base64.StdEncoding.EncodeToString(chunk.Data),
		Source: source,
	}
}

// NewAudioDone builds the end-of-audio event for source.
func NewAudioDone(source string) AudioDone {
	if source == "" {
		source = SourceTTS
	}
	return AudioDone{Type: TypeAudioDone, Source: source}
}

// NewError builds a client error event.
func NewError(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message, Code: code}
}
