package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonConfigMissing   ReasonCode = "config_missing"
	ReasonCredentialIssue ReasonCode = "credential_issue"

	ReasonAIConnect ReasonCode = "ai_connect"
	ReasonAISocket  ReasonCode = "ai_socket"

	ReasonTTSConnect ReasonCode = "tts_connect"
	ReasonTTSSocket  ReasonCode = "tts_socket"
	ReasonTTSSend    ReasonCode = "tts_send"

	ReasonProtocolParse ReasonCode = "protocol_parse"
	ReasonClientSend    ReasonCode = "client_send"
)

var clientMessages = map[ReasonCode]string{
	ReasonConfigMissing:   "server is missing upstream credentials",
	ReasonCredentialIssue: "could not obtain a conversation session",
	ReasonAIConnect:       "could not connect to the conversation service",
	ReasonAISocket:        "connection to the conversation service was lost",
	ReasonTTSConnect:      "speech synthesis is unavailable for this turn",
	ReasonTTSSocket:       "speech synthesis connection was interrupted",
	ReasonTTSSend:         "speech synthesis request failed",
	ReasonProtocolParse:   "malformed message",
}

// ClientMessage returns a stable, human-readable description of err that is
// safe to send to clients. Upstream bodies and wrapped error text are never
// included.
func ClientMessage(err error) string {
	if msg, ok := clientMessages[Reason(err)]; ok {
		return msg
	}
	return "internal error"
}
