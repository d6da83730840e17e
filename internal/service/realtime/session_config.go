package realtime

import (
	"encoding/json"
	"time"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
)

// VADSettings configures server-side voice activity detection.
type VADSettings struct {
	Threshold       float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration
}

// SessionSettings 描述每条连接建立后发送的一次性会话配置。
type SessionSettings struct {
	Instructions     string
	OutputModalities []string
	InputFormat      string
	SampleRate       int
	VAD              VADSettings
}

// SettingsFromConfig fills SessionSettings from the OpenAI config block.
func SettingsFromConfig(cfg config.OpenAIConfig, instructions string) SessionSettings {
	modalities := append([]string(nil), cfg.OutputModalities...)
	if len(modalities) == 0 {
		modalities = []string{"text"}
	}
	return SessionSettings{
		Instructions:     instructions,
		OutputModalities: modalities,
		InputFormat:      cfg.InputAudioFormat,
		SampleRate:       cfg.InputSampleRate,
		VAD: VADSettings{
			Threshold:       cfg.VADThreshold,
			PrefixPadding:   cfg.VADPrefixPadding,
			SilenceDuration: cfg.VADSilenceDuration,
		},
	}
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionFields `json:"session"`
}

type sessionFields struct {
	Type             string      `json:"type"`
	Instructions     string      `json:"instructions,omitempty"`
	OutputModalities []string    `json:"output_modalities"`
	Audio            audioFields `json:"audio"`
}

type audioFields struct {
	Input audioInput `json:"input"`
}

type audioInput struct {
	Format        audioFormat   `json:"format"`
	TurnDetection turnDetection `json:"turn_detection"`
}

type audioFormat struct {
	Type string `json:"type"`
	Rate int    `json:"rate,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int64   `json:"prefix_padding_ms"`
	SilenceDurationMS int64   `json:"silence_duration_ms"`
}

// BuildSessionUpdate encodes the session.update message for s.
func BuildSessionUpdate(s SessionSettings) ([]byte, error) {
	format := s.InputFormat
	if format == "" {
		format = "audio/pcm"
	}
	rate := s.SampleRate
	if rate == 0 && format == "audio/pcm" {
		rate = 24000
	}

	msg := sessionUpdate{
		Type: "session.update",
		Session: sessionFields{
			Type:             "realtime",
			Instructions:     s.Instructions,
			OutputModalities: s.OutputModalities,
			Audio: audioFields{
				Input: audioInput{
					Format: audioFormat{Type: format, Rate: rate},
					TurnDetection: turnDetection{
						Type:              "server_vad",
						Threshold:         s.VAD.Threshold,
						PrefixPaddingMS:   s.VAD.PrefixPadding.Milliseconds(),
						SilenceDurationMS: s.VAD.SilenceDuration.Milliseconds(),
					},
				},
			},
		},
	}
	return json.Marshal(msg)
}
