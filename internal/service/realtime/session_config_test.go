package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
)

func TestBuildSessionUpdate(t *testing.T) {
	settings := SettingsFromConfig(config.OpenAIConfig{
		InputAudioFormat:   "audio/pcm",
		InputSampleRate:    24000,
		VADThreshold:       0.5,
		VADPrefixPadding:   300 * time.Millisecond,
		VADSilenceDuration: 500 * time.Millisecond,
	}, "habla en español")

	raw, err := BuildSessionUpdate(settings)
	if err != nil {
		t.Fatalf("BuildSessionUpdate err: %v", err)
	}

	var decoded struct {
		Type    string `json:"type"`
		Session struct {
			Type             string   `json:"type"`
			Instructions     string   `json:"instructions"`
			OutputModalities []string `json:"output_modalities"`
			Audio            struct {
				Input struct {
					Format struct {
						Type string `json:"type"`
						Rate int    `json:"rate"`
					} `json:"format"`
					TurnDetection struct {
						Type              string  `json:"type"`
						Threshold         float64 `json:"threshold"`
						PrefixPaddingMS   int     `json:"prefix_padding_ms"`
						SilenceDurationMS int     `json:"silence_duration_ms"`
					} `json:"turn_detection"`
				} `json:"input"`
			} `json:"audio"`
		} `json:"session"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Type != "session.update" || decoded.Session.Type != "realtime" {
		t.Fatalf("unexpected envelope %s", raw)
	}
	if decoded.Session.Instructions != "habla en español" {
		t.Fatalf("instructions missing: %s", raw)
	}
	if len(decoded.Session.OutputModalities) != 1 || decoded.Session.OutputModalities[0] != "text" {
		t.Fatalf("expected default text modality, got %v", decoded.Session.OutputModalities)
	}
	td := decoded.Session.Audio.Input.TurnDetection
	if td.Type != "server_vad" || td.Threshold != 0.5 || td.PrefixPaddingMS != 300 || td.SilenceDurationMS != 500 {
		t.Fatalf("unexpected turn detection %+v", td)
	}
	if decoded.Session.Audio.Input.Format.Rate != 24000 {
		t.Fatalf("unexpected input format %+v", decoded.Session.Audio.Input.Format)
	}
}
