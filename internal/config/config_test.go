package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Relay.FlushThreshold != 50 {
		t.Fatalf("expected threshold 50, got %d", cfg.Relay.FlushThreshold)
	}
	if cfg.Relay.FlushDelay != 100*time.Millisecond {
		t.Fatalf("expected delay 100ms, got %s", cfg.Relay.FlushDelay)
	}
	if cfg.OpenAI.Model != "gpt-realtime-mini" {
		t.Fatalf("unexpected model %s", cfg.OpenAI.Model)
	}
	if !reflect.DeepEqual(cfg.ElevenLabs.ChunkSchedule, []int{120, 160, 250, 290}) {
		t.Fatalf("unexpected chunk schedule %v", cfg.ElevenLabs.ChunkSchedule)
	}
	if cfg.OpenAI.Enabled() {
		t.Fatalf("openai should be disabled without key")
	}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, []string{"*"}) {
		t.Fatalf("unexpected allowed origins %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("OPENAI_API_KEY", " sk-test ")
	t.Setenv("RELAY_FLUSH_THRESHOLD", "80")
	t.Setenv("RELAY_FLUSH_DELAY", "250ms")
	t.Setenv("OPENAI_VAD_SILENCE_DURATION", "700ms")
	t.Setenv("ELEVENLABS_CHUNK_SCHEDULE", "50,90")
	t.Setenv("OPENAI_OUTPUT_MODALITIES", "text,audio")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.OpenAI.APIKey != "sk-test" || !cfg.OpenAI.Enabled() {
		t.Fatalf("expected trimmed api key, got %q", cfg.OpenAI.APIKey)
	}
	if cfg.Relay.FlushThreshold != 80 || cfg.Relay.FlushDelay != 250*time.Millisecond {
		t.Fatalf("unexpected relay config %+v", cfg.Relay)
	}
	if cfg.OpenAI.VADSilenceDuration != 700*time.Millisecond {
		t.Fatalf("unexpected silence duration %s", cfg.OpenAI.VADSilenceDuration)
	}
	if !reflect.DeepEqual(cfg.ElevenLabs.ChunkSchedule, []int{50, 90}) {
		t.Fatalf("unexpected chunk schedule %v", cfg.ElevenLabs.ChunkSchedule)
	}
	if !reflect.DeepEqual(cfg.OpenAI.OutputModalities, []string{"text", "audio"}) {
		t.Fatalf("unexpected modalities %v", cfg.OpenAI.OutputModalities)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	content := []byte("relay:\n  flush_threshold: 64\nelevenlabs:\n  voice_id: voice-1\n  api_key: xi-key\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Relay.FlushThreshold != 64 {
		t.Fatalf("expected threshold from file, got %d", cfg.Relay.FlushThreshold)
	}
	if !cfg.ElevenLabs.Enabled() {
		t.Fatalf("expected elevenlabs enabled from file")
	}
}

func TestLoadRejectsInvalidRelayValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")
	t.Setenv("RELAY_FLUSH_THRESHOLD", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero threshold")
	}
}

func TestResolveAddr(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ":8080"},
		{in: "3000", want: ":3000"},
		{in: ":3000", want: ":3000"},
		{in: "0.0.0.0:3000", want: "0.0.0.0:3000"},
		{in: "30 00", wantErr: true},
	}

	for _, tc := range cases {
		got, err := resolveAddr(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("resolveAddr(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("resolveAddr(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}
