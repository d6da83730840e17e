package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestInitJSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := initTo(&buf, "relay", "warn", "json")

	logger.Info().Msg("dropped")
	logger.Warn().Str("session_id", "abc").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["app"] != "relay" || entry["session_id"] != "abc" || entry["message"] != "kept" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := initTo(&buf, "relay", "chatty", "json")

	logger.Debug().Msg("hidden")
	logger.Info().Msg("visible")

	if bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Fatalf("debug line should be filtered: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("visible")) {
		t.Fatalf("info line missing: %s", buf.String())
	}
}

func TestComponentTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(initTo(&buf, "relay", "info", "json"), "speech")
	logger.Info().Msg("hello")

	if !bytes.Contains(buf.Bytes(), []byte(`"component":"speech"`)) {
		t.Fatalf("component field missing: %s", buf.String())
	}
}
