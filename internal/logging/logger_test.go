package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	Setup("warn", "json", &buf)

	log.Info().Msg("dropped")
	log.Warn().Float64("delta", 1.5).Msg("kept")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "kept" || entry["app"] != "weather-etl" || entry["delta"] != 1.5 {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestSetupInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Setup("loud", "json", &buf)

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("GlobalLevel = %v, want info", zerolog.GlobalLevel())
	}
}
