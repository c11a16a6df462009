package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"rider-safety/internal/config"
)

func TestNew_JSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithOutput(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	if logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level=%s want debug", logger.GetLevel())
	}
	logger.WithField("component", "test").Debug("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %q", buf.String())
	}
	if entry["msg"] != "hello" || entry["component"] != "test" {
		t.Fatalf("entry=%v", entry)
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithOutput(config.LoggingConfig{Level: "loud", Format: "text"}, &buf)
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level=%s want info", logger.GetLevel())
	}
	if !strings.Contains(buf.String(), "Invalid log level 'loud'") {
		t.Fatalf("missing warning, output=%q", buf.String())
	}
}
