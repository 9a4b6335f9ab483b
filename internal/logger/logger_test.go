package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "test"})

	log.WithField("person_id", "p1").Info("enrolled")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "enrolled" {
		t.Errorf("expected message 'enrolled', got %v", entry["message"])
	}
	if entry["service"] != "test" {
		t.Errorf("expected service 'test', got %v", entry["service"])
	}
	if entry["person_id"] != "p1" {
		t.Errorf("expected person_id 'p1', got %v", entry["person_id"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "warn", Format: "text", Output: &buf})

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message should be logged")
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "loud", Output: &buf})

	log.Debug("debug")
	log.Info("info")

	if strings.Contains(buf.String(), "debug") {
		t.Error("debug should be filtered at default info level")
	}
	if !strings.Contains(buf.String(), "info") {
		t.Error("info should be logged")
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf}).Component("pipeline")

	ctx := log.WithContext(context.Background())
	FromContext(ctx).Info("hello")

	if !strings.Contains(buf.String(), "component=pipeline") {
		t.Errorf("expected component field in output, got %q", buf.String())
	}

	if FromContext(context.Background()) != Default() {
		t.Error("expected default logger for empty context")
	}
}

func TestSetDefault_IgnoresNil(t *testing.T) {
	before := Default()
	SetDefault(nil)
	if Default() != before {
		t.Error("SetDefault(nil) should not replace the default logger")
	}
}
