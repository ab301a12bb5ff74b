package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: DEBUG, Output: &buf, Format: FormatText, IncludeCaller: true})
	if l.GetLevel() != DEBUG {
		t.Errorf("expected DEBUG level, got %v", l.GetLevel())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: INFO, Output: &buf, Format: FormatText})

	l.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message logged below configured level")
	}

	buf.Reset()
	l.Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Error("info message missing from output")
	}

	buf.Reset()
	l.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Error("warn message missing from output")
	}

	buf.Reset()
	l.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Error("error message missing from output")
	}
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: INFO, Output: &buf, Format: FormatText})

	l.Info("user logged in", map[string]interface{}{"user_id": 123, "action": "login"})

	output := buf.String()
	if !strings.Contains(output, "user_id=123") || !strings.Contains(output, "action=login") {
		t.Errorf("fields missing from output: %s", output)
	}
}

func TestWithFieldAndWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: INFO, Output: &buf, Format: FormatText})

	l.WithField("request_id", "abc-123").Info("processing request")
	if !strings.Contains(buf.String(), "request_id=abc-123") {
		t.Error("request_id context field missing")
	}

	buf.Reset()
	l.WithComponent("resolver").Info("cache miss")
	if !strings.Contains(buf.String(), "component=resolver") {
		t.Error("component field missing")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: INFO, Output: &buf, Format: FormatJSON})

	l.Info("test message", map[string]interface{}{"count": 42})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if entry.Level != "INFO" || entry.Message != "test message" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["count"] != float64(42) {
		t.Errorf("expected count 42, got %v", entry.Fields["count"])
	}
}

func TestComponentLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: INFO, Output: &buf, Format: FormatText})
	l.SetComponentLevel("resolver", DEBUG)

	resolverLog := l.WithComponent("resolver")
	pipelineLog := l.WithComponent("pipeline")

	buf.Reset()
	resolverLog.Debug("resolver debug")
	if buf.Len() == 0 {
		t.Error("resolver debug message should log under component override")
	}

	buf.Reset()
	pipelineLog.Debug("pipeline debug")
	if buf.Len() > 0 {
		t.Error("pipeline debug message should not log at global INFO level")
	}
}

func TestParseLogLevelRoundTrip(t *testing.T) {
	cases := []struct {
		input    string
		expected LogLevel
	}{
		{"trace", TRACE},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warning", WARN},
		{"ERROR", ERROR},
		{"fatal", FATAL},
	}
	for _, tc := range cases {
		got, err := ParseLogLevel(tc.input)
		if err != nil {
			t.Fatalf("ParseLogLevel(%q) returned error: %v", tc.input, err)
		}
		if got != tc.expected {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.input, got, tc.expected)
		}
		if got.String() == "UNKNOWN" {
			t.Errorf("level %v stringified to UNKNOWN", got)
		}
	}
	if _, err := ParseLogLevel("bogus"); err == nil {
		t.Error("expected error for invalid level name")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: INFO, Output: &buf, Format: FormatText})

	l.Debug("suppressed")
	if buf.Len() > 0 {
		t.Error("debug should be suppressed at INFO")
	}

	l.SetLevel(DEBUG)
	l.Debug("visible")
	if buf.Len() == 0 {
		t.Error("debug should log after SetLevel(DEBUG)")
	}
}
