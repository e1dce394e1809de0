package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("user_id", "alice").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("期望仅输出 1 行 warn 日志，实际 %d 行: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("日志应为 JSON: %v", err)
	}
	if entry["user_id"] != "alice" || entry["message"] != "shown" {
		t.Fatalf("字段不符: %v", entry)
	}
}

func TestNewLoggerToConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Format: "console"}, &buf)
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("console 格式输出异常: %q", buf.String())
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "chatty"}, &buf)
	logger.Debug().Msg("debug")
	logger.Info().Msg("info")

	if strings.Contains(buf.String(), `"debug"`) || !strings.Contains(buf.String(), `"info"`) {
		t.Fatalf("未知级别应回退到 info: %q", buf.String())
	}
}
