package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Unwritable file path",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "/nonexistent-dir/engine.log",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func newBufferLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: level, Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", line, err)
	}
	return entry
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, "warn")

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered, got %s", buf.String())
	}

	logger.Warn("shown")
	entry := decodeLine(t, buf)
	if entry["message"] != "shown" {
		t.Errorf("Expected message 'shown', got %v", entry["message"])
	}
}

func TestLoggerWithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, "debug")

	logger.
		WithClipID("clip-1").
		WithWorker("waveform").
		WithComponent("analysis").
		WithFields(map[string]interface{}{"buckets": 1200}).
		Info("started")

	entry := decodeLine(t, buf)
	if entry["clip_id"] != "clip-1" {
		t.Errorf("Expected clip_id clip-1, got %v", entry["clip_id"])
	}
	if entry["worker"] != "waveform" {
		t.Errorf("Expected worker waveform, got %v", entry["worker"])
	}
	if entry["component"] != "analysis" {
		t.Errorf("Expected component analysis, got %v", entry["component"])
	}
	if entry["buckets"] != float64(1200) {
		t.Errorf("Expected buckets 1200, got %v", entry["buckets"])
	}
}

func TestLogWorkerEvent(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.LogWorkerEvent("clip-2", "proxy", "ready", map[string]interface{}{"path": "/tmp/p.mp4"})

	entry := decodeLine(t, buf)
	if entry["event"] != "ready" || entry["worker"] != "proxy" || entry["path"] != "/tmp/p.mp4" {
		t.Errorf("Unexpected worker event: %v", entry)
	}
}

func TestLogExportProgress(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.LogExportProgress("job-1", 25, 100, 48.5)

	entry := decodeLine(t, buf)
	if entry["progress"] != 0.25 {
		t.Errorf("Expected progress 0.25, got %v", entry["progress"])
	}
}

func TestLogUserError(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.LogUserError("export", apperr.EncoderFailure(errors.New("exit status 1"), "Unknown encoder"))
	entry := decodeLine(t, buf)
	if entry["user_message"] != "Export failed." {
		t.Errorf("Expected user message, got %v", entry["user_message"])
	}
	if !strings.Contains(entry["detail"].(string), "Unknown encoder") {
		t.Errorf("Expected detail to carry stderr, got %v", entry["detail"])
	}

	buf.Reset()
	logger.LogUserError("export", context.Canceled)
	if buf.Len() != 0 {
		t.Errorf("Expected cancellation below info level, got %s", buf.String())
	}
}

func TestLogStorageOperation(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.LogStorageOperation("upload", "exports", "out.mp4", 1024, 50*time.Millisecond, errors.New("denied"))

	entry := decodeLine(t, buf)
	if entry["level"] != "error" {
		t.Errorf("Expected error level, got %v", entry["level"])
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("discarded")
	logger.WithClipID("x").LogPlaybackEvent("play", 0, 1)
}

func BenchmarkLogInfo(b *testing.B) {
	logger, _ := NewLogger(Config{Level: "info", Format: "json", Writer: &bytes.Buffer{}})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message")
	}
}

func BenchmarkLogWithFields(b *testing.B) {
	logger, _ := NewLogger(Config{Level: "info", Format: "json", Writer: &bytes.Buffer{}})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithClipID("clip").WithWorker("waveform").Info("benchmark message")
	}
}
