package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"drumscribe/internal/config"
	"drumscribe/internal/logging"
)

func TestConsoleHandlerOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	component := logging.NewComponentLogger(logger, "gateway")
	component.Info("job submitted",
		logging.String(logging.FieldJobID, "job-1"),
		logging.String("filename", "take one.wav"),
	)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.Contains(line, " INFO [gateway] job submitted") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "job_id=job-1") {
		t.Fatalf("missing job_id attr: %q", line)
	}
	// Values containing spaces are quoted.
	if !strings.Contains(line, `filename="take one.wav"`) {
		t.Fatalf("missing quoted filename: %q", line)
	}
}

func TestConsoleHandlerFiltersByLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Level:       "warn",
		Format:      "console",
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("quiet")
	logger.Warn("loud")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "quiet") {
		t.Fatalf("info line leaked through warn filter: %q", out)
	}
	if !strings.Contains(out, "WARN loud") {
		t.Fatalf("missing warn line: %q", out)
	}
}

func TestJSONHandlerOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("job submitted", logging.String(logging.FieldJobID, "job-1"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	if record["level"] != "info" || record["msg"] != "job submitted" {
		t.Fatalf("unexpected record: %#v", record)
	}
	if record["job_id"] != "job-1" {
		t.Fatalf("missing job_id: %#v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("missing ts: %#v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := logging.New(logging.Options{Format: "xml"})
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewFromConfigMirrorsToLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "json"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	logger.Info("daemon starting")

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "drumscribe.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "daemon starting") {
		t.Fatalf("log file missing entry: %q", data)
	}
}

func TestErrorAttr(t *testing.T) {
	attr := logging.Error(errors.New("boom"))
	if attr.Key != "error" || attr.Value.String() != "boom" {
		t.Fatalf("unexpected attr: %v", attr)
	}
	nilAttr := logging.Error(nil)
	if nilAttr.Value.String() != "<nil>" {
		t.Fatalf("unexpected nil attr: %v", nilAttr)
	}
}

func TestArgsConversion(t *testing.T) {
	args := logging.Args(logging.String("a", "1"), logging.Int("b", 2))
	if len(args) != 2 {
		t.Fatalf("unexpected args length: %d", len(args))
	}
}

func TestNopLoggerIsSilent(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 0) {
		t.Fatal("nop logger should be disabled")
	}
}
