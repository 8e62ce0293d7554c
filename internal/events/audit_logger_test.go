package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readEntries(t *testing.T, path string) []LogEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Failed to parse line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestNewAuditLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	logger, err := NewAuditLogger(logPath, 0)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("Log file was not created: %v", err)
	}
	if logger.Path() != logPath {
		t.Errorf("expected path %s, got %s", logPath, logger.Path())
	}
}

func TestAuditLogger_HandleFromBus(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	defer logger.Close()

	bus := NewBus()
	bus.Subscribe(AllEvents, logger.Handle)
	bus.Publish(EventRunStarted, "run-7", map[string]any{"job": "deploy", "steps": 3})
	bus.Publish(EventStepFailed, "run-7", map[string]any{"job": "deploy", "step": 1, "error": "exit 2"})

	if err := logger.Err(); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	entries := readEntries(t, logPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	first, second := entries[0], entries[1]
	if first.EventType != "run_started" || first.RunID != "run-7" || first.Job != "deploy" {
		t.Errorf("unexpected first entry %+v", first)
	}
	if first.Step != nil {
		t.Errorf("expected no step on run entry, got %d", *first.Step)
	}
	if second.Step == nil || *second.Step != 1 {
		t.Errorf("expected step 1, got %v", second.Step)
	}
	if second.Details["error"] != "exit 2" {
		t.Errorf("expected error detail, got %v", second.Details)
	}
	if _, ok := second.Details["job"]; ok {
		t.Error("job should be promoted out of details")
	}
}

func TestAuditLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")
	logger, err := NewAuditLogger(logPath, 200)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 10; i++ {
		entry := &LogEntry{
			Timestamp: time.Now().UTC(),
			EventType: "step_completed",
			Details:   map[string]any{"payload": strings.Repeat("x", 60)},
		}
		if err := logger.WriteEntry(entry); err != nil {
			t.Fatalf("Failed to write entry %d: %v", i, err)
		}
	}

	archived, err := filepath.Glob(filepath.Join(dir, ArchiveDir, "audit.*.jsonl"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(archived) == 0 {
		t.Fatal("expected rotated files in archive directory")
	}
	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("stat current log: %v", err)
	}
	if info.Size() > 200 {
		t.Errorf("current log exceeds max size: %d", info.Size())
	}
}

func TestVerifyLogIntegrity(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	logger.EnableChecksum(true)

	step := 2
	for _, typ := range []string{"run_started", "step_started", "run_finished"} {
		if err := logger.WriteEntry(&LogEntry{Timestamp: time.Now().UTC(), EventType: typ, Job: "build", Step: &step}); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	logger.Close()

	total, valid, err := VerifyLogIntegrity(logPath)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if total != 3 || valid != 3 {
		t.Errorf("expected 3/3 valid entries, got %d/%d", valid, total)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tampered := strings.Replace(string(data), `"job":"build"`, `"job":"deploy"`, 1)
	if err := os.WriteFile(logPath, []byte(tampered), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	total, valid, err = VerifyLogIntegrity(logPath)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if total != 3 || valid != 2 {
		t.Errorf("expected 2/3 valid entries after tampering, got %d/%d", valid, total)
	}
}
