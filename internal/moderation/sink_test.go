package moderation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gsay/chatroulette/internal/transcript"
)

func TestTranscriptSink_Persist(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewTranscriptSink(dir)
	if err != nil {
		t.Fatalf("NewTranscriptSink() error: %v", err)
	}

	entries := []transcript.Entry{
		{Sender: "user_a", Text: "hello", Ts: time.Unix(1700000000, 0)},
		{Sender: "user_b", Text: "hi there", Ts: time.Unix(1700000001, 0)},
	}
	if err := sink.Persist(42, "10.0.0.2", entries); err != nil {
		t.Fatalf("Persist() error: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "report_42_*.txt"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected exactly one report_42_*.txt file, got %v (err=%v)", matches, err)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("failed to read transcript: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "Report ID: 42") {
		t.Error("missing report id header")
	}
	if !strings.Contains(content, "Reported: 10.0.0.2") {
		t.Error("missing reported address header")
	}
	if !strings.Contains(content, "user_a: hello") {
		t.Error("missing first message line")
	}
	if !strings.Contains(content, "user_b: hi there") {
		t.Error("missing second message line")
	}
}

func TestNewTranscriptSink_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "sink")
	if _, err := NewTranscriptSink(dir); err != nil {
		t.Fatalf("NewTranscriptSink() error: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected sink directory to exist, err=%v", err)
	}
}
