package moderation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gsay/chatroulette/internal/transcript"
)

// TranscriptSink writes report transcripts to files under a directory, one
// file per report id.
type TranscriptSink struct {
	dir string
}

// NewTranscriptSink creates the sink directory if needed and returns a sink
// writing into it.
func NewTranscriptSink(dir string) (*TranscriptSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("moderation: create sink dir: %w", err)
	}
	return &TranscriptSink{dir: dir}, nil
}

// Persist writes the transcript for one report to
// report_<id>_<timestamp>.txt: a short header followed by one line per
// message.
func (s *TranscriptSink) Persist(reportID int64, reportedAddr string, entries []transcript.Entry) error {
	now := time.Now()
	name := fmt.Sprintf("report_%d_%s.txt", reportID, now.Format("2006-01-02_15-04-05"))

	var b strings.Builder
	fmt.Fprintf(&b, "Report ID: %d\n", reportID)
	fmt.Fprintf(&b, "Reported: %s\n", reportedAddr)
	fmt.Fprintf(&b, "Filed: %s\n", now.Format(time.RFC3339))
	b.WriteString("\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Ts.Format(time.RFC3339), e.Sender, e.Text)
	}

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("moderation: write transcript %s: %w", path, err)
	}
	return nil
}
