package moderation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"time"

	"github.com/gsay/chatroulette/internal/transcript"
)

// maxCommentLen is the maximum length of a report comment after escaping.
const maxCommentLen = 500

// banUpsertAttempts is how many times a threshold ban write is retried
// before giving up. The audit row is already committed at that point, so a
// lost ban is recoverable by an operator.
const banUpsertAttempts = 3

// Validation errors returned by FileReport. The caller maps these to error
// events; none of them mutate any state.
var (
	ErrSelfReport        = errors.New("moderation: cannot report yourself")
	ErrUnknownReason     = errors.New("moderation: unknown report reason")
	ErrUnresolvedAddress = errors.New("moderation: report parties could not be resolved")
)

// ReportStore is the persistence contract the engine needs. *Store satisfies
// it; tests substitute an in-memory fake.
type ReportStore interface {
	IncrementReport(ctx context.Context, addr string) (int, error)
	AppendReportLog(ctx context.Context, reporterAddr, reportedAddr, reason, comment string) (int64, error)
	BanCount(ctx context.Context, addr string) (int, error)
	UpsertBan(ctx context.Context, rec *BanRecord) error
}

// Sink persists transcript evidence for a filed report.
type Sink interface {
	Persist(reportID int64, reportedAddr string, entries []transcript.Entry) error
}

// Publisher emits moderation audit events. Implementations must be
// best-effort; the engine ignores publish failures.
type Publisher interface {
	PublishReportFiled(ctx context.Context, ev ReportFiledEvent) error
	PublishBanIssued(ctx context.Context, ev BanIssuedEvent) error
}

// ReportFiledEvent is published on every accepted report.
type ReportFiledEvent struct {
	ReportID     int64     `json:"report_id"`
	ReporterAddr string    `json:"reporter_addr"`
	ReportedAddr string    `json:"reported_addr"`
	Reason       string    `json:"reason"`
	Count        int       `json:"count"`
	FiledAt      time.Time `json:"filed_at"`
}

// BanIssuedEvent is published when a report pushes an address over the
// threshold.
type BanIssuedEvent struct {
	Addr     string    `json:"addr"`
	BanEnd   time.Time `json:"ban_end"`
	Reason   string    `json:"reason"`
	BanCount int       `json:"ban_count"`
	IssuedAt time.Time `json:"issued_at"`
}

// ReportInput carries everything the engine needs to process one report.
// Transcript may be nil when the parties had no active room.
type ReportInput struct {
	ReporterID   string
	ReportedID   string
	ReporterAddr string
	ReportedAddr string
	Reason       string
	Comment      string
	RoomID       string
	Transcript   []transcript.Entry
}

// ReportOutcome describes what a report produced. Banned is true when the
// report crossed the threshold; BanEnd and Reason are set only in that case.
type ReportOutcome struct {
	ReportID int64
	Count    int
	Banned   bool
	BanEnd   time.Time
	Reason   string
}

// Engine turns filed reports into audit rows, persisted transcripts and,
// past the threshold, escalating address bans.
type Engine struct {
	store     ReportStore
	sink      Sink
	events    Publisher // nil disables audit publishing
	threshold int
	baseBan   time.Duration
}

// NewEngine creates a report engine. events may be nil.
func NewEngine(store ReportStore, sink Sink, events Publisher, threshold int, baseBan time.Duration) *Engine {
	return &Engine{
		store:     store,
		sink:      sink,
		events:    events,
		threshold: threshold,
		baseBan:   baseBan,
	}
}

// FileReport validates and processes one report. On success the report
// counter is incremented, an audit row is written, the transcript (if any)
// is persisted to the sink, and if the counter reached the threshold an
// escalating ban is written for the reported address.
//
// Validation failures return one of the Err* sentinels with no state change.
func (e *Engine) FileReport(ctx context.Context, in ReportInput) (*ReportOutcome, error) {
	if !ValidReason(in.Reason) {
		return nil, ErrUnknownReason
	}
	if in.ReporterAddr == "" || in.ReportedAddr == "" {
		return nil, ErrUnresolvedAddress
	}
	// Only session identity counts here: distinct sessions behind one NAT
	// address are distinct users.
	if in.ReporterID == in.ReportedID {
		return nil, ErrSelfReport
	}

	comment := sanitizeComment(in.Comment)

	count, err := e.store.IncrementReport(ctx, in.ReportedAddr)
	if err != nil {
		return nil, err
	}

	reportID, err := e.store.AppendReportLog(ctx, in.ReporterAddr, in.ReportedAddr, in.Reason, comment)
	if err != nil {
		return nil, err
	}

	if len(in.Transcript) > 0 {
		if err := e.sink.Persist(reportID, in.ReportedAddr, in.Transcript); err != nil {
			// Evidence loss is not a reason to reject the report.
			log.Printf("[moderation] failed to persist transcript for report %d: %v", reportID, err)
		}
	}

	if e.events != nil {
		ev := ReportFiledEvent{
			ReportID:     reportID,
			ReporterAddr: in.ReporterAddr,
			ReportedAddr: in.ReportedAddr,
			Reason:       in.Reason,
			Count:        count,
			FiledAt:      time.Now(),
		}
		if err := e.events.PublishReportFiled(ctx, ev); err != nil {
			log.Printf("[moderation] failed to publish report event: %v", err)
		}
	}

	outcome := &ReportOutcome{ReportID: reportID, Count: count}
	if count < e.threshold {
		return outcome, nil
	}

	banEnd, banCount, err := e.issueBan(ctx, in.ReportedAddr, in.Reason)
	if err != nil {
		// The report itself stands; the caller still disconnects the
		// session so the immediate abuse stops.
		log.Printf("[moderation] failed to write ban for %s: %v", in.ReportedAddr, err)
		return outcome, nil
	}

	outcome.Banned = true
	outcome.BanEnd = banEnd
	outcome.Reason = in.Reason

	if e.events != nil {
		ev := BanIssuedEvent{
			Addr:     in.ReportedAddr,
			BanEnd:   banEnd,
			Reason:   outcome.Reason,
			BanCount: banCount,
			IssuedAt: time.Now(),
		}
		if err := e.events.PublishBanIssued(ctx, ev); err != nil {
			log.Printf("[moderation] failed to publish ban event: %v", err)
		}
	}
	return outcome, nil
}

// issueBan computes the escalated duration from the address's prior ban
// count and writes the ban row, retrying transient store failures. The ban
// carries the reason of the report that crossed the threshold.
func (e *Engine) issueBan(ctx context.Context, addr, reason string) (time.Time, int, error) {
	prior, err := e.store.BanCount(ctx, addr)
	if err != nil {
		log.Printf("[moderation] failed to read ban count for %s, assuming 0: %v", addr, err)
		prior = 0
	}

	rec := &BanRecord{
		Addr:     addr,
		BanEnd:   time.Now().Add(EscalationDuration(e.baseBan, prior)),
		Reason:   reason,
		BanCount: prior + 1,
	}

	var lastErr error
	for attempt := 1; attempt <= banUpsertAttempts; attempt++ {
		if lastErr = e.store.UpsertBan(ctx, rec); lastErr == nil {
			return rec.BanEnd, rec.BanCount, nil
		}
		log.Printf("[moderation] ban upsert attempt %d/%d for %s failed: %v",
			attempt, banUpsertAttempts, addr, lastErr)
		select {
		case <-ctx.Done():
			return time.Time{}, 0, ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return time.Time{}, 0, fmt.Errorf("moderation: ban upsert gave up: %w", lastErr)
}

// sanitizeComment truncates the raw comment to maxCommentLen runes and then
// escapes markup-significant characters. Truncating first keeps escape
// entities intact and gives every comment the same effective budget.
func sanitizeComment(comment string) string {
	runes := []rune(comment)
	if len(runes) > maxCommentLen {
		comment = string(runes[:maxCommentLen])
	}
	return html.EscapeString(comment)
}
