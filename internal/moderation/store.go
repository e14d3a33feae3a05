// Package moderation implements report handling and address bans: a
// PostgreSQL-backed store for ban records, report counters and the report
// audit log, the report engine that turns accumulated reports into escalating
// bans, and the file sink that preserves transcripts as evidence.
package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BanRecord is one row of the user_bans table.
type BanRecord struct {
	Addr     string
	BanEnd   time.Time
	Reason   string
	BanCount int
}

// Store manages moderation state in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a moderation store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LookupBan returns the active ban for an address, or nil if none exists.
// Expired rows are deleted opportunistically and reported as absent, so a
// lapsed ban also resets the escalation counter.
func (s *Store) LookupBan(ctx context.Context, addr string) (*BanRecord, error) {
	const query = `
		SELECT ip, ban_end, reason, ban_count
		FROM user_bans
		WHERE ip = $1`

	var rec BanRecord
	err := s.db.QueryRowContext(ctx, query, addr).Scan(&rec.Addr, &rec.BanEnd, &rec.Reason, &rec.BanCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("moderation: lookup ban: %w", err)
	}

	if !rec.BanEnd.After(time.Now()) {
		if err := s.DeleteBan(ctx, addr); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &rec, nil
}

// IsBanned checks whether an address is currently banned.
// Returns (banned, banEnd, reason, error). Store errors are returned so
// callers can decide how to handle them (the admission path fails open).
func (s *Store) IsBanned(ctx context.Context, addr string) (bool, time.Time, string, error) {
	rec, err := s.LookupBan(ctx, addr)
	if err != nil {
		return false, time.Time{}, "", err
	}
	if rec == nil {
		return false, time.Time{}, "", nil
	}
	return true, rec.BanEnd, rec.Reason, nil
}

// UpsertBan writes a ban row for an address, replacing any existing one.
func (s *Store) UpsertBan(ctx context.Context, rec *BanRecord) error {
	const query = `
		INSERT INTO user_bans (ip, ban_end, reason, ban_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip) DO UPDATE
		SET ban_end = EXCLUDED.ban_end,
		    reason = EXCLUDED.reason,
		    ban_count = EXCLUDED.ban_count`

	_, err := s.db.ExecContext(ctx, query, rec.Addr, rec.BanEnd, rec.Reason, rec.BanCount)
	if err != nil {
		return fmt.Errorf("moderation: upsert ban: %w", err)
	}
	return nil
}

// DeleteBan removes the ban row for an address.
func (s *Store) DeleteBan(ctx context.Context, addr string) error {
	const query = `DELETE FROM user_bans WHERE ip = $1`

	if _, err := s.db.ExecContext(ctx, query, addr); err != nil {
		return fmt.Errorf("moderation: delete ban: %w", err)
	}
	return nil
}

// DeleteExpiredBans removes every ban row whose end time has passed and
// returns the number of rows deleted.
func (s *Store) DeleteExpiredBans(ctx context.Context) (int64, error) {
	const query = `DELETE FROM user_bans WHERE ban_end <= NOW()`

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("moderation: delete expired bans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("moderation: delete expired bans: %w", err)
	}
	return n, nil
}

// BanCount returns the ban_count stored for an address, or 0 if no row
// exists. The row is read as-is: expiry is handled by LookupBan and the
// sweeper, and a deleted row legitimately resets the escalation counter.
func (s *Store) BanCount(ctx context.Context, addr string) (int, error) {
	const query = `SELECT ban_count FROM user_bans WHERE ip = $1`

	var count int
	err := s.db.QueryRowContext(ctx, query, addr).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("moderation: ban count: %w", err)
	}
	return count, nil
}

// IncrementReport bumps the report counter for an address and returns the
// post-increment count.
func (s *Store) IncrementReport(ctx context.Context, addr string) (int, error) {
	const query = `
		INSERT INTO user_reports (ip, report_count, last_reported)
		VALUES ($1, 1, NOW())
		ON CONFLICT (ip) DO UPDATE
		SET report_count = user_reports.report_count + 1,
		    last_reported = NOW()
		RETURNING report_count`

	var count int
	if err := s.db.QueryRowContext(ctx, query, addr).Scan(&count); err != nil {
		return 0, fmt.Errorf("moderation: increment report: %w", err)
	}
	return count, nil
}

// AppendReportLog inserts an audit row for a filed report and returns the
// generated report id.
func (s *Store) AppendReportLog(ctx context.Context, reporterAddr, reportedAddr, reason, comment string) (int64, error) {
	const query = `
		INSERT INTO report_log (reporter_ip, reported_ip, reason, comment, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query, reporterAddr, reportedAddr, reason, comment).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("moderation: append report log: %w", err)
	}
	return id, nil
}
