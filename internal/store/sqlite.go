// Package store persists usage records, limits, preferences, and domain
// categories in SQLite.
//
// Usage records are append-only facts: {domain, seconds, date_key}. All
// aggregate queries (per-target usage, over-limit checks, summaries) are
// derived from them, so the tracking loop never needs to read back what it
// wrote in order to stay consistent.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tabward/internal/domain"
)

// Schema for the tabward store.
const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    domain      TEXT NOT NULL,
    seconds     INTEGER NOT NULL,
    date_key    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_domain_date ON usage_records(domain, date_key);
CREATE INDEX IF NOT EXISTS idx_usage_date ON usage_records(date_key);

CREATE TABLE IF NOT EXISTS limits (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    target_type     TEXT NOT NULL,
    target_id       TEXT NOT NULL,
    timeframe       TEXT NOT NULL,
    limit_minutes   INTEGER NOT NULL,
    UNIQUE (target_type, target_id, timeframe)
);

CREATE TABLE IF NOT EXISTS preferences (
    key     TEXT PRIMARY KEY,
    value   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS domain_categories (
    domain      TEXT PRIMARY KEY,
    category    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS block_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    domain      TEXT NOT NULL,
    limit_id    INTEGER NOT NULL,
    blocked_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_block_events_time ON block_events(blocked_at);
`

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and applies
// the schema.
func Open(path string) (*Store, error) {
	return OpenWithTimeout(path, 5000)
}

// OpenWithTimeout opens the database with an explicit busy timeout in
// milliseconds.
func OpenWithTimeout(path string, busyTimeoutMs int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMemory opens an in-memory store, used by tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every pool connection to :memory: is a separate empty database, so
	// the pool must stay at a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// AppendUsage appends seconds to a domain for a date key. Not idempotent:
// the committer must call it at most once per commit cycle.
func (s *Store) AppendUsage(d string, seconds int64, dateKey string) error {
	if seconds <= 0 {
		return fmt.Errorf("append usage: non-positive seconds %d", seconds)
	}
	_, err := s.db.Exec(`
		INSERT INTO usage_records (domain, seconds, date_key)
		VALUES (?, ?, ?)`,
		d, seconds, dateKey,
	)
	if err != nil {
		return fmt.Errorf("append usage: %w", err)
	}
	return nil
}

// UsageSecondsForTarget returns accumulated seconds for a limit target
// within the timeframe ending at ref.
//
// Site targets match exactly or as a parent domain. Category targets match
// via domain_categories, with unclassified domains counting as "Other".
func (s *Store) UsageSecondsForTarget(tt TargetType, targetID string, tf Timeframe, ref time.Time) (int64, error) {
	start := timeframeStart(tf, ref)
	end := DateKey(ref)

	var total int64
	var err error
	switch tt {
	case TargetSite:
		err = s.db.QueryRow(`
			SELECT COALESCE(SUM(seconds), 0)
			FROM usage_records
			WHERE date_key >= ? AND date_key <= ?
			  AND (domain = ? OR domain LIKE '%.' || ?)`,
			start, end, targetID, targetID,
		).Scan(&total)
	case TargetCategory:
		err = s.db.QueryRow(`
			SELECT COALESCE(SUM(u.seconds), 0)
			FROM usage_records u
			LEFT JOIN domain_categories c ON c.domain = u.domain
			WHERE u.date_key >= ? AND u.date_key <= ?
			  AND COALESCE(c.category, ?) = ?`,
			start, end, DefaultCategory, targetID,
		).Scan(&total)
	default:
		return 0, fmt.Errorf("usage for target: unknown target type %q", tt)
	}
	if err != nil {
		return 0, fmt.Errorf("usage for target: %w", err)
	}
	return total, nil
}

// AddLimit inserts a limit and returns its ID.
func (s *Store) AddLimit(l Limit) (int64, error) {
	if !ValidTimeframe(l.Timeframe) {
		return 0, fmt.Errorf("add limit: invalid timeframe %q", l.Timeframe)
	}
	if l.TargetType != TargetSite && l.TargetType != TargetCategory {
		return 0, fmt.Errorf("add limit: invalid target type %q", l.TargetType)
	}
	if l.LimitMinutes <= 0 {
		return 0, fmt.Errorf("add limit: limit minutes must be positive")
	}

	target := l.TargetID
	if l.TargetType == TargetSite {
		target = domain.Normalize(target)
	}

	result, err := s.db.Exec(`
		INSERT INTO limits (target_type, target_id, timeframe, limit_minutes)
		VALUES (?, ?, ?, ?)`,
		string(l.TargetType), target, string(l.Timeframe), l.LimitMinutes,
	)
	if err != nil {
		return 0, fmt.Errorf("add limit: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// DeleteLimit removes a limit by ID.
func (s *Store) DeleteLimit(id int64) error {
	result, err := s.db.Exec(`DELETE FROM limits WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete limit: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("limit not found: %d", id)
	}
	return nil
}

// AllLimits returns every defined limit.
func (s *Store) AllLimits() ([]Limit, error) {
	rows, err := s.db.Query(`
		SELECT id, target_type, target_id, timeframe, limit_minutes
		FROM limits ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query limits: %w", err)
	}
	defer rows.Close()

	var limits []Limit
	for rows.Next() {
		var l Limit
		var tt, tf string
		if err := rows.Scan(&l.ID, &tt, &l.TargetID, &tf, &l.LimitMinutes); err != nil {
			return nil, fmt.Errorf("scan limit: %w", err)
		}
		l.TargetType = TargetType(tt)
		l.Timeframe = Timeframe(tf)
		limits = append(limits, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate limits: %w", err)
	}
	return limits, nil
}

// LimitsForDomain returns limits applicable to d: site limits whose target
// matches exactly or as a parent, and category limits matching d's category.
func (s *Store) LimitsForDomain(d string) ([]Limit, error) {
	all, err := s.AllLimits()
	if err != nil {
		return nil, err
	}

	category, err := s.Category(d)
	if err != nil {
		return nil, err
	}

	var applicable []Limit
	for _, l := range all {
		switch l.TargetType {
		case TargetSite:
			if domain.Matches(l.TargetID, d) {
				applicable = append(applicable, l)
			}
		case TargetCategory:
			if l.TargetID == category {
				applicable = append(applicable, l)
			}
		}
	}
	return applicable, nil
}

// BlockedBy returns the first applicable limit whose accumulated usage
// meets or exceeds its cap, if any.
func (s *Store) BlockedBy(d string, ref time.Time) (Limit, bool, error) {
	applicable, err := s.LimitsForDomain(d)
	if err != nil {
		return Limit{}, false, err
	}

	for _, l := range applicable {
		usage, err := s.UsageSecondsForTarget(l.TargetType, l.TargetID, l.Timeframe, ref)
		if err != nil {
			return Limit{}, false, err
		}
		if usage >= l.LimitSeconds() {
			return l, true, nil
		}
	}
	return Limit{}, false, nil
}

// IsDomainBlocked reports whether d is presently over any applicable limit.
func (s *Store) IsDomainBlocked(d string, ref time.Time) (bool, error) {
	_, blocked, err := s.BlockedBy(d, ref)
	return blocked, err
}

// RecordBlockEvent persists that a domain was blocked by a limit.
func (s *Store) RecordBlockEvent(d string, limitID int64, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO block_events (domain, limit_id, blocked_at)
		VALUES (?, ?, ?)`,
		d, limitID, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record block event: %w", err)
	}
	return nil
}

// BlockEvents returns the most recent block events, newest first.
func (s *Store) BlockEvents(limit int) ([]BlockEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, domain, limit_id, blocked_at
		FROM block_events
		ORDER BY blocked_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query block events: %w", err)
	}
	defer rows.Close()

	var events []BlockEvent
	for rows.Next() {
		var e BlockEvent
		var ms int64
		if err := rows.Scan(&e.ID, &e.Domain, &e.LimitID, &ms); err != nil {
			return nil, fmt.Errorf("scan block event: %w", err)
		}
		e.BlockedAt = time.UnixMilli(ms)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate block events: %w", err)
	}
	return events, nil
}

// UsageSummary returns per-domain totals for the timeframe ending at ref,
// highest usage first.
func (s *Store) UsageSummary(tf Timeframe, ref time.Time) ([]DomainUsage, error) {
	start := timeframeStart(tf, ref)
	end := DateKey(ref)

	rows, err := s.db.Query(`
		SELECT domain, SUM(seconds) AS total
		FROM usage_records
		WHERE date_key >= ? AND date_key <= ?
		GROUP BY domain
		ORDER BY total DESC`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	var summary []DomainUsage
	for rows.Next() {
		var u DomainUsage
		if err := rows.Scan(&u.Domain, &u.Seconds); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		summary = append(summary, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage summary: %w", err)
	}
	return summary, nil
}

// Preference returns the raw preference value, or "" if unset.
func (s *Store) Preference(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get preference: %w", err)
	}
	return value, nil
}

// SetPreference stores a preference value.
func (s *Store) SetPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// ImmediateBlocking reports whether over-limit tabs are redirected
// immediately. Defaults to true when unset.
func (s *Store) ImmediateBlocking() (bool, error) {
	v, err := s.Preference(PrefImmediateBlocking)
	if err != nil {
		return true, err
	}
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true, fmt.Errorf("parse %s: %w", PrefImmediateBlocking, err)
	}
	return b, nil
}

// SnoozeUntil returns the persisted enforcement snooze deadline.
// Zero time means no snooze.
func (s *Store) SnoozeUntil() (time.Time, error) {
	v, err := s.Preference(PrefBlockSnoozeUntil)
	if err != nil {
		return time.Time{}, err
	}
	if v == "" || v == "0" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", PrefBlockSnoozeUntil, err)
	}
	return time.UnixMilli(ms), nil
}

// SetSnoozeUntil persists the enforcement snooze deadline.
func (s *Store) SetSnoozeUntil(t time.Time) error {
	return s.SetPreference(PrefBlockSnoozeUntil, strconv.FormatInt(t.UnixMilli(), 10))
}

// ClearSnooze lifts any active snooze.
func (s *Store) ClearSnooze() error {
	return s.SetPreference(PrefBlockSnoozeUntil, "0")
}
