// Package sqlite persists call records and serves read-only user profiles.
// Writes are append-only; the screening core never updates a record after
// the session that produced it closes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// Store is a SQLite implementation of AuditStore and ProfileStore.
type Store struct {
	db              *sqlx.DB
	checkoutTimeout time.Duration
}

var _ domain.AuditStore = (*Store)(nil)
var _ domain.ProfileStore = (*Store)(nil)

// Config holds database connection configuration.
type Config struct {
	DSN string

	// MaxConns caps the shared connection pool. Checkouts that wait
	// longer than CheckoutTimeout surface as resource_exhausted.
	MaxConns        int
	CheckoutTimeout time.Duration
}

// New opens the database, applies pragmas, and initializes the schema.
func New(cfg Config) (*Store, error) {
	db, err := sqlx.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.CheckoutTimeout <= 0 {
		cfg.CheckoutTimeout = 5 * time.Second
	}

	store := &Store{db: db, checkoutTimeout: cfg.CheckoutTimeout}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS call_sessions (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			caller_number TEXT NOT NULL,
			assistant_number TEXT NOT NULL,
			owner_user_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			transcript TEXT,
			decisions TEXT,
			frames_dropped INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			assistant_number TEXT NOT NULL UNIQUE,
			transfer_number TEXT NOT NULL,
			scheduling_link TEXT,
			timezone TEXT,
			calendar_connected INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_sessions_call ON call_sessions(call_id)`,
		`CREATE INDEX IF NOT EXISTS idx_call_sessions_owner ON call_sessions(owner_user_id, ended_at)`,
		`CREATE INDEX IF NOT EXISTS idx_call_sessions_outcome ON call_sessions(outcome)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// RecordCall appends the terminal record for a closed session.
func (s *Store) RecordCall(ctx context.Context, rec *domain.CallRecord) error {
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	decisions, err := json.Marshal(rec.Decisions)
	if err != nil {
		return fmt.Errorf("failed to marshal decisions: %w", err)
	}

	conn, err := s.checkout(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	query := `INSERT INTO call_sessions (id, call_id, caller_number, assistant_number, owner_user_id,
	          outcome, transcript, decisions, frames_dropped, started_at, ended_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = conn.ExecContext(ctx, query,
		rec.ID, rec.CallID, rec.CallerNumber, rec.AssistantNumber, rec.OwnerUserID,
		string(rec.Outcome), string(transcript), string(decisions), rec.FramesDropped,
		rec.StartedAt, rec.EndedAt)

	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}

	return nil
}

// CallsByOwner returns the most recent call records for a user, newest first.
func (s *Store) CallsByOwner(ctx context.Context, ownerUserID string, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, call_id, caller_number, assistant_number, owner_user_id,
	          outcome, transcript, decisions, frames_dropped, started_at, ended_at
	          FROM call_sessions WHERE owner_user_id = ?
	          ORDER BY ended_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, ownerUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call records: %w", err)
	}
	defer rows.Close()

	var records []*domain.CallRecord
	for rows.Next() {
		var rec domain.CallRecord
		var outcome string
		var transcriptJSON, decisionsJSON sql.NullString

		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.CallerNumber, &rec.AssistantNumber,
			&rec.OwnerUserID, &outcome, &transcriptJSON, &decisionsJSON,
			&rec.FramesDropped, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}

		rec.Outcome = domain.Outcome(outcome)
		if transcriptJSON.Valid && transcriptJSON.String != "" {
			if err := json.Unmarshal([]byte(transcriptJSON.String), &rec.Transcript); err != nil {
				return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
			}
		}
		if decisionsJSON.Valid && decisionsJSON.String != "" {
			if err := json.Unmarshal([]byte(decisionsJSON.String), &rec.Decisions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal decisions: %w", err)
			}
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

// ProfileByAssistantNumber resolves the owner of a dialed screening number.
func (s *Store) ProfileByAssistantNumber(ctx context.Context, number string) (*domain.UserProfile, error) {
	query := `SELECT id, full_name, assistant_number, transfer_number, scheduling_link, timezone, calendar_connected
	          FROM users WHERE assistant_number = ?`

	var p domain.UserProfile
	var link, tz sql.NullString

	err := s.db.QueryRowContext(ctx, query, number).Scan(
		&p.ID, &p.FullName, &p.AssistantNumber, &p.TransferNumber, &link, &tz, &p.CalendarConnected)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no user owns assistant number %s", number)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	p.SchedulingLink = link.String
	p.Timezone = tz.String

	return &p, nil
}

// SaveProfile upserts a user profile. Provisioning happens out of band; this
// exists for seeding scripts and tests.
func (s *Store) SaveProfile(ctx context.Context, p *domain.UserProfile) error {
	query := `INSERT INTO users (id, full_name, assistant_number, transfer_number, scheduling_link, timezone, calendar_connected)
	          VALUES (?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	            full_name=excluded.full_name,
	            assistant_number=excluded.assistant_number,
	            transfer_number=excluded.transfer_number,
	            scheduling_link=excluded.scheduling_link,
	            timezone=excluded.timezone,
	            calendar_connected=excluded.calendar_connected`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.FullName, p.AssistantNumber, p.TransferNumber, p.SchedulingLink, p.Timezone, p.CalendarConnected)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}

// checkout takes a pooled connection, bounding the wait. A pool saturated
// past the timeout is a shared-resource failure, not a caller bug.
func (s *Store) checkout(ctx context.Context) (*sql.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.checkoutTimeout)
	defer cancel()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.ErrResourceExhausted("database connection")
		}
		return nil, fmt.Errorf("failed to check out connection: %w", err)
	}
	return conn, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
