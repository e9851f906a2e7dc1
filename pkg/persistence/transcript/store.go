// Package transcript stores finished planning conversations in SQLite so they
// can be listed and reviewed after the process exits.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

// Snapshot is the persisted state of one conversation.
type Snapshot struct {
	ConvID    string
	SessionID string
	Profile   *chat.Profile
	State     chat.State
	LastError string
	History   chat.History
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is a row of List.
type Summary struct {
	ConvID       string
	SessionID    string
	Destination  string
	State        chat.State
	LastError    string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Query filters List. Zero values match everything.
type Query struct {
	Limit       int
	Since       time.Time
	Destination string
}

type Store struct {
	db *sql.DB
}

// DSNForFile returns a sqlite DSN with WAL and a busy timeout.
func DSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "transcript store: open")
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenFile opens (creating if needed) the database at path.
func OpenFile(path string) (*Store, error) {
	dsn, err := DSNForFile(path)
	if err != nil {
		return nil, err
	}
	return Open(dsn)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
		  conv_id TEXT PRIMARY KEY,
		  session_id TEXT NOT NULL DEFAULT '',
		  destination TEXT NOT NULL DEFAULT '',
		  profile_json TEXT NOT NULL DEFAULT '',
		  state TEXT NOT NULL,
		  last_error TEXT NOT NULL DEFAULT '',
		  message_count INTEGER NOT NULL DEFAULT 0,
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_updated
		  ON sessions(updated_at_ms DESC, conv_id ASC);`,
		`CREATE TABLE IF NOT EXISTS messages (
		  conv_id TEXT NOT NULL REFERENCES sessions(conv_id) ON DELETE CASCADE,
		  idx INTEGER NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL,
		  PRIMARY KEY (conv_id, idx)
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "transcript store: migrate")
		}
	}
	return nil
}

// Save replaces the stored transcript of snap.ConvID. The creation time of an
// existing row is preserved.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if s == nil || s.db == nil {
		return errors.New("transcript store: db is nil")
	}
	convID := strings.TrimSpace(snap.ConvID)
	if convID == "" {
		return errors.New("transcript store: convID is empty")
	}
	now := time.Now()
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = now
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = snap.UpdatedAt
	}

	var profileJSON, destination string
	if snap.Profile != nil {
		b, err := json.Marshal(snap.Profile)
		if err != nil {
			return errors.Wrap(err, "transcript store: marshal profile")
		}
		profileJSON = string(b)
		destination = snap.Profile.Destination
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "transcript store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (
			conv_id, session_id, destination, profile_json, state, last_error,
			message_count, created_at_ms, updated_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conv_id) DO UPDATE SET
			session_id = excluded.session_id,
			destination = excluded.destination,
			profile_json = excluded.profile_json,
			state = excluded.state,
			last_error = excluded.last_error,
			message_count = excluded.message_count,
			updated_at_ms = excluded.updated_at_ms
	`, convID, snap.SessionID, destination, profileJSON, snap.State.String(), snap.LastError,
		len(snap.History), snap.CreatedAt.UnixMilli(), snap.UpdatedAt.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "transcript store: upsert session")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conv_id = ?`, convID); err != nil {
		return errors.Wrap(err, "transcript store: clear messages")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages (conv_id, idx, role, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "transcript store: prepare insert")
	}
	defer func() { _ = stmt.Close() }()
	for i, m := range snap.History {
		if _, err := stmt.ExecContext(ctx, convID, i, string(m.Role), m.Content); err != nil {
			return errors.Wrapf(err, "transcript store: insert message %d", i)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "transcript store: commit")
	}
	return nil
}

// List returns stored conversations, most recently updated first.
func (s *Store) List(ctx context.Context, q Query) ([]Summary, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("transcript store: db is nil")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT conv_id, session_id, destination, state, last_error,
		       message_count, created_at_ms, updated_at_ms
		FROM sessions
	`
	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, `updated_at_ms >= ?`)
		args = append(args, q.Since.UnixMilli())
	}
	if d := strings.TrimSpace(q.Destination); d != "" {
		where = append(where, `destination LIKE ? COLLATE NOCASE`)
		args = append(args, "%"+d+"%")
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at_ms DESC, conv_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "transcript store: list")
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			sum                  Summary
			state                string
			createdMs, updatedMs int64
		)
		if err := rows.Scan(&sum.ConvID, &sum.SessionID, &sum.Destination, &state, &sum.LastError,
			&sum.MessageCount, &createdMs, &updatedMs); err != nil {
			return nil, errors.Wrap(err, "transcript store: scan summary")
		}
		if err := sum.State.UnmarshalText([]byte(state)); err != nil {
			return nil, errors.Wrapf(err, "transcript store: conversation %s", sum.ConvID)
		}
		sum.CreatedAt = time.UnixMilli(createdMs)
		sum.UpdatedAt = time.UnixMilli(updatedMs)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "transcript store: iterate summaries")
	}
	return out, nil
}

// Load returns the stored conversation, or false if it does not exist.
func (s *Store) Load(ctx context.Context, convID string) (Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, false, errors.New("transcript store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return Snapshot{}, false, errors.New("transcript store: convID is empty")
	}

	var (
		snap                 Snapshot
		profileJSON, state   string
		createdMs, updatedMs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT conv_id, session_id, profile_json, state, last_error, created_at_ms, updated_at_ms
		FROM sessions WHERE conv_id = ?
	`, convID).Scan(&snap.ConvID, &snap.SessionID, &profileJSON, &state, &snap.LastError, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "transcript store: load session")
	}
	if err := snap.State.UnmarshalText([]byte(state)); err != nil {
		return Snapshot{}, false, errors.Wrapf(err, "transcript store: conversation %s", convID)
	}
	if profileJSON != "" {
		var p chat.Profile
		if err := json.Unmarshal([]byte(profileJSON), &p); err != nil {
			return Snapshot{}, false, errors.Wrap(err, "transcript store: decode profile")
		}
		snap.Profile = &p
	}
	snap.CreatedAt = time.UnixMilli(createdMs)
	snap.UpdatedAt = time.UnixMilli(updatedMs)

	rows, err := s.db.QueryContext(ctx, `SELECT role, content FROM messages WHERE conv_id = ? ORDER BY idx ASC`, convID)
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "transcript store: load messages")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m chat.Message
		var role string
		if err := rows.Scan(&role, &m.Content); err != nil {
			return Snapshot{}, false, errors.Wrap(err, "transcript store: scan message")
		}
		m.Role = chat.Role(role)
		snap.History = append(snap.History, m)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, errors.Wrap(err, "transcript store: iterate messages")
	}
	return snap, true, nil
}
