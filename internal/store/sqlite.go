package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const reapInterval = time.Minute

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	log  *zap.Logger
	stop chan struct{}
}

// NewSQLiteStore opens the database, runs migrations, and starts the
// background reaper that deletes expired rows.
func NewSQLiteStore(dsn string, log *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// In-memory databases live per-connection; keep a single one.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, log: log, stop: make(chan struct{})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	go s.reapLoop()
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			phone_hash TEXT NOT NULL,
			transcript TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_expires ON conversations(expires_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Save upserts the record for a session.
func (s *SQLiteStore) Save(ctx context.Context, rec *domain.ConversationRecord) error {
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("store: marshal transcript: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, phone_hash, transcript, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			phone_hash = excluded.phone_hash,
			transcript = excluded.transcript,
			expires_at = excluded.expires_at`,
		rec.SessionID, rec.PhoneHash, string(transcript), rec.CreatedAt.Unix(), rec.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("store: save record: %w", err)
	}
	return nil
}

// Get returns the live record for a session. Expired rows behave as absent
// even before the reaper removes them.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*domain.ConversationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, phone_hash, transcript, created_at, expires_at
		 FROM conversations WHERE session_id = ? AND expires_at > ?`,
		sessionID, time.Now().Unix())

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get record: %w", err)
	}
	return rec, nil
}

// Delete removes the record for a session. Deleting an absent record is not
// an error.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: delete record: %w", err)
	}
	return nil
}

// ListActive returns all unexpired records, oldest first.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]domain.ConversationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, phone_hash, transcript, created_at, expires_at
		 FROM conversations WHERE expires_at > ? ORDER BY created_at`,
		time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("store: list active: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list active: %w", err)
	}
	return out, nil
}

// Cleanup deletes expired rows and reports how many went away.
func (s *SQLiteStore) Cleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: cleanup: %w", err)
	}
	return n, nil
}

// Close stops the reaper and closes the database.
func (s *SQLiteStore) Close() error {
	close(s.stop)
	return s.db.Close()
}

func (s *SQLiteStore) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := s.Cleanup(ctx)
			cancel()
			if err != nil {
				s.log.Warn("conversation reap failed", zap.Error(err))
			} else if n > 0 {
				s.log.Debug("reaped expired conversations", zap.Int64("count", n))
			}
		}
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*domain.ConversationRecord, error) {
	var rec domain.ConversationRecord
	var transcript string
	var created, expires int64

	if err := row.Scan(&rec.SessionID, &rec.PhoneHash, &transcript, &created, &expires); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(transcript), &rec.Transcript); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(created, 0)
	rec.ExpiresAt = time.Unix(expires, 0)
	return &rec, nil
}

var _ Store = (*SQLiteStore)(nil)
