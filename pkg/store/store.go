// Package store keeps sessions and chat messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/csremote/broker/pkg/chat"
	osx "github.com/csremote/broker/pkg/os"
	"github.com/csremote/broker/pkg/session"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrSessionNotFound = session.ErrNotFound

type Store struct {
	db   *sql.DB
	lock *osx.Flock
	now  func() time.Time
}

// Open opens the database file, locks it for this process and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	path = filepath.Clean(path)
	if err := osx.CheckCreateDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	lock, err := osx.NewFileLock(path + ".lock")
	if err != nil {
		return nil, err
	}
	if err := lock.TryLock(); err != nil {
		return nil, fmt.Errorf("lock %v: %w", path, err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := New(db)
	s.lock = lock
	return s, nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store { return &Store{db: db, now: time.Now} }

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return err
}

// SessionExists reports whether the session was started and not ended yet.
func (s *Store) SessionExists(ctx context.Context, id session.ID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE id = ? AND ended_at IS NULL`, int64(id)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("session exists: %w", err)
	}
	return n > 0, nil
}

// SessionParticipants returns the legs of a running session, ended
// sessions are not found just like in SessionExists.
func (s *Store) SessionParticipants(ctx context.Context, id session.ID) (session.Participants, error) {
	var p session.Participants
	err := s.db.QueryRowContext(ctx,
		`SELECT analyst_id, client_id FROM sessions WHERE id = ? AND ended_at IS NULL`, int64(id)).Scan(&p.Analyst, &p.Client)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrSessionNotFound
	}
	if err != nil {
		return p, fmt.Errorf("session participants: %w", err)
	}
	return p, nil
}

// PersistChatMessage stores the message and returns its id and timestamp.
func (s *Store) PersistChatMessage(ctx context.Context, id session.ID, identity session.Identity, text string) (chat.Receipt, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, identity, text, created_at) VALUES (?, ?, ?, ?)`,
		int64(id), int64(identity), text, now.UnixMilli())
	if err != nil {
		return chat.Receipt{}, fmt.Errorf("persist chat message: %w", err)
	}
	mid, err := res.LastInsertId()
	if err != nil {
		return chat.Receipt{}, fmt.Errorf("persist chat message: %w", err)
	}
	return chat.Receipt{ID: mid, Timestamp: now}, nil
}

// StartSession opens a session between the two identities.
func (s *Store) StartSession(ctx context.Context, analyst, client session.Identity, code string) (session.ID, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (analyst_id, client_id, access_code, started_at) VALUES (?, ?, ?, ?)`,
		int64(analyst), int64(client), code, s.now().UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	return session.ID(id), nil
}

// EndSession closes an open session, ErrSessionNotFound if there is none.
func (s *Store) EndSession(ctx context.Context, id session.ID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		s.now().UTC().UnixMilli(), int64(id))
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ChatHistory returns up to limit latest messages of the session, oldest first.
func (s *Store) ChatHistory(ctx context.Context, id session.ID, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, identity, text, created_at FROM (
	SELECT id, identity, text, created_at FROM chat_messages
	WHERE session_id = ? ORDER BY id DESC LIMIT ?
) ORDER BY id`, int64(id), limit)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			m  chat.Message
			ms int64
		)
		if err := rows.Scan(&m.ID, &m.Identity, &m.Text, &ms); err != nil {
			return nil, fmt.Errorf("chat history: %w", err)
		}
		m.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	return out, nil
}
