package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteStore is a Store backed by a single-table SQLite database.
// All writes are serialized by an internal mutex; the database itself runs
// in WAL mode with a single writer connection.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenDB opens (or creates) a SQLite database at path with the recommended
// pragmas: WAL journal mode, synchronous=NORMAL, busy_timeout=5000.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}

	return db, nil
}

// NewSQLiteStore wraps an opened, migrated database. Callers run MigrateDB
// before constructing the store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (s *SQLiteStore) SetClock(now func() time.Time) { s.now = now }

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at_ns FROM kv_state WHERE key = ?", key)
	var value string
	var expiresNs int64
	if err := row.Scan(&value, &expiresNs); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	if expiresNs != 0 && expiresNs < s.now().UnixNano() {
		return "", false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	return s.setWithDeadline(ctx, key, value, 0)
}

func (s *SQLiteStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	var deadline int64
	if ttl > 0 {
		deadline = s.now().Add(ttl).UnixNano()
	}
	return s.setWithDeadline(ctx, key, value, deadline)
}

func (s *SQLiteStore) setWithDeadline(ctx context.Context, key, value string, expiresNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value, expires_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value         = excluded.value,
			expires_at_ns = excluded.expires_at_ns,
			updated_at_ns = excluded.updated_at_ns
	`, key, value, expiresNs, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowNs := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("incr %q: begin: %w", key, err)
	}
	defer tx.Rollback()

	var current int64
	var expiresNs int64
	row := tx.QueryRowContext(ctx,
		"SELECT value, expires_at_ns FROM kv_state WHERE key = ?", key)
	var raw string
	switch err := row.Scan(&raw, &expiresNs); err {
	case nil:
		if expiresNs == 0 || expiresNs >= nowNs {
			current, _ = strconv.ParseInt(raw, 10, 64)
		} else {
			expiresNs = 0 // expired counter restarts
		}
	case sql.ErrNoRows:
		// counts from zero
	default:
		return 0, fmt.Errorf("incr %q: read: %w", key, err)
	}

	next := current + 1
	if ttl > 0 {
		expiresNs = nowNs + int64(ttl)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv_state (key, value, expires_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value         = excluded.value,
			expires_at_ns = excluded.expires_at_ns,
			updated_at_ns = excluded.updated_at_ns
	`, key, strconv.FormatInt(next, 10), expiresNs, nowNs)
	if err != nil {
		return 0, fmt.Errorf("incr %q: write: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("incr %q: commit: %w", key, err)
	}
	return next, nil
}

// PurgeExpired deletes all rows whose expiry deadline has passed.
// Returns the number of rows removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM kv_state WHERE expires_at_ns != 0 AND expires_at_ns < ?",
		s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
