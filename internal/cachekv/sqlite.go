package cachekv

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"riptide/internal/logging"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the "distributed" backend named in spec.md §4.1: a single
// shared SQLite table, accessed through modernc.org/sqlite's pure-Go driver
// so the cache backend carries no cgo requirement, adapted from the
// teacher's internal/store sql.DB + mutex + prepared-statement idiom.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex

	hits   int64
	misses int64
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures the cache_entries table and its indexes exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryCache, "NewSQLiteStore")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cachekv: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cachekv: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryCache).Debug("cachekv: pragma %q failed: %v", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key         TEXT PRIMARY KEY,
		value       BLOB NOT NULL,
		expires_at  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("cachekv: init schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM cache_entries WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		atomic.AddInt64(&s.misses, 1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cachekv: get %s: %w", key, err)
	}
	if expiresAt != 0 && time.Now().Unix() > expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		atomic.AddInt64(&s.misses, 1)
		return nil, false, nil
	}
	atomic.AddInt64(&s.hits, 1)
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("cachekv: set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("cachekv: delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *SQLiteStore) MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cachekv: mset begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`)
	if err != nil {
		return fmt.Errorf("cachekv: mset prepare: %w", err)
	}
	defer stmt.Close()

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	for k, v := range entries {
		if _, err := stmt.ExecContext(ctx, k, v, expiresAt); err != nil {
			return fmt.Errorf("cachekv: mset %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok, err := s.Get(ctx, k); err != nil {
			return nil, err
		} else if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *SQLiteStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE cache_entries SET expires_at = ? WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		time.Now().Add(ttl).Unix(), key, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("cachekv: expire %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM cache_entries WHERE key = ?`, key).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cachekv: ttl %s: %w", key, err)
	}
	if expiresAt == 0 {
		return 0, true, nil
	}
	remaining := time.Until(time.Unix(expiresAt, 0))
	if remaining < 0 {
		return 0, false, nil
	}
	return remaining, true, nil
}

func (s *SQLiteStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("cachekv: incr begin: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	var expiresAt int64
	err = tx.QueryRowContext(ctx, `SELECT value, expires_at FROM cache_entries WHERE key = ?`, key).Scan(&current, &expiresAt)
	var n int64
	if err == nil && (expiresAt == 0 || time.Now().Unix() <= expiresAt) {
		n = parseInt64(current)
	}
	n += delta

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, 0)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = 0`,
		key, int64Bytes(n))
	if err != nil {
		return 0, fmt.Errorf("cachekv: incr %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("cachekv: incr commit: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteMany(ctx context.Context, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, k := range keys {
		res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, k)
		if err != nil {
			return count, fmt.Errorf("cachekv: delete_many %s: %w", k, err)
		}
		n, _ := res.RowsAffected()
		count += int(n)
	}
	return count, nil
}

func (s *SQLiteStore) ClearPattern(ctx context.Context, glob string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("cachekv: clear_pattern scan: %w", err)
	}
	var matched []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return 0, fmt.Errorf("cachekv: clear_pattern scan row: %w", err)
		}
		if matchGlob(glob, k) {
			matched = append(matched, k)
		}
	}
	rows.Close()

	count := 0
	for _, k := range matched {
		res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, k)
		if err != nil {
			return count, fmt.Errorf("cachekv: clear_pattern delete %s: %w", k, err)
		}
		n, _ := res.RowsAffected()
		count += int(n)
	}
	return count, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	var bytes sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(LENGTH(value)) FROM cache_entries`).Scan(&total, &bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("cachekv: stats: %w", err)
	}
	return Stats{
		TotalKeys:        total,
		MemoryUsageBytes: bytes.Int64,
		Hits:             atomic.LoadInt64(&s.hits),
		Misses:           atomic.LoadInt64(&s.misses),
	}, nil
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
