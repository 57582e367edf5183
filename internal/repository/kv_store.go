package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	domrepo "TradeDesk/internal/domain/repository"
	"TradeDesk/pkg/cache"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// CacheKVStore keeps string values in a cache.Service without expiry. Backed
// by the memory cache it lasts for the process; backed by Redis it is shared.
type CacheKVStore struct {
	svc    cache.Service
	prefix string
}

func NewCacheKVStore(svc cache.Service, prefix string) *CacheKVStore {
	return &CacheKVStore{svc: svc, prefix: prefix}
}

func (s *CacheKVStore) key(k string) string {
	return cache.GenerateKey(s.prefix, k)
}

func (s *CacheKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	if err := s.svc.Get(ctx, s.key(key), &v); err != nil {
		if cache.IsMiss(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *CacheKVStore) Put(ctx context.Context, key, value string) error {
	if err := s.svc.Set(ctx, s.key(key), value, 0); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (s *CacheKVStore) Delete(ctx context.Context, key string) error {
	if err := s.svc.Delete(ctx, s.key(key)); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// SQLiteKVStore keeps values in a single-table SQLite file.
type SQLiteKVStore struct {
	db *sql.DB
}

// OpenSQLiteKVStore opens (or creates) the database at path and its table.
func OpenSQLiteKVStore(ctx context.Context, path string) (*SQLiteKVStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create kv dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open kv: %w", err)
	}
	db.SetMaxOpenConns(1)
	const ddl = `CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init kv: %w", err)
	}
	return &SQLiteKVStore{db: db}, nil
}

func (s *SQLiteKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteKVStore) Put(ctx context.Context, key, value string) error {
	const q = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKVStore) Close() error {
	return s.db.Close()
}

var (
	_ domrepo.KVStore = (*CacheKVStore)(nil)
	_ domrepo.KVStore = (*SQLiteKVStore)(nil)
)
