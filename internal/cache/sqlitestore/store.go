// Package sqlitestore provides a SQLite-backed cache.Storage for single-node
// deployments that want one file instead of a directory tree.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/khuddam/sitecache/internal/cache"
)

//go:embed schema.sql
var schema string

// Store persists partitions in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 单连接串行化写入，避免 SQLITE_BUSY。
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Open(ctx context.Context, name string) (cache.Partition, error) {
	if err := cache.ValidatePartitionName(name); err != nil {
		return nil, err
	}
	if err := s.register(ctx, s.sqlDB, name); err != nil {
		return nil, err
	}
	return &partition{store: s, name: name}, nil
}

func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	if err := cache.ValidatePartitionName(name); err != nil {
		return false, err
	}
	var id int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id FROM partitions WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if err := cache.ValidatePartitionName(name); err != nil {
		return false, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE partition = ?`, name); err != nil {
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete partition %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM partitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) register(ctx context.Context, db execer, name string) error {
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO partitions (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("register partition %s: %w", name, err)
	}
	return nil
}

type partition struct {
	store *Store
	name  string
}

func (p *partition) Name() string {
	return p.name
}

func (p *partition) Match(ctx context.Context, key cache.Key) (*cache.Response, error) {
	var (
		status int
		raw    string
		body   []byte
	)
	err := p.store.sqlDB.QueryRowContext(ctx,
		`SELECT status, header, body FROM entries WHERE partition = ? AND cache_key = ?`,
		p.name, string(key),
	).Scan(&status, &raw, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &header); err != nil {
			return nil, fmt.Errorf("decode header of %s: %w", key, err)
		}
	}
	return &cache.Response{Status: status, Header: header, Body: body}, nil
}

// Put 先删后插，新行获得更大的 id，从而移动到枚举末尾。
func (p *partition) Put(ctx context.Context, key cache.Key, resp *cache.Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return err
	}

	tx, err := p.store.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := p.store.register(ctx, tx, p.name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE partition = ? AND cache_key = ?`, p.name, string(key),
	); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (partition, cache_key, status, header, body) VALUES (?, ?, ?, ?, ?)`,
		p.name, string(key), resp.Status, string(header), resp.Body,
	); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return tx.Commit()
}

func (p *partition) Delete(ctx context.Context, key cache.Key) (bool, error) {
	res, err := p.store.sqlDB.ExecContext(ctx,
		`DELETE FROM entries WHERE partition = ? AND cache_key = ?`, p.name, string(key),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (p *partition) Keys(ctx context.Context) ([]cache.Key, error) {
	rows, err := p.store.sqlDB.QueryContext(ctx,
		`SELECT cache_key FROM entries WHERE partition = ? ORDER BY id`, p.name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []cache.Key
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, cache.Key(key))
	}
	return keys, rows.Err()
}
