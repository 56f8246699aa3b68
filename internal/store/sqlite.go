package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/comic-survey/internal/model"
)

// SQLiteStore implements Backend using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS counter_meta (
		ns         TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_counts (
		ns    TEXT NOT NULL REFERENCES counter_meta(ns),
		grp   TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (ns, grp)
	);

	CREATE TABLE IF NOT EXISTS objects (
		key        TEXT PRIMARY KEY,
		content    BLOB NOT NULL,
		version    INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) LoadCounts(ctx context.Context, ns string) (Counts, int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM counter_meta WHERE ns = ?`, ns).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return Counts{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load counter version: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT grp, count FROM group_counts WHERE ns = ?`, ns)
	if err != nil {
		return nil, 0, fmt.Errorf("load counts: %w", err)
	}
	defer rows.Close()

	counts := Counts{}
	for rows.Next() {
		var g string
		var n int
		if err := rows.Scan(&g, &n); err != nil {
			return nil, 0, fmt.Errorf("scan count: %w", err)
		}
		counts[model.Group(g)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return counts, version, nil
}

func (s *SQLiteStore) SaveCounts(ctx context.Context, ns string, counts Counts, version int64) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var res sql.Result
	if version == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO counter_meta (ns, version, updated_at) VALUES (?, 1, ?)`, ns, now)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE counter_meta SET version = version + 1, updated_at = ? WHERE ns = ? AND version = ?`,
			now, ns, version)
	}
	if err != nil {
		return fmt.Errorf("bump counter version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}

	for g, n := range counts {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO group_counts (ns, grp, count) VALUES (?, ?, ?)
			 ON CONFLICT(ns, grp) DO UPDATE SET count = excluded.count`,
			ns, string(g), n)
		if err != nil {
			return fmt.Errorf("write count %s: %w", g, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Fetch(ctx context.Context, key string) (*Object, error) {
	obj := &Object{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT content, version FROM objects WHERE key = ?`, key).Scan(&obj.Content, &obj.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	return obj, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, content []byte, version int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var res sql.Result
	var err error
	if version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO objects (key, content, version, updated_at) VALUES (?, ?, 1, ?)`,
			key, content, now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE objects SET content = ?, version = version + 1, updated_at = ? WHERE key = ? AND version = ?`,
			content, now, key, version)
	}
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrVersionConflict
	}
	return version + 1, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
