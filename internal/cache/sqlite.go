package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"voicebridge/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ResultCache on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		message_id  TEXT NOT NULL,
		operation   TEXT NOT NULL,
		language    TEXT NOT NULL DEFAULT '',
		text        TEXT NOT NULL,
		created_at  DATETIME NOT NULL,
		PRIMARY KEY (message_id, operation, language)
	);
	CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Lookup(ctx context.Context, key domain.CacheKey) (domain.CacheRecord, bool, error) {
	var rec domain.CacheRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT text, created_at FROM results WHERE message_id = ? AND operation = ? AND language = ?`,
		key.MessageID, string(key.Operation), key.Language,
	).Scan(&rec.Text, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheRecord{}, false, nil
	}
	if err != nil {
		return domain.CacheRecord{}, false, fmt.Errorf("lookup %s: %w", key, err)
	}
	return rec, true, nil
}

// Store inserts the value unless the key already exists.
func (s *SQLiteStore) Store(ctx context.Context, key domain.CacheKey, text string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO results (message_id, operation, language, text, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key.MessageID, string(key.Operation), key.Language, text, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("cache key already present", "key", key.String())
	}
	return nil
}

// Count returns the number of stored records per operation.
func (s *SQLiteStore) Count(ctx context.Context) (map[domain.Operation]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT operation, COUNT(*) FROM results GROUP BY operation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Operation]int)
	for rows.Next() {
		var op string
		var n int
		if err := rows.Scan(&op, &n); err != nil {
			return nil, err
		}
		counts[domain.Operation(op)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
