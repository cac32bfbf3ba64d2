package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/ragsync/internal/models"
	"go.uber.org/zap"
)

// lookupBatch bounds the number of ids bound into one IN clause.
const lookupBatch = 500

// SQLiteStore keeps the generation in a SQLite database and replaces it in one transaction.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: o.logger}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		seq INTEGER PRIMARY KEY,
		id INTEGER NOT NULL,
		hash TEXT NOT NULL,
		chunk TEXT NOT NULL,
		source TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_id ON chunks(id);

	CREATE TABLE IF NOT EXISTS generation_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// LoadPrevious returns the committed records in commit order.
func (s *SQLiteStore) LoadPrevious(ctx context.Context) ([]models.ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, hash, chunk, source FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation: %w", err)
	}
	defer rows.Close()

	records := make([]models.ChunkRecord, 0)
	for rows.Next() {
		var rec models.ChunkRecord
		if err := rows.Scan(&rec.ID, &rec.Hash, &rec.Text, &rec.Source); err != nil {
			s.logger.Warn("skipping unreadable generation row", zap.Error(err))
			continue
		}
		if rec.Hash == "" {
			s.logger.Warn("skipping generation row without hash", zap.Int64("id", rec.ID))
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read generation: %w", err)
	}
	return records, nil
}

// Commit replaces the generation in a single transaction.
func (s *SQLiteStore) Commit(ctx context.Context, records []models.ChunkRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("failed to clear generation: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (seq, id, hash, chunk, source) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, i, rec.ID, rec.Hash, rec.Text, rec.Source); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", rec.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO generation_meta (key, value) VALUES ('committed_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to record commit time: %w", err)
	}
	return tx.Commit()
}

// CommittedAt returns the time of the last commit, or the zero time if none.
func (s *SQLiteStore) CommittedAt(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM generation_meta WHERE key = 'committed_at'`).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, value)
}

// Lookup returns the committed records for ids.
func (s *SQLiteStore) Lookup(ctx context.Context, ids []int64) (map[int64]models.ChunkRecord, error) {
	out := make(map[int64]models.ChunkRecord, len(ids))
	for start := 0; start < len(ids); start += lookupBatch {
		end := start + lookupBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, hash, chunk, source FROM chunks WHERE id IN (`+placeholders+`) ORDER BY seq`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up records: %w", err)
		}
		for rows.Next() {
			var rec models.ChunkRecord
			if err := rows.Scan(&rec.ID, &rec.Hash, &rec.Text, &rec.Source); err != nil {
				rows.Close()
				return nil, err
			}
			if _, dup := out[rec.ID]; !dup {
				out[rec.ID] = rec
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
