package vector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/hyperjump/ragsync/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PGVectorIndex keeps vectors in a Postgres table using the pgvector extension.
// Every mutation is durable when it returns, so Save and Load are no-ops.
type PGVectorIndex struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
	logger     *zap.Logger

	mu   sync.RWMutex
	size int
}

// NewPGVectorIndex connects to dsn and creates table (and the vector extension) if needed.
// An existing table with a different vector width is a dimension mismatch.
func NewPGVectorIndex(ctx context.Context, dsn, table string, dimensions int, logger *zap.Logger) (*PGVectorIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", config.ErrInvalid, dimensions)
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid pgvector table name %q", config.ErrInvalid, table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	idx := &PGVectorIndex{pool: pool, table: table, dimensions: dimensions, logger: logger}
	if err := idx.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PGVectorIndex) ident() string {
	return pgx.Identifier{p.table}.Sanitize()
}

func (p *PGVectorIndex) init(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGINT PRIMARY KEY,
		embedding vector(%d) NOT NULL
	)`, p.ident(), p.dimensions)
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create vector table: %w", err)
	}

	var width int
	err := p.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = $1::regclass AND attname = 'embedding'`,
		p.ident(),
	).Scan(&width)
	if err != nil {
		return fmt.Errorf("read vector width: %w", err)
	}
	if width != p.dimensions {
		return fmt.Errorf("%w: table %s has %d, index expects %d", ErrDimensionMismatch, p.table, width, p.dimensions)
	}
	return p.refreshSize(ctx)
}

func (p *PGVectorIndex) refreshSize(ctx context.Context) error {
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.ident())).Scan(&n); err != nil {
		return fmt.Errorf("count vectors: %w", err)
	}
	p.mu.Lock()
	p.size = n
	p.mu.Unlock()
	return nil
}

// Type returns the index type identifier.
func (p *PGVectorIndex) Type() string { return string(IndexTypePGVector) }

// Dimensions returns the vector width.
func (p *PGVectorIndex) Dimensions() int { return p.dimensions }

// Add upserts vectors in one transaction.
func (p *PGVectorIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if err := checkBatch(ids, vectors, p.dimensions); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add: %w", err)
	}
	defer tx.Rollback(ctx)

	upsert := fmt.Sprintf(`INSERT INTO %s (id, embedding) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding`, p.ident())
	batch := &pgx.Batch{}
	for i, id := range ids {
		batch.Queue(upsert, id, pgvector.NewVector(vectors[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert vectors: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit add: %w", err)
	}
	return p.refreshSize(ctx)
}

// Remove deletes vectors by id.
func (p *PGVectorIndex) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.ident()), ids); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return p.refreshSize(ctx)
}

// Search orders by squared L2 distance using the pgvector <-> operator.
func (p *PGVectorIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if err := checkQuery(query, p.dimensions); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, embedding <-> $1 AS distance FROM %s ORDER BY embedding <-> $1 LIMIT $2`, p.ident()),
		pgvector.NewVector(query), k,
	)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()
	var results []Result
	for rows.Next() {
		var id int64
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, err
		}
		d := dist * dist
		results = append(results, Result{ID: id, Distance: d, Score: distanceToScore(d)})
	}
	return results, rows.Err()
}

// Save is a no-op; rows are durable once a mutation returns.
func (p *PGVectorIndex) Save(path string) error { return nil }

// Load is a no-op; the table is the index.
func (p *PGVectorIndex) Load(path string) error { return nil }

// Size returns the row count after the last mutation.
func (p *PGVectorIndex) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// Close closes the connection pool.
func (p *PGVectorIndex) Close() error {
	if p.pool == nil {
		return errors.New("pgvector index not open")
	}
	p.pool.Close()
	p.pool = nil
	return nil
}
