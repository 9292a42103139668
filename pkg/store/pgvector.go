package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/docrag/internal/models"
)

type PGOptions struct {
	ConnString string
	TableName  string
	BatchSize  int
}

// pgDescriptor is what index.bin holds for a pgvector index.
type pgDescriptor struct {
	Backend   string `json:"backend"`
	Table     string `json:"table"`
	Dimension int    `json:"dimension"`
	Rows      int    `json:"rows"`
}

// ErrTableInUse is returned when a new index is pointed at a table that
// already has rows. Each index directory needs its own table.
var ErrTableInUse = errors.New("pgvector table belongs to another index")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PGVectorIndex keeps rows in a PostgreSQL table with a pgvector column.
// Added rows are buffered and inserted in one transaction by Flush.
type PGVectorIndex struct {
	opts      PGOptions
	dim       int
	pool      *pgxpool.Pool
	committed int
	pending   [][]float32
}

// OpenPGVectorIndex connects and creates the table if needed.
func OpenPGVectorIndex(ctx context.Context, dim int, opts PGOptions) (*PGVectorIndex, error) {
	if opts.TableName == "" {
		opts.TableName = "docrag_vectors"
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 100
	}
	if !tableNamePattern.MatchString(opts.TableName) {
		return nil, fmt.Errorf("invalid table name: %q", opts.TableName)
	}

	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PGVectorIndex{
		opts: opts,
		dim:  dim,
		pool: pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func openPGVectorFromDescriptor(ctx context.Context, desc pgDescriptor, opts PGOptions) (*PGVectorIndex, error) {
	if desc.Backend != KindPGVector {
		return nil, fmt.Errorf("descriptor backend is %q", desc.Backend)
	}
	opts.TableName = desc.Table
	vs, err := OpenPGVectorIndex(ctx, desc.Dimension, opts)
	if err != nil {
		return nil, err
	}
	if vs.committed != desc.Rows {
		// Rows committed by a persist that did not finish are dropped.
		if err := vs.Truncate(ctx, min(vs.committed, desc.Rows)); err != nil {
			vs.Close()
			return nil, err
		}
	}
	return vs, nil
}

func (vs *PGVectorIndex) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// Create vectors table if it doesn't exist
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			row_id BIGINT PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, vs.opts.TableName, vs.dim)

	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	var count, next int
	query := fmt.Sprintf("SELECT count(*), COALESCE(max(row_id) + 1, 0) FROM %s", vs.opts.TableName)
	if err := vs.pool.QueryRow(ctx, query).Scan(&count, &next); err != nil {
		return fmt.Errorf("failed to count rows: %w", err)
	}
	if count != next {
		return fmt.Errorf("table %s has %d rows but row ids up to %d", vs.opts.TableName, count, next)
	}
	vs.committed = count
	return nil
}

func (vs *PGVectorIndex) Kind() string   { return KindPGVector }
func (vs *PGVectorIndex) Dimension() int { return vs.dim }
func (vs *PGVectorIndex) Len() int       { return vs.committed + len(vs.pending) }

func (vs *PGVectorIndex) Add(_ context.Context, vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != vs.dim {
			return fmt.Errorf("pgvector: vector has %d dims, index has %d", len(v), vs.dim)
		}
		vs.pending = append(vs.pending, append([]float32(nil), v...))
	}
	return nil
}

// Flush inserts the pending rows in one transaction.
func (vs *PGVectorIndex) Flush(ctx context.Context) error {
	if len(vs.pending) == 0 {
		return nil
	}

	// Begin transaction
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`INSERT INTO %s (row_id, embedding) VALUES ($1, $2)`, vs.opts.TableName)

	// Insert rows in batches
	for start := 0; start < len(vs.pending); start += vs.opts.BatchSize {
		end := min(start+vs.opts.BatchSize, len(vs.pending))
		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			batch.Queue(stmt, vs.committed+i, pgvector.NewVector(vs.pending[i]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert vectors: %w", err)
		}
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.committed += len(vs.pending)
	vs.pending = nil
	return nil
}

// Search only sees committed rows.
func (vs *PGVectorIndex) Search(ctx context.Context, query []float32, k int) ([]models.Neighbor, error) {
	if len(query) != vs.dim {
		return nil, fmt.Errorf("pgvector: query has %d dims, index has %d", len(query), vs.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	sql := fmt.Sprintf(`
		SELECT row_id, embedding <-> $1 AS distance
		FROM %s
		ORDER BY embedding <-> $1
		LIMIT $2`,
		vs.opts.TableName)

	rows, err := vs.pool.Query(ctx, sql, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var out []models.Neighbor
	for rows.Next() {
		var row int64
		var distance float64
		if err := rows.Scan(&row, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, models.Neighbor{Row: row, Distance: float32(distance)})
	}
	return out, rows.Err()
}

func (vs *PGVectorIndex) Truncate(ctx context.Context, n int) error {
	if n < 0 || n > vs.Len() {
		return fmt.Errorf("pgvector: cannot truncate %d rows to %d", vs.Len(), n)
	}
	if n >= vs.committed {
		vs.pending = vs.pending[:n-vs.committed]
		return nil
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE row_id >= $1", vs.opts.TableName)
	if _, err := vs.pool.Exec(ctx, sql, n); err != nil {
		return fmt.Errorf("failed to truncate vectors: %w", err)
	}
	vs.committed = n
	vs.pending = nil
	return nil
}

// Encode writes the descriptor. Flush must have run first.
func (vs *PGVectorIndex) Encode(w io.Writer) error {
	if len(vs.pending) > 0 {
		return fmt.Errorf("pgvector: %d rows not flushed", len(vs.pending))
	}
	return json.NewEncoder(w).Encode(pgDescriptor{
		Backend:   KindPGVector,
		Table:     vs.opts.TableName,
		Dimension: vs.dim,
		Rows:      vs.committed,
	})
}

func (vs *PGVectorIndex) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}
