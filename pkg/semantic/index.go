package semantic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/hmennen90/open-entity-sub000/pkg/embeddings"
)

// Index mirrors memory embeddings into PostgreSQL/pgvector so that large
// brains can be searched with an HNSW index instead of a full scan.
// SQLite stays the source of truth.
type Index struct {
	pool *pgxpool.Pool
	dims int
}

// IndexHit holds a vector similarity search result.
type IndexHit struct {
	MemoryID int64
	Distance float64 // cosine distance (lower = more similar)
}

// NewIndex connects to PostgreSQL and verifies the connection.
func NewIndex(ctx context.Context, pgURL string, dims int) (*Index, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("pgvector index needs a positive dimension, got %d", dims)
	}
	config, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}

	// Register pgvector types on each new connection
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Index{pool: pool, dims: dims}, nil
}

// Init creates the pgvector extension, table, and HNSW index if missing.
func (s *Index) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS memory_embeddings (
			memory_id    BIGINT PRIMARY KEY,
			embedding    vector(%d) NOT NULL,
			content_hash TEXT NOT NULL,
			embedded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, s.dims))
	if err != nil {
		return fmt.Errorf("create embeddings table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_embeddings_hnsw
		ON memory_embeddings
		USING hnsw (embedding vector_cosine_ops)
		WITH (m = 16, ef_construction = 64)
	`)
	if err != nil {
		return fmt.Errorf("create HNSW index: %w", err)
	}

	slog.Info("pgvector index initialized", "dims", s.dims)
	return nil
}

// Close closes the database connection pool.
func (s *Index) Close() {
	s.pool.Close()
}

const upsertEmbedding = `
	INSERT INTO memory_embeddings (memory_id, embedding, content_hash, embedded_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (memory_id) DO UPDATE
	SET embedding = EXCLUDED.embedding,
		content_hash = EXCLUDED.content_hash,
		embedded_at = now()
`

// Insert stores or updates an embedding for a memory.
func (s *Index) Insert(ctx context.Context, memoryID int64, vec embeddings.Vector, contentHash string) error {
	if len(vec) != s.dims {
		return fmt.Errorf("insert embedding %d: %w: %d vs %d", memoryID, embeddings.ErrDimensionMismatch, len(vec), s.dims)
	}
	if _, err := s.pool.Exec(ctx, upsertEmbedding, memoryID, pgvector.NewVector(vec), contentHash); err != nil {
		return fmt.Errorf("insert embedding %d: %w", memoryID, err)
	}
	return nil
}

// InsertBatch stores embeddings for multiple memories in a single transaction.
func (s *Index) InsertBatch(ctx context.Context, memoryIDs []int64, vecs []embeddings.Vector, contentHashes []string) error {
	if len(memoryIDs) != len(vecs) || len(memoryIDs) != len(contentHashes) {
		return fmt.Errorf("mismatched batch sizes: ids=%d embeddings=%d hashes=%d",
			len(memoryIDs), len(vecs), len(contentHashes))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range memoryIDs {
		if len(vecs[i]) != s.dims {
			slog.Debug("pgvector skip: dimension mismatch", "id", memoryIDs[i], "dims", len(vecs[i]))
			continue
		}
		if _, err := tx.Exec(ctx, upsertEmbedding, memoryIDs[i], pgvector.NewVector(vecs[i]), contentHashes[i]); err != nil {
			return fmt.Errorf("insert embedding %d: %w", memoryIDs[i], err)
		}
	}

	return tx.Commit(ctx)
}

// Search returns the top-K most similar memories by cosine distance.
func (s *Index) Search(ctx context.Context, query embeddings.Vector, limit int) ([]IndexHit, error) {
	vec := pgvector.NewVector(query)
	rows, err := s.pool.Query(ctx, `
		SELECT memory_id, embedding <=> $1 AS distance
		FROM memory_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []IndexHit
	for rows.Next() {
		var r IndexHit
		if err := rows.Scan(&r.MemoryID, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetEmbedded returns all mirrored memory IDs with their content hashes.
func (s *Index) GetEmbedded(ctx context.Context) (map[int64]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT memory_id, content_hash FROM memory_embeddings")
	if err != nil {
		return nil, fmt.Errorf("get embedded: %w", err)
	}
	defer rows.Close()

	embedded := make(map[int64]string)
	for rows.Next() {
		var id int64
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("scan embedded: %w", err)
		}
		embedded[id] = hash
	}
	return embedded, rows.Err()
}

// Delete removes the mirrored embeddings of the given memories.
func (s *Index) Delete(ctx context.Context, memoryIDs ...int64) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, "DELETE FROM memory_embeddings WHERE memory_id = ANY($1)", memoryIDs)
	return err
}

// Stats returns the number of mirrored embeddings.
func (s *Index) Stats(ctx context.Context) (count int, err error) {
	err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM memory_embeddings").Scan(&count)
	return
}
