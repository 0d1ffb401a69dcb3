package vector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hubenschmidt/go-visearch/core"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PgVectorIndex is a PostgreSQL-based index using the pgvector extension.
type PgVectorIndex struct {
	db            *sql.DB
	dimension     int
	healthTimeout time.Duration
}

// NewPgVectorIndex opens dsn and creates the vector table if needed.
// The dimension parameter fixes the column type, e.g. 512 for CLIP ViT-B/32.
func NewPgVectorIndex(dsn string, dimension int) (*PgVectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("pgvector: dimension must be positive")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	idx := &PgVectorIndex{db: db, dimension: dimension, healthTimeout: DefaultConfig().HealthTimeout}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return idx, nil
}

func (s *PgVectorIndex) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS product_vectors (
			key TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload JSONB DEFAULT '{}',
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_product_vectors_embedding ON product_vectors USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

func (s *PgVectorIndex) Upsert(ctx context.Context, key string, vec []float64, payload map[string]any) error {
	if err := checkDimension("upsert", s.dimension, vec); err != nil {
		return err
	}
	meta, err := json.Marshal(payload)
	if err != nil {
		return core.NewServiceError("index.upsert", core.ErrIndex, fmt.Errorf("marshal payload: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO product_vectors (key, embedding, payload, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, key, formatEmbedding(vec), meta)
	if err != nil {
		return core.WithKey(classifyDB("index.upsert", err), key)
	}
	return nil
}

// Query orders by cosine distance; score is 1 - distance.
func (s *PgVectorIndex) Query(ctx context.Context, vec []float64, limit int) ([]Match, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	if err := checkDimension("query", s.dimension, vec); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, 1 - (embedding <=> $1) AS score
		FROM product_vectors
		ORDER BY embedding <=> $1, key
		LIMIT $2
	`, formatEmbedding(vec), limit)
	if err != nil {
		return nil, classifyDB("index.query", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Key, &m.Score); err != nil {
			return nil, core.NewServiceError("index.query", core.ErrIndex, fmt.Errorf("scan row: %w", err))
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDB("index.query", err)
	}
	return matches, nil
}

func (s *PgVectorIndex) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM product_vectors WHERE key = $1`, key); err != nil {
		return core.WithKey(classifyDB("index.delete", err), key)
	}
	return nil
}

func (s *PgVectorIndex) HealthCheck(ctx context.Context) bool {
	ctx, cancel := healthContext(ctx, s.healthTimeout)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

func (s *PgVectorIndex) Name() string {
	return "pgvector"
}

func (s *PgVectorIndex) Close() error {
	return s.db.Close()
}

func classifyDB(op string, err error) *core.ServiceError {
	if core.IsTimeout(err) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.Canceled) {
		return core.Unavailable(op, core.ErrIndexUnavailable, err)
	}
	return core.NewServiceError(op, core.ErrIndex, err)
}

// formatEmbedding converts a float64 slice to pgvector text format: "[0.1,0.2,0.3]"
func formatEmbedding(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
