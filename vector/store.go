// Package vector provides the vector index capability interface and its backends.
package vector

import (
	"context"
	"time"

	"github.com/hubenschmidt/go-visearch/core"
)

// Match is a single nearest-neighbour hit.
type Match struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"` // higher is more similar
}

// Index is the capability set the search pipeline depends on.
type Index interface {
	// Upsert inserts or replaces the vector and payload stored under key.
	Upsert(ctx context.Context, key string, vec []float64, payload map[string]any) error

	// Query returns up to limit matches ordered by decreasing similarity.
	Query(ctx context.Context, vec []float64, limit int) ([]Match, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// HealthCheck is a bounded liveness probe. It never returns an error.
	HealthCheck(ctx context.Context) bool

	// Name identifies the backend.
	Name() string

	// Close releases resources.
	Close() error
}

// SchemaManager is implemented by backends that need a schema created up front.
type SchemaManager interface {
	EnsureSchema(ctx context.Context) error
}

// ImageIndex is implemented by backends that vectorise images server-side.
type ImageIndex interface {
	UpsertImage(ctx context.Context, key string, image []byte, payload map[string]any) error
	QueryImage(ctx context.Context, image []byte, limit int) ([]Match, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend       string        // "rest", "graphql", "pgvector", "bolt", "memory"
	BaseURL       string        // rest, graphql
	APIKey        string        // rest, graphql
	Timeout       time.Duration // per call
	HealthTimeout time.Duration
	PathPrefix    string // rest: route prefix, default "/index"
	Class         string // graphql: class name, default "Product"
	Vectorizer    string // graphql: vectorizer module, default "img2vec-neural"
	DSN           string // pgvector
	Path          string // bolt
	Dimension     int
}

func DefaultConfig() Config {
	return Config{
		Backend:       "rest",
		BaseURL:       "http://localhost:5000",
		Timeout:       30 * time.Second,
		HealthTimeout: 10 * time.Second,
		PathPrefix:    "/index",
		Class:         "Product",
		Vectorizer:    "img2vec-neural",
		Path:          "data/vectors.db",
		Dimension:     512,
	}
}

func checkLimit(limit int) error {
	if limit <= 0 {
		return core.Invalid("limit must be positive, got %d", limit)
	}
	return nil
}

func checkDimension(op string, dimension int, vec []float64) error {
	if len(vec) == 0 {
		return core.Invalid("%s: empty vector", op)
	}
	if dimension > 0 && len(vec) != dimension {
		return core.Invalid("%s: vector dimension mismatch: expected %d, got %d", op, dimension, len(vec))
	}
	return nil
}

func healthContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultConfig().HealthTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
