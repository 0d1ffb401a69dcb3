// Package catalog persists products in a relational store.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hubenschmidt/go-visearch/core"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a product is not found
var ErrNotFound = core.ErrNotFound

const maxNameLength = 255

// Store defines the interface for product persistence
type Store interface {
	Get(ctx context.Context, id int64) (core.Product, error)
	GetByVectorKey(ctx context.Context, key string) (core.Product, error)
	// List returns every product ordered by id.
	List(ctx context.Context) ([]core.Product, error)
	// Page returns up to limit products after skipping offset, ordered by id.
	Page(ctx context.Context, offset, limit int) ([]core.Product, error)
	// Save inserts p when p.ID is zero and assigns the new id, otherwise updates it.
	Save(ctx context.Context, p *core.Product) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Validate checks the fields every backend requires before a write.
func Validate(p *core.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return core.Invalid("name is required")
	}
	if utf8.RuneCountInString(p.Name) > maxNameLength {
		return core.Invalid("name exceeds %d characters", maxNameLength)
	}
	if p.Price.IsNegative() {
		return core.Invalid("price must not be negative")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, name, description, price, image_ref, embedding, vector_key, created_at, updated_at`

func scanProduct(row rowScanner) (core.Product, error) {
	var p core.Product
	var price decimal.Decimal
	var embedding []byte
	var created, updated int64

	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.ImageRef, &embedding, &p.VectorKey, &created, &updated); err != nil {
		return p, err
	}
	p.Price = price
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()

	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &p.Embedding); err != nil {
			return p, fmt.Errorf("unmarshal embedding for product %d: %w", p.ID, err)
		}
	}
	return p, nil
}

// encodeEmbedding returns nil for a missing embedding so the column stays NULL.
func encodeEmbedding(v []float64) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}
	return string(data), nil
}

func stamp(p *core.Product, now time.Time) {
	now = now.UTC().Truncate(time.Millisecond)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}
