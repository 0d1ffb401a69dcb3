package core

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entity.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageRef    string          `json:"image_ref,omitempty"`
	Embedding   []float64       `json:"-"`
	VectorKey   string          `json:"vector_key,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// HasEmbedding reports whether a cached embedding is present.
func (p Product) HasEmbedding() bool {
	return len(p.Embedding) > 0
}

// IndexKey is the key the product is stored under in the vector index.
func (p Product) IndexKey() string {
	return VectorKeyFor(p.ID)
}

// Payload is the metadata stored next to the vector.
func (p Product) Payload() map[string]any {
	price, _ := p.Price.Float64()
	return map[string]any{
		"product_id": p.ID,
		"name":       p.Name,
		"price":      price,
		"image_path": p.ImageRef,
	}
}

func VectorKeyFor(id int64) string {
	return strconv.FormatInt(id, 10)
}
