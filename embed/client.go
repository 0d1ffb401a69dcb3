// Package embed turns images into embedding vectors by calling an external
// embedding service.
package embed

import (
	"context"
	"time"
)

// Embedder converts raw image bytes into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float64, error)

	// Dimension returns the vector length, or 0 when unknown.
	Dimension() int
}

type ClientConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	Dimension int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:   "http://localhost:5000",
		Timeout:   30 * time.Second,
		Dimension: 512,
	}
}
