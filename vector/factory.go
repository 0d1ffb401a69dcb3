package vector

import "fmt"

// NewIndex builds the backend named by cfg.Backend.
func NewIndex(cfg Config) (Index, error) {
	switch cfg.Backend {
	case "", "rest":
		return NewRESTIndex(cfg), nil
	case "graphql", "weaviate":
		return NewGraphQLIndex(cfg), nil
	case "pgvector":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("pgvector: dsn is required")
		}
		idx, err := NewPgVectorIndex(cfg.DSN, cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("pgvector: %w", err)
		}
		if cfg.HealthTimeout > 0 {
			idx.healthTimeout = cfg.HealthTimeout
		}
		return idx, nil
	case "bolt":
		path := cfg.Path
		if path == "" {
			path = DefaultConfig().Path
		}
		return NewBoltIndex(path, cfg.Dimension)
	case "memory":
		return NewMemoryIndex(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}
