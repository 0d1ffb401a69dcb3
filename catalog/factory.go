package catalog

import (
	"fmt"
	"strings"
)

// DefaultPath is the SQLite database used when no DSN is configured.
const DefaultPath = "data/catalog.db"

// NewStore creates a product store based on the DSN.
// - Empty DSN: SQLite at data/catalog.db
// - postgres:// or postgresql://: PostgreSQL
// - ":memory:" or "memory": in-process map (not persisted)
// - Anything else: SQLite at the specified path
func NewStore(dsn string) (Store, error) {
	if dsn == "" {
		return NewSQLiteStore(DefaultPath)
	}

	if dsn == "memory" || dsn == ":memory:" {
		return NewMemoryStore(), nil
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		s, err := NewPostgresStore(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return s, nil
	}

	return NewSQLiteStore(dsn)
}
