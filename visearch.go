// Package visearch provides search-by-image over a product catalog.
//
// Example usage:
//
//	store, _ := catalog.NewStore("data/catalog.db")
//	index, _ := vector.NewIndex(vector.Config{Backend: "graphql", BaseURL: "http://localhost:8080", Dimension: 512})
//	orch := visearch.NewOrchestrator(visearch.SearchConfig{
//	    Embedder: embed.NewCLIPClient(embed.DefaultClientConfig()),
//	    Index:    index,
//	    Catalog:  store,
//	})
//	result, err := orch.Search(ctx, imageBytes, 8)
package visearch

import (
	"github.com/hubenschmidt/go-visearch/catalog"
	"github.com/hubenschmidt/go-visearch/core"
	"github.com/hubenschmidt/go-visearch/embed"
	"github.com/hubenschmidt/go-visearch/monitor"
	"github.com/hubenschmidt/go-visearch/reconcile"
	"github.com/hubenschmidt/go-visearch/search"
	"github.com/hubenschmidt/go-visearch/server"
	"github.com/hubenschmidt/go-visearch/vector"
)

// Core type aliases
type (
	Product      = core.Product
	ServiceError = core.ServiceError
)

// Search aliases
type (
	Orchestrator = search.Orchestrator
	SearchConfig = search.Config
	SearchResult = search.Result
	Match        = search.Match
)

// NewOrchestrator creates a search orchestrator.
func NewOrchestrator(cfg SearchConfig) *Orchestrator {
	return search.NewOrchestrator(cfg)
}

// Reconcile aliases
type (
	ReconcileJob     = reconcile.Job
	ReconcileConfig  = reconcile.Config
	ReconcileSummary = reconcile.Summary
)

// NewReconcileJob creates a batch job that embeds and indexes the catalog.
func NewReconcileJob(cfg ReconcileConfig) *ReconcileJob {
	return reconcile.NewJob(cfg)
}

// Backend aliases
type (
	Catalog     = catalog.Store
	VectorIndex = vector.Index
	IndexConfig = vector.Config
	Embedder    = embed.Embedder
)

// NewVectorIndex opens the vector index backend named in cfg.
func NewVectorIndex(cfg IndexConfig) (VectorIndex, error) {
	return vector.NewIndex(cfg)
}

// NewCatalog opens the catalog for dsn. An empty dsn means SQLite at catalog.DefaultPath.
func NewCatalog(dsn string) (Catalog, error) {
	return catalog.NewStore(dsn)
}

// Monitor aliases
type (
	InMemoryCollector = monitor.InMemoryCollector
	MetricsSummary    = monitor.Summary
)

func NewInMemoryCollector() *InMemoryCollector {
	return monitor.NewInMemoryCollector()
}

// Server aliases
type (
	Server       = server.Server
	ServerConfig = server.Config
)

// NewServer creates the HTTP API server.
func NewServer(cfg ServerConfig) *Server {
	return server.New(cfg)
}
