package server

import (
	"net/http"
	"time"

	"github.com/hubenschmidt/go-visearch/embed"
	"github.com/hubenschmidt/go-visearch/monitor"
	"github.com/hubenschmidt/go-visearch/products"
	"github.com/hubenschmidt/go-visearch/reconcile"
	"github.com/hubenschmidt/go-visearch/search"
	"github.com/hubenschmidt/go-visearch/vector"
	"go.uber.org/zap"
)

// Config configures a new Server instance.
type Config struct {
	Search    *search.Orchestrator
	Reconcile *reconcile.Job
	Products  *products.Service
	Index     vector.Index
	Metrics   *monitor.InMemoryCollector

	DefaultLimit   int    // POST /search without a limit field
	MaxUploadBytes int64  // per image
	CORSOrigin     string // default "*"
	Logger         *zap.Logger
}

// Server exposes the search, reconcile, index and product endpoints as JSON.
type Server struct {
	search    *search.Orchestrator
	reconcile *reconcile.Job
	products  *products.Service
	index     vector.Index
	metrics   *monitor.InMemoryCollector

	defaultLimit   int
	maxUploadBytes int64
	corsOrigin     string
	logger         *zap.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) *Server {
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = search.DefaultLimit
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = embed.DefaultMaxImageBytes
	}
	origin := cfg.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = monitor.NewInMemoryCollector()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		search:         cfg.Search,
		reconcile:      cfg.Reconcile,
		products:       cfg.Products,
		index:          cfg.Index,
		metrics:        metrics,
		defaultLimit:   limit,
		maxUploadBytes: maxUpload,
		corsOrigin:     origin,
		logger:         logger.Named("http"),
	}
}

// Handler returns an http.Handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics/summary", s.handleMetricsSummary)

	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /reconcile", s.handleReconcile)

	mux.HandleFunc("GET /index/health", s.handleIndexHealth)
	mux.HandleFunc("POST /index/schema", s.handleIndexSchema)

	mux.HandleFunc("GET /products", s.handleProductList)
	mux.HandleFunc("POST /products", s.handleProductCreate)
	mux.HandleFunc("GET /products/{id}", s.handleProductGet)
	mux.HandleFunc("DELETE /products/{id}", s.handleProductDelete)

	return s.recoverMiddleware(s.logMiddleware(s.corsMiddleware(mux)))
}

// NewHTTPServer wraps the handler with the given timeouts.
func (s *Server) NewHTTPServer(addr string, read, write time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      write,
	}
}
