package cli

import (
	"errors"
	"fmt"

	"github.com/hubenschmidt/go-visearch/catalog"
	"github.com/hubenschmidt/go-visearch/config"
	"github.com/hubenschmidt/go-visearch/embed"
	"github.com/hubenschmidt/go-visearch/media"
	"github.com/hubenschmidt/go-visearch/monitor"
	"github.com/hubenschmidt/go-visearch/products"
	"github.com/hubenschmidt/go-visearch/reconcile"
	"github.com/hubenschmidt/go-visearch/search"
	"github.com/hubenschmidt/go-visearch/server"
	"github.com/hubenschmidt/go-visearch/vector"
	"go.uber.org/zap"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	catalog  catalog.Store
	index    vector.Index
	embedder embed.Embedder
	media    *media.Store
	metrics  *monitor.InMemoryCollector

	search    *search.Orchestrator
	reconcile *reconcile.Job
	products  *products.Service
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := catalog.NewStore(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	index, err := vector.NewIndex(cfg.VectorConfig())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}
	images, err := media.NewStore(cfg.Media.Dir)
	if err != nil {
		index.Close()
		store.Close()
		return nil, fmt.Errorf("open media: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		catalog:  store,
		index:    index,
		embedder: cfg.Embedder(),
		media:    images,
		metrics:  monitor.NewInMemoryCollector(),
	}

	a.search = search.NewOrchestrator(search.Config{
		Embedder:        a.embedder,
		Index:           index,
		Catalog:         store,
		Collector:       a.metrics,
		Logger:          logger,
		FallbackSize:    cfg.Search.FallbackSize,
		Timeout:         cfg.Search.Timeout,
		FallbackTimeout: cfg.Search.FallbackTimeout,
		MaxImageBytes:   cfg.Server.MaxUploadBytes,
		ImageQuery:      cfg.Search.ImageQuery,
	})
	a.reconcile = reconcile.NewJob(reconcile.Config{
		Catalog:   store,
		Index:     index,
		Embedder:  a.embedder,
		Images:    images,
		Interval:  cfg.Reconcile.Interval,
		Collector: a.metrics,
		Logger:    logger,

		ImageNative: cfg.Search.ImageQuery,
	})
	a.products = products.NewService(products.Config{
		Catalog:       store,
		Index:         index,
		Embedder:      a.embedder,
		Media:         images,
		MaxImageBytes: cfg.Server.MaxUploadBytes,
		ImageNative:   cfg.Search.ImageQuery,
		Logger:        logger,
	})

	logger.Info("components ready",
		zap.String("index", index.Name()),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Int("dimension", cfg.Embedding.Dimension),
		zap.String("media", images.Root()))
	return a, nil
}

func (a *app) server() *server.Server {
	return server.New(server.Config{
		Search:         a.search,
		Reconcile:      a.reconcile,
		Products:       a.products,
		Index:          a.index,
		Metrics:        a.metrics,
		DefaultLimit:   a.cfg.Search.Limit,
		MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
		CORSOrigin:     a.cfg.Server.CORSOrigin,
		Logger:         a.logger,
	})
}

func (a *app) Close() error {
	return errors.Join(a.index.Close(), a.catalog.Close())
}
