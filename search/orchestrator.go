// Package search runs the image similarity pipeline: health check, embed,
// query, resolve against the catalog, and fall back to arbitrary products
// when any stage fails.
package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hubenschmidt/go-visearch/core"
	"github.com/hubenschmidt/go-visearch/embed"
	"github.com/hubenschmidt/go-visearch/monitor"
	"github.com/hubenschmidt/go-visearch/vector"
	"go.uber.org/zap"
)

const (
	DefaultLimit           = 8
	DefaultFallbackSize    = 8
	DefaultTimeout         = 60 * time.Second
	DefaultFallbackTimeout = 5 * time.Second
)

// Catalog is the part of the product store the orchestrator reads.
type Catalog interface {
	GetByVectorKey(ctx context.Context, key string) (core.Product, error)
	List(ctx context.Context) ([]core.Product, error)
}

type Config struct {
	Embedder embed.Embedder
	Index    vector.Index
	Catalog  Catalog

	Collector monitor.Recorder
	Logger    *zap.Logger
	// Rand picks fallback products. Not safe for concurrent use on its own;
	// the orchestrator serialises access.
	Rand *rand.Rand

	FallbackSize    int
	Timeout         time.Duration
	FallbackTimeout time.Duration
	MaxImageBytes   int64
	// ImageQuery sends the raw image to backends that vectorise server-side.
	ImageQuery bool
}

type Orchestrator struct {
	embedder  embed.Embedder
	index     vector.Index
	catalog   Catalog
	collector monitor.Recorder
	logger    *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	fallbackSize    int
	timeout         time.Duration
	fallbackTimeout time.Duration
	maxImageBytes   int64
	imageQuery      bool
}

func NewOrchestrator(cfg Config) *Orchestrator {
	collector := cfg.Collector
	if collector == nil {
		collector = monitor.NewNoOpCollector()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rng := cfg.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	fallbackSize := cfg.FallbackSize
	if fallbackSize <= 0 {
		fallbackSize = DefaultFallbackSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	fallbackTimeout := cfg.FallbackTimeout
	if fallbackTimeout <= 0 {
		fallbackTimeout = DefaultFallbackTimeout
	}

	return &Orchestrator{
		embedder:        cfg.Embedder,
		index:           cfg.Index,
		catalog:         cfg.Catalog,
		collector:       collector,
		logger:          logger.Named("search"),
		rng:             rng,
		fallbackSize:    fallbackSize,
		timeout:         timeout,
		fallbackTimeout: fallbackTimeout,
		maxImageBytes:   cfg.MaxImageBytes,
		imageQuery:      cfg.ImageQuery,
	}
}

// Search returns products visually similar to image. Invalid input is the
// only error; every backend failure produces a degraded Result instead.
func (o *Orchestrator) Search(ctx context.Context, image []byte, limit int) (*Result, error) {
	if limit <= 0 {
		return nil, core.Invalid("limit must be positive, got %d", limit)
	}
	if err := embed.ValidateImage(image, o.maxImageBytes); err != nil {
		return nil, err
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	matches, state, err := o.retrieve(runCtx, image, limit)

	var res *Result
	if err != nil {
		o.logger.Warn("search degraded",
			zap.String("failed_at", state.String()),
			zap.String("backend", o.index.Name()),
			zap.Int("limit", limit),
			zap.Int("image_bytes", len(image)),
			zap.Error(err))
		res = o.fallback(ctx, state, err)
	} else {
		res = &Result{Matches: matches}
	}

	o.collector.RecordRun(monitor.RunMetrics{
		Op:       "search",
		Duration: time.Since(start),
		Degraded: res.Degraded,
		Items:    len(res.Matches),
	})
	return res, nil
}

// retrieve runs the happy path and reports the state it stopped in.
func (o *Orchestrator) retrieve(ctx context.Context, image []byte, limit int) ([]Match, State, error) {
	err := o.step(HealthChecking, func() error {
		if !o.index.HealthCheck(ctx) {
			return core.NewServiceError("index.health", core.ErrIndexUnavailable,
				fmt.Errorf("%s health check failed", o.index.Name()))
		}
		return nil
	})
	if err != nil {
		return nil, HealthChecking, err
	}

	hits, state, err := o.nearest(ctx, image, limit)
	if err != nil {
		return nil, state, err
	}

	var matches []Match
	err = o.step(Resolving, func() error {
		var rerr error
		matches, rerr = o.resolve(ctx, hits, limit)
		return rerr
	})
	if err != nil {
		return nil, Resolving, err
	}
	return matches, Done, nil
}

func (o *Orchestrator) nearest(ctx context.Context, image []byte, limit int) ([]vector.Match, State, error) {
	var hits []vector.Match

	if ii, ok := o.index.(vector.ImageIndex); ok && o.imageQuery {
		err := o.step(Querying, func() error {
			var err error
			hits, err = ii.QueryImage(ctx, image, limit)
			return err
		})
		if err != nil {
			return nil, Querying, err
		}
		return hits, Querying, nil
	}

	var vec []float64
	err := o.step(Embedding, func() error {
		var err error
		vec, err = o.embedder.Embed(ctx, image)
		return err
	})
	if err != nil {
		return nil, Embedding, err
	}

	err = o.step(Querying, func() error {
		var err error
		hits, err = o.index.Query(ctx, vec, limit)
		return err
	})
	if err != nil {
		return nil, Querying, err
	}
	return hits, Querying, nil
}

// resolve maps hits to products in index order. Repeated keys keep their
// first occurrence; keys with no catalog row are dropped.
func (o *Orchestrator) resolve(ctx context.Context, hits []vector.Match, limit int) ([]Match, error) {
	matches := make([]Match, 0, len(hits))
	seen := make(map[string]bool, len(hits))

	for _, hit := range hits {
		if seen[hit.Key] {
			continue
		}
		seen[hit.Key] = true

		p, err := o.catalog.GetByVectorKey(ctx, hit.Key)
		if errors.Is(err, core.ErrNotFound) {
			o.logger.Warn("orphan vector key", zap.String("key", hit.Key), zap.Float64("score", hit.Score))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve key %s: %w", hit.Key, err)
		}
		matches = append(matches, Match{Product: p, Score: hit.Score})
		if len(matches) == limit {
			break
		}
	}
	return matches, nil
}

// fallback returns arbitrary products. It reads the catalog on a context
// detached from the caller's deadline and bounded by fallbackTimeout.
func (o *Orchestrator) fallback(ctx context.Context, failed State, cause error) *Result {
	res := &Result{
		Matches:  []Match{},
		Degraded: true,
		Reason:   cause.Error(),
		FailedAt: failed.String(),
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.fallbackTimeout)
	defer cancel()

	var products []core.Product
	err := o.step(Fallback, func() error {
		var err error
		products, err = o.catalog.List(fctx)
		return err
	})
	if err != nil {
		o.logger.Error("fallback catalog read failed", zap.Error(err))
		return res
	}

	o.rngMu.Lock()
	o.rng.Shuffle(len(products), func(i, j int) {
		products[i], products[j] = products[j], products[i]
	})
	o.rngMu.Unlock()

	for _, p := range products[:min(o.fallbackSize, len(products))] {
		res.Matches = append(res.Matches, Match{Product: p})
	}
	return res
}

func (o *Orchestrator) step(s State, fn func() error) error {
	start := time.Now()
	err := fn()

	m := monitor.StepMetrics{
		Op:       "search",
		Step:     s.String(),
		Duration: time.Since(start),
		Success:  err == nil,
	}
	if err != nil {
		m.Error = err.Error()
	}
	o.collector.RecordStep(m)

	o.logger.Debug("step finished",
		zap.String("state", s.String()),
		zap.Duration("elapsed", m.Duration),
		zap.Bool("ok", m.Success))
	return err
}
