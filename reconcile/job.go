// Package reconcile brings the vector index in line with the catalog.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hubenschmidt/go-visearch/core"
	"github.com/hubenschmidt/go-visearch/embed"
	"github.com/hubenschmidt/go-visearch/monitor"
	"github.com/hubenschmidt/go-visearch/vector"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultInterval is the pause between products.
const DefaultInterval = 100 * time.Millisecond

// ErrRunning is returned when a run is already in progress in this process.
var ErrRunning = errors.New("reconcile already running")

// Catalog is the part of the product store the job reads and writes.
type Catalog interface {
	List(ctx context.Context) ([]core.Product, error)
	Save(ctx context.Context, p *core.Product) error
}

// ImageReader loads stored image bytes by ref.
type ImageReader interface {
	Read(ref string) ([]byte, error)
}

// Summary reports the outcome of one run.
type Summary struct {
	Processed  int   `json:"processed_count"`
	Errors     int   `json:"error_count"`
	Skipped    int   `json:"skipped_count"`
	DurationMs int64 `json:"duration_ms"`
}

type Config struct {
	Catalog  Catalog
	Index    vector.Index
	Embedder embed.Embedder
	Images   ImageReader

	// Interval throttles item processing. Zero means DefaultInterval; negative disables it.
	Interval  time.Duration
	Collector monitor.Recorder
	Logger    *zap.Logger

	// ImageNative re-sends product images to ImageIndex backends instead of
	// client-side embeddings.
	ImageNative bool
}

type Job struct {
	catalog   Catalog
	index     vector.Index
	embedder  embed.Embedder
	images    ImageReader
	interval  time.Duration
	collector monitor.Recorder
	logger    *zap.Logger

	imageNative bool
	running     sync.Mutex
}

func NewJob(cfg Config) *Job {
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	collector := cfg.Collector
	if collector == nil {
		collector = monitor.NewNoOpCollector()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		catalog:   cfg.Catalog,
		index:     cfg.Index,
		embedder:  cfg.Embedder,
		images:    cfg.Images,
		interval:  interval,
		collector: collector,
		logger:    logger.Named("reconcile"),

		imageNative: cfg.ImageNative,
	}
}

// Run reconciles every product. Per-item failures are logged and counted;
// the run continues. progress, when non-nil, is called after each item.
// On cancellation the partial summary is returned with the context error.
func (j *Job) Run(ctx context.Context, progress func(done, total int)) (Summary, error) {
	if !j.running.TryLock() {
		return Summary{}, ErrRunning
	}
	defer j.running.Unlock()

	start := time.Now()
	var sum Summary
	finish := func() Summary {
		sum.DurationMs = time.Since(start).Milliseconds()
		j.collector.RecordRun(monitor.RunMetrics{
			Op:       "reconcile",
			Duration: time.Since(start),
			Items:    sum.Processed,
			Errors:   sum.Errors,
		})
		return sum
	}

	products, err := j.catalog.List(ctx)
	if err != nil {
		return finish(), fmt.Errorf("list products: %w", err)
	}
	total := len(products)
	j.logger.Info("reconcile started", zap.Int("products", total), zap.String("backend", j.index.Name()))

	var limiter *rate.Limiter
	if j.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(j.interval), 1)
	}

	for i := range products {
		if err := ctx.Err(); err != nil {
			j.logger.Warn("reconcile cancelled", zap.Int("done", i), zap.Int("total", total))
			return finish(), err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return finish(), err
			}
		}

		p := &products[i]
		itemStart := time.Now()
		skipped, err := j.reconcileOne(ctx, p)
		j.collector.RecordStep(monitor.StepMetrics{
			Op:       "reconcile",
			Step:     "item",
			Duration: time.Since(itemStart),
			Success:  err == nil,
			Error:    errString(err),
		})

		switch {
		case err != nil:
			sum.Errors++
			j.logger.Error("reconcile item failed",
				zap.Int64("product_id", p.ID),
				zap.String("image_ref", p.ImageRef),
				zap.Error(err))
		case skipped:
			sum.Skipped++
			j.logger.Debug("product has no image", zap.Int64("product_id", p.ID))
		default:
			sum.Processed++
		}

		if progress != nil {
			progress(i+1, total)
		}
	}

	out := finish()
	j.logger.Info("reconcile finished",
		zap.Int("processed", out.Processed),
		zap.Int("errors", out.Errors),
		zap.Int("skipped", out.Skipped),
		zap.Int64("duration_ms", out.DurationMs))
	return out, nil
}

// reconcileOne embeds p when needed, upserts it and records its vector key.
func (j *Job) reconcileOne(ctx context.Context, p *core.Product) (skipped bool, err error) {
	if p.ImageRef == "" {
		return true, nil
	}

	if ii, ok := j.index.(vector.ImageIndex); ok && j.imageNative {
		return false, j.reconcileImage(ctx, ii, p)
	}

	dirty := false
	if !p.HasEmbedding() {
		img, err := j.images.Read(p.ImageRef)
		if err != nil {
			return false, fmt.Errorf("read image: %w", err)
		}
		vec, err := j.embedder.Embed(ctx, img)
		if err != nil {
			return false, err
		}
		p.Embedding = vec
		dirty = true
	}

	key := p.IndexKey()
	upsertErr := j.index.Upsert(ctx, key, p.Embedding, p.Payload())
	if upsertErr == nil && p.VectorKey != key {
		p.VectorKey = key
		dirty = true
	}

	if dirty {
		if err := j.catalog.Save(ctx, p); err != nil {
			return false, errors.Join(upsertErr, fmt.Errorf("save product: %w", err))
		}
	}
	return false, upsertErr
}

// reconcileImage uploads the stored image for server-side vectorisation.
func (j *Job) reconcileImage(ctx context.Context, ii vector.ImageIndex, p *core.Product) error {
	img, err := j.images.Read(p.ImageRef)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	key := p.IndexKey()
	if err := ii.UpsertImage(ctx, key, img, p.Payload()); err != nil {
		return err
	}
	if p.VectorKey == key {
		return nil
	}
	p.VectorKey = key
	if err := j.catalog.Save(ctx, p); err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
