// Package products implements the product lifecycle: create with an image,
// index it best effort, and remove the vector and image on delete.
package products

import (
	"context"
	"errors"
	"fmt"

	"github.com/hubenschmidt/go-visearch/catalog"
	"github.com/hubenschmidt/go-visearch/core"
	"github.com/hubenschmidt/go-visearch/embed"
	"github.com/hubenschmidt/go-visearch/media"
	"github.com/hubenschmidt/go-visearch/vector"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// NewProduct is the input to Create.
type NewProduct struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Image       []byte
}

// Page is one page of the product listing.
type Page struct {
	Products []core.Product `json:"products"`
	Page     int            `json:"page"`
	PerPage  int            `json:"per_page"`
	Total    int            `json:"total"`
}

type Config struct {
	Catalog       catalog.Store
	Index         vector.Index
	Embedder      embed.Embedder
	Media         *media.Store
	MaxImageBytes int64
	// ImageNative sends the raw image to ImageIndex backends and lets them
	// vectorise it, matching searches that query with nearImage.
	ImageNative bool
	Logger      *zap.Logger
}

type Service struct {
	catalog       catalog.Store
	index         vector.Index
	embedder      embed.Embedder
	media         *media.Store
	maxImageBytes int64
	imageNative   bool
	logger        *zap.Logger
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		catalog:       cfg.Catalog,
		index:         cfg.Index,
		embedder:      cfg.Embedder,
		media:         cfg.Media,
		maxImageBytes: cfg.MaxImageBytes,
		imageNative:   cfg.ImageNative,
		logger:        logger.Named("products"),
	}
}

// Create stores the image and the product row, then tries to embed and
// index it. Indexing failures leave the product saved without a vector key
// for reconcile to repair.
func (s *Service) Create(ctx context.Context, in NewProduct) (core.Product, error) {
	p := core.Product{Name: in.Name, Description: in.Description, Price: in.Price}
	if err := catalog.Validate(&p); err != nil {
		return p, err
	}

	if len(in.Image) > 0 {
		if err := embed.ValidateImage(in.Image, s.maxImageBytes); err != nil {
			return p, err
		}
		ref, err := s.media.Save(in.Image)
		if err != nil {
			return p, fmt.Errorf("store image: %w", err)
		}
		p.ImageRef = ref
	}

	if err := s.catalog.Save(ctx, &p); err != nil {
		if p.ImageRef != "" {
			s.media.Delete(p.ImageRef)
		}
		return p, fmt.Errorf("save product: %w", err)
	}

	if len(in.Image) > 0 {
		if err := s.indexProduct(ctx, &p, in.Image); err != nil {
			s.logger.Warn("product saved without index entry",
				zap.Int64("product_id", p.ID),
				zap.Error(err))
		}
	}
	return p, nil
}

func (s *Service) indexProduct(ctx context.Context, p *core.Product, image []byte) error {
	key := p.IndexKey()

	var upsertErr error
	if ii, ok := s.index.(vector.ImageIndex); ok && s.imageNative {
		upsertErr = ii.UpsertImage(ctx, key, image, p.Payload())
	} else {
		vec, err := s.embedder.Embed(ctx, image)
		if err != nil {
			return err
		}
		p.Embedding = vec
		upsertErr = s.index.Upsert(ctx, key, vec, p.Payload())
	}
	if upsertErr == nil {
		p.VectorKey = key
	}
	if err := s.catalog.Save(ctx, p); err != nil {
		return errors.Join(upsertErr, fmt.Errorf("save embedding: %w", err))
	}
	return upsertErr
}

func (s *Service) Get(ctx context.Context, id int64) (core.Product, error) {
	return s.catalog.Get(ctx, id)
}

// List returns a 1-based page. Out-of-range values fall back to defaults.
func (s *Service) List(ctx context.Context, page, perPage int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	perPage = min(perPage, MaxPerPage)

	total, err := s.catalog.Count(ctx)
	if err != nil {
		return Page{}, err
	}
	items, err := s.catalog.Page(ctx, (page-1)*perPage, perPage)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []core.Product{}
	}
	return Page{Products: items, Page: page, PerPage: perPage, Total: total}, nil
}

// Delete removes the vector, the row and the stored image. The vector goes
// first so a failure leaves the product listed and retryable.
func (s *Service) Delete(ctx context.Context, id int64) error {
	p, err := s.catalog.Get(ctx, id)
	if err != nil {
		return err
	}

	if p.VectorKey != "" {
		if err := s.index.Delete(ctx, p.VectorKey); err != nil {
			return fmt.Errorf("delete vector: %w", err)
		}
	}
	if err := s.catalog.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if p.ImageRef != "" {
		if err := s.media.Delete(p.ImageRef); err != nil {
			s.logger.Warn("image not removed", zap.Int64("product_id", id), zap.Error(err))
		}
	}
	return nil
}
