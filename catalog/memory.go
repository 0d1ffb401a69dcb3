package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hubenschmidt/go-visearch/core"
)

// MemoryStore keeps products in a map. Used by tests and the "memory" DSN.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[int64]core.Product
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[int64]core.Product),
		nextID:   1,
	}
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (core.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return core.Product{}, ErrNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) GetByVectorKey(ctx context.Context, key string) (core.Product, error) {
	if key == "" {
		return core.Product{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.VectorKey == key {
			return clone(p), nil
		}
	}
	return core.Product{}, ErrNotFound
}

func (s *MemoryStore) List(ctx context.Context) ([]core.Product, error) {
	return s.sorted(), nil
}

func (s *MemoryStore) Page(ctx context.Context, offset, limit int) ([]core.Product, error) {
	all := s.sorted()
	if offset >= len(all) || limit <= 0 {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (s *MemoryStore) sorted() []core.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]core.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, clone(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *MemoryStore) Save(ctx context.Context, p *core.Product) error {
	if err := Validate(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.nextID
		s.nextID++
	} else if _, ok := s.products[p.ID]; !ok {
		return ErrNotFound
	}
	stamp(p, time.Now())
	s.products[p.ID] = clone(*p)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func clone(p core.Product) core.Product {
	if p.Embedding != nil {
		p.Embedding = append([]float64(nil), p.Embedding...)
	}
	return p
}
