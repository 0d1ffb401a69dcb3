package vector

import (
	"context"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory exact index for development and testing.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]entry
}

type entry struct {
	vector  []float64
	payload map[string]any
}

// NewMemoryIndex creates an empty index. A dimension of 0 accepts any length.
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		entries:   make(map[string]entry),
	}
}

func (s *MemoryIndex) Upsert(ctx context.Context, key string, vec []float64, payload map[string]any) error {
	if err := checkDimension("upsert", s.dimension, vec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{vector: append([]float64(nil), vec...), payload: payload}
	return nil
}

// Query ranks every stored vector by cosine similarity. Ties are ordered by key.
func (s *MemoryIndex) Query(ctx context.Context, vec []float64, limit int) ([]Match, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	if err := checkDimension("query", s.dimension, vec); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return rank(vec, s.entries, limit), nil
}

func (s *MemoryIndex) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryIndex) HealthCheck(ctx context.Context) bool {
	return ctx.Err() == nil
}

func (s *MemoryIndex) Name() string {
	return "memory"
}

// Close is a no-op for the in-memory index.
func (s *MemoryIndex) Close() error {
	return nil
}

// Count returns the number of stored vectors.
func (s *MemoryIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Payload returns the payload stored under key.
func (s *MemoryIndex) Payload(key string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e.payload, ok
}

func rank(query []float64, entries map[string]entry, limit int) []Match {
	matches := make([]Match, 0, len(entries))
	for key, e := range entries {
		matches = append(matches, Match{Key: key, Score: CosineSimilarity(query, e.vector)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Key < matches[j].Key
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
