package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hubenschmidt/go-visearch/core"
	"go.etcd.io/bbolt"
)

var bucketVectors = []byte("vectors")

// BoltIndex persists vectors in BoltDB and searches an in-memory copy by
// brute force. Suitable for single-node deployments and local development.
type BoltIndex struct {
	db        *bbolt.DB
	dimension int
	mu        sync.RWMutex
	entries   map[string]entry
}

type storedVector struct {
	Vector  []float64      `json:"v"`
	Payload map[string]any `json:"p,omitempty"`
}

// NewBoltIndex opens (or creates) the database at path and loads it into memory.
func NewBoltIndex(path string, dimension int) (*BoltIndex, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create vectors bucket: %w", err)
	}

	idx := &BoltIndex{
		db:        db,
		dimension: dimension,
		entries:   make(map[string]entry),
	}
	if err := idx.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return idx, nil
}

func (s *BoltIndex) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // skip corrupted entries
			}
			s.entries[string(k)] = entry{vector: stored.Vector, payload: stored.Payload}
			return nil
		})
	})
}

func (s *BoltIndex) Upsert(ctx context.Context, key string, vec []float64, payload map[string]any) error {
	if err := checkDimension("upsert", s.dimension, vec); err != nil {
		return err
	}
	data, err := json.Marshal(storedVector{Vector: vec, Payload: payload})
	if err != nil {
		return core.WithKey(core.NewServiceError("index.upsert", core.ErrIndex, err), key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).Put([]byte(key), data)
	})
	if err != nil {
		return core.WithKey(core.NewServiceError("index.upsert", core.ErrIndex, err), key)
	}
	s.entries[key] = entry{vector: append([]float64(nil), vec...), payload: payload}
	return nil
}

func (s *BoltIndex) Query(ctx context.Context, vec []float64, limit int) ([]Match, error) {
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

func (s *BoltIndex) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVectors).Delete([]byte(key))
	})
	if err != nil {
		return core.WithKey(core.NewServiceError("index.delete", core.ErrIndex, err), key)
	}
	delete(s.entries, key)
	return nil
}

func (s *BoltIndex) HealthCheck(ctx context.Context) bool {
	return ctx.Err() == nil && s.db.Path() != ""
}

func (s *BoltIndex) Name() string {
	return "bolt"
}

func (s *BoltIndex) Close() error {
	return s.db.Close()
}

func (s *BoltIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
