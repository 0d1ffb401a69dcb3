package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/hubenschmidt/go-visearch/catalog"
	"github.com/hubenschmidt/go-visearch/core"
	"github.com/hubenschmidt/go-visearch/monitor"
	"github.com/hubenschmidt/go-visearch/vector"
	"github.com/shopspring/decimal"
)

var queryImage = []byte("\x89PNG\r\n\x1a\nquery")

type stubEmbedder struct {
	calls int
	vec   []float64
	err   error
	block bool
}

func (e *stubEmbedder) Embed(ctx context.Context, image []byte) ([]float64, error) {
	e.calls++
	if e.block {
		<-ctx.Done()
		return nil, core.Unavailable("embed", core.ErrEmbeddingUnavailable, ctx.Err())
	}
	return e.vec, e.err
}

func (e *stubEmbedder) Dimension() int { return len(e.vec) }

type stubIndex struct {
	healthy     bool
	hits        []vector.Match
	err         error
	queryCalls  int
	imageCalls  int
	healthCalls int
}

func (x *stubIndex) Upsert(ctx context.Context, key string, vec []float64, payload map[string]any) error {
	return nil
}

func (x *stubIndex) Query(ctx context.Context, vec []float64, limit int) ([]vector.Match, error) {
	x.queryCalls++
	return x.hits, x.err
}

func (x *stubIndex) Delete(ctx context.Context, key string) error { return nil }

func (x *stubIndex) HealthCheck(ctx context.Context) bool {
	x.healthCalls++
	return x.healthy
}

func (x *stubIndex) Name() string { return "stub" }
func (x *stubIndex) Close() error { return nil }

type stubImageIndex struct {
	stubIndex
}

func (x *stubImageIndex) UpsertImage(ctx context.Context, key string, image []byte, payload map[string]any) error {
	return nil
}

func (x *stubImageIndex) QueryImage(ctx context.Context, image []byte, limit int) ([]vector.Match, error) {
	x.imageCalls++
	return x.hits, x.err
}

type brokenCatalog struct {
	Catalog
}

func (c brokenCatalog) GetByVectorKey(ctx context.Context, key string) (core.Product, error) {
	return core.Product{}, errors.New("database is locked")
}

// seedCatalog stores n products named P1..Pn, each indexed under its id.
func seedCatalog(t *testing.T, n int) *catalog.MemoryStore {
	t.Helper()
	store := catalog.NewMemoryStore()
	for i := 1; i <= n; i++ {
		p := core.Product{Name: fmt.Sprintf("P%d", i), Price: decimal.NewFromInt(int64(i))}
		if err := store.Save(context.Background(), &p); err != nil {
			t.Fatalf("Save: %v", err)
		}
		p.VectorKey = p.IndexKey()
		if err := store.Save(context.Background(), &p); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	return store
}

func newTestOrchestrator(e *stubEmbedder, x vector.Index, c Catalog, rec monitor.Recorder) *Orchestrator {
	return NewOrchestrator(Config{
		Embedder:  e,
		Index:     x,
		Catalog:   c,
		Collector: rec,
		Rand:      rand.New(rand.NewPCG(1, 2)),
	})
}

func names(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Product.Name
	}
	return out
}

func TestSearchOrderedAndDeduped(t *testing.T) {
	e := &stubEmbedder{vec: []float64{1, 0}}
	x := &stubIndex{healthy: true, hits: []vector.Match{
		{Key: "2", Score: 0.9}, {Key: "1", Score: 0.8}, {Key: "2", Score: 0.7}, {Key: "3", Score: 0.5},
	}}
	o := newTestOrchestrator(e, x, seedCatalog(t, 3), nil)

	res, err := o.Search(context.Background(), queryImage, 8)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Degraded {
		t.Fatalf("unexpected degraded result: %s", res.Reason)
	}
	if got := strings.Join(names(res.Matches), ","); got != "P2,P1,P3" {
		t.Errorf("matches = %s, want P2,P1,P3", got)
	}
	for i := 1; i < len(res.Matches); i++ {
		if res.Matches[i].Score > res.Matches[i-1].Score {
			t.Errorf("scores increase at %d: %v", i, res.Matches)
		}
	}
	if res.Matches[0].Score != 0.9 {
		t.Errorf("top score = %f", res.Matches[0].Score)
	}
}

func TestSearchDropsOrphans(t *testing.T) {
	store := catalog.NewMemoryStore()
	for _, p := range []core.Product{{Name: "A"}, {Name: "B"}} {
		p := p
		store.Save(context.Background(), &p)
		p.VectorKey = "k" + p.IndexKey()
		store.Save(context.Background(), &p)
	}
	e := &stubEmbedder{vec: []float64{1}}
	x := &stubIndex{healthy: true, hits: []vector.Match{{Key: "k2", Score: 0.9}, {Key: "k9", Score: 0.8}}}
	o := newTestOrchestrator(e, x, store, nil)

	res, err := o.Search(context.Background(), queryImage, 8)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Degraded || len(res.Matches) != 1 || res.Matches[0].Product.Name != "B" || res.Matches[0].Score != 0.9 {
		t.Errorf("result = %+v", res)
	}
}

func TestSearchUnhealthyIndex(t *testing.T) {
	e := &stubEmbedder{vec: []float64{1}}
	x := &stubIndex{healthy: false}
	o := newTestOrchestrator(e, x, seedCatalog(t, 12), nil)

	res, err := o.Search(context.Background(), queryImage, 8)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if e.calls != 0 || x.queryCalls != 0 {
		t.Errorf("embed calls = %d, query calls = %d; want 0, 0", e.calls, x.queryCalls)
	}
	if !res.Degraded || res.FailedAt != "health_checking" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Matches) != DefaultFallbackSize {
		t.Errorf("fallback size = %d, want %d", len(res.Matches), DefaultFallbackSize)
	}
	seen := map[int64]bool{}
	for _, m := range res.Matches {
		if seen[m.Product.ID] {
			t.Errorf("duplicate product %d in fallback", m.Product.ID)
		}
		seen[m.Product.ID] = true
	}
}

func TestSearchEmbeddingFailure(t *testing.T) {
	e := &stubEmbedder{err: core.StatusError("embed", core.ErrEmbeddingService, 500, "model crashed")}
	x := &stubIndex{healthy: true}
	o := newTestOrchestrator(e, x, seedCatalog(t, 3), nil)

	res, err := o.Search(context.Background(), queryImage, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if x.queryCalls != 0 {
		t.Errorf("query called %d times", x.queryCalls)
	}
	if !res.Degraded || res.FailedAt != "embedding" || !strings.Contains(res.Reason, "model crashed") {
		t.Errorf("result = %+v", res)
	}
	if len(res.Matches) != 3 {
		t.Errorf("fallback matches = %d, want 3", len(res.Matches))
	}
}

func TestSearchQueryFailure(t *testing.T) {
	e := &stubEmbedder{vec: []float64{1}}
	x := &stubIndex{healthy: true, err: core.NewServiceError("index.query", core.ErrIndex, errors.New("bad gateway"))}
	o := newTestOrchestrator(e, x, seedCatalog(t, 2), nil)

	res, _ := o.Search(context.Background(), queryImage, 5)
	if !res.Degraded || res.FailedAt != "querying" {
		t.Errorf("result = %+v", res)
	}
}

func TestSearchCatalogFailureFallsBack(t *testing.T) {
	e := &stubEmbedder{vec: []float64{1}}
	x := &stubIndex{healthy: true, hits: []vector.Match{{Key: "1", Score: 0.9}}}
	o := newTestOrchestrator(e, x, brokenCatalog{seedCatalog(t, 2)}, nil)

	res, _ := o.Search(context.Background(), queryImage, 5)
	if !res.Degraded || res.FailedAt != "resolving" || len(res.Matches) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestSearchTimeoutFallsBack(t *testing.T) {
	e := &stubEmbedder{block: true}
	x := &stubIndex{healthy: true}
	o := NewOrchestrator(Config{
		Embedder: e,
		Index:    x,
		Catalog:  seedCatalog(t, 2),
		Timeout:  50 * time.Millisecond,
	})

	start := time.Now()
	res, err := o.Search(context.Background(), queryImage, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("run deadline not enforced")
	}
	if !res.Degraded || res.FailedAt != "embedding" || len(res.Matches) != 2 {
		t.Errorf("result = %+v", res)
	}
	if x.queryCalls != 0 {
		t.Error("query called after embedding timeout")
	}
}

func TestSearchInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		image []byte
		limit int
	}{
		{"zero limit", queryImage, 0},
		{"negative limit", queryImage, -1},
		{"empty image", nil, 8},
		{"not an image", []byte("hello world"), 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &stubEmbedder{vec: []float64{1}}
			x := &stubIndex{healthy: true}
			o := newTestOrchestrator(e, x, seedCatalog(t, 1), nil)

			_, err := o.Search(context.Background(), tt.image, tt.limit)
			if !errors.Is(err, core.ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
			if x.healthCalls != 0 || e.calls != 0 {
				t.Error("collaborators called for invalid input")
			}
		})
	}
}

func TestFallbackDeterministicWithSeed(t *testing.T) {
	store := seedCatalog(t, 20)
	run := func() []string {
		o := newTestOrchestrator(&stubEmbedder{}, &stubIndex{}, store, nil)
		res, _ := o.Search(context.Background(), queryImage, 8)
		return names(res.Matches)
	}
	first, second := strings.Join(run(), ","), strings.Join(run(), ",")
	if first != second {
		t.Errorf("fallback differs with the same seed: %s vs %s", first, second)
	}
}

func TestFallbackEmptyCatalog(t *testing.T) {
	o := newTestOrchestrator(&stubEmbedder{}, &stubIndex{}, catalog.NewMemoryStore(), nil)
	res, err := o.Search(context.Background(), queryImage, 8)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.Degraded || res.Matches == nil || len(res.Matches) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestSearchImageQuery(t *testing.T) {
	e := &stubEmbedder{vec: []float64{1}}
	x := &stubImageIndex{stubIndex{healthy: true, hits: []vector.Match{{Key: "1", Score: 0.7}}}}
	o := NewOrchestrator(Config{Embedder: e, Index: x, Catalog: seedCatalog(t, 1), ImageQuery: true})

	res, _ := o.Search(context.Background(), queryImage, 3)
	if res.Degraded || len(res.Matches) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if e.calls != 0 || x.imageCalls != 1 || x.queryCalls != 0 {
		t.Errorf("embed=%d image=%d query=%d", e.calls, x.imageCalls, x.queryCalls)
	}
}

func TestSearchRecordsMetrics(t *testing.T) {
	rec := monitor.NewInMemoryCollector()
	o := newTestOrchestrator(&stubEmbedder{err: errors.New("down")}, &stubIndex{healthy: true}, seedCatalog(t, 1), rec)
	o.Search(context.Background(), queryImage, 8)

	s := rec.Summary()
	if run := s.Runs["search"]; run.Count != 1 || run.Degraded != 1 {
		t.Errorf("run = %+v", run)
	}
	if step := s.Steps["search.embedding"]; step.Failures != 1 || step.LastError != "down" {
		t.Errorf("embedding step = %+v", step)
	}
	if step := s.Steps["search.health_checking"]; step.Count != 1 || step.Failures != 0 {
		t.Errorf("health step = %+v", step)
	}
}
