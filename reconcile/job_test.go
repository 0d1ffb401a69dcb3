package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hubenschmidt/go-visearch/catalog"
	"github.com/hubenschmidt/go-visearch/core"
	"github.com/hubenschmidt/go-visearch/embed"
	"github.com/hubenschmidt/go-visearch/monitor"
	"github.com/hubenschmidt/go-visearch/vector"
	"github.com/shopspring/decimal"
)

const dim = 4

type imageMap map[string][]byte

func (m imageMap) Read(ref string) ([]byte, error) {
	data, ok := m[ref]
	if !ok {
		return nil, core.ErrNotFound
	}
	return data, nil
}

type countingEmbedder struct {
	embed.Embedder
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (e *countingEmbedder) Embed(ctx context.Context, image []byte) ([]float64, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail[string(image)] {
		return nil, core.StatusError("embed", core.ErrEmbeddingService, 500, "bad image")
	}
	return e.Embedder.Embed(ctx, image)
}

type fixture struct {
	store    *catalog.MemoryStore
	index    *vector.MemoryIndex
	embedder *countingEmbedder
	images   imageMap
}

func newFixture() *fixture {
	return &fixture{
		store:    catalog.NewMemoryStore(),
		index:    vector.NewMemoryIndex(dim),
		embedder: &countingEmbedder{Embedder: embed.NewMockEmbedder(dim), fail: map[string]bool{}},
		images:   imageMap{},
	}
}

func (f *fixture) add(t *testing.T, p core.Product) core.Product {
	t.Helper()
	if err := f.store.Save(context.Background(), &p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return p
}

func (f *fixture) job(rec monitor.Recorder) *Job {
	return NewJob(Config{
		Catalog:   f.store,
		Index:     f.index,
		Embedder:  f.embedder,
		Images:    f.images,
		Interval:  -1,
		Collector: rec,
	})
}

func TestRunScenarioAB(t *testing.T) {
	f := newFixture()
	f.images["a.png"] = []byte("image-a")
	f.images["b.png"] = []byte("image-b")
	a := f.add(t, core.Product{Name: "A", Price: decimal.NewFromInt(1), ImageRef: "a.png"})
	b := f.add(t, core.Product{Name: "B", Price: decimal.NewFromInt(2), ImageRef: "b.png",
		Embedding: []float64{0, 1, 0, 0}, VectorKey: "k2"})

	var progress []int
	sum, err := f.job(nil).Run(context.Background(), func(done, total int) {
		if total != 2 {
			t.Errorf("total = %d", total)
		}
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Processed != 2 || sum.Errors != 0 || sum.Skipped != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if len(progress) != 2 || progress[1] != 2 {
		t.Errorf("progress = %v", progress)
	}

	gotA, _ := f.store.Get(context.Background(), a.ID)
	if gotA.VectorKey != "1" || !gotA.HasEmbedding() {
		t.Errorf("A = %+v", gotA)
	}
	if f.embedder.calls != 1 {
		t.Errorf("embed calls = %d, want 1", f.embedder.calls)
	}

	hits, _ := f.index.Query(context.Background(), []float64{0, 1, 0, 0}, 1)
	if len(hits) != 1 || hits[0].Key != b.IndexKey() {
		t.Errorf("hits = %v", hits)
	}
	if payload, ok := f.index.Payload("1"); !ok || payload["name"] != "A" || payload["image_path"] != "a.png" {
		t.Errorf("payload = %v", payload)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture()
	for _, ref := range []string{"1.png", "2.png", "3.png"} {
		f.images[ref] = []byte(ref)
		f.add(t, core.Product{Name: ref, ImageRef: ref})
	}
	job := f.job(nil)

	if _, err := job.Run(context.Background(), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, _ := f.store.List(context.Background())

	sum, err := job.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.Errors != 0 || sum.Processed != 3 {
		t.Errorf("second summary = %+v", sum)
	}
	after, _ := f.store.List(context.Background())
	for i := range before {
		if before[i].VectorKey != after[i].VectorKey {
			t.Errorf("product %d key changed: %q -> %q", before[i].ID, before[i].VectorKey, after[i].VectorKey)
		}
	}
	if f.embedder.calls != 3 {
		t.Errorf("embed calls = %d, want 3", f.embedder.calls)
	}
	if f.index.Count() != 3 {
		t.Errorf("index count = %d", f.index.Count())
	}
}

func TestRunContinuesOnError(t *testing.T) {
	f := newFixture()
	f.images["ok.png"] = []byte("ok")
	f.images["bad.png"] = []byte("bad")
	f.embedder.fail["bad"] = true

	bad := f.add(t, core.Product{Name: "bad", ImageRef: "bad.png"})
	f.add(t, core.Product{Name: "missing file", ImageRef: "gone.png"})
	f.add(t, core.Product{Name: "no image"})
	ok := f.add(t, core.Product{Name: "ok", ImageRef: "ok.png"})

	rec := monitor.NewInMemoryCollector()
	sum, err := f.job(rec).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Processed != 1 || sum.Errors != 2 || sum.Skipped != 1 {
		t.Errorf("summary = %+v", sum)
	}

	gotOK, _ := f.store.Get(context.Background(), ok.ID)
	if gotOK.VectorKey != ok.IndexKey() {
		t.Errorf("ok product not indexed: %+v", gotOK)
	}
	gotBad, _ := f.store.Get(context.Background(), bad.ID)
	if gotBad.VectorKey != "" || gotBad.HasEmbedding() {
		t.Errorf("bad product changed: %+v", gotBad)
	}
	if run := rec.Summary().Runs["reconcile"]; run.Count != 1 || run.Errors != 2 {
		t.Errorf("metrics = %+v", run)
	}
}

type failingIndex struct {
	*vector.MemoryIndex
}

func (x failingIndex) Upsert(ctx context.Context, key string, vec []float64, payload map[string]any) error {
	return core.Unavailable("index.upsert", core.ErrIndexUnavailable, context.DeadlineExceeded)
}

func TestRunKeepsEmbeddingWhenUpsertFails(t *testing.T) {
	f := newFixture()
	f.images["a.png"] = []byte("a")
	p := f.add(t, core.Product{Name: "A", ImageRef: "a.png"})

	job := NewJob(Config{Catalog: f.store, Index: failingIndex{f.index}, Embedder: f.embedder, Images: f.images, Interval: -1})
	sum, err := job.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Errors != 1 {
		t.Errorf("summary = %+v", sum)
	}
	got, _ := f.store.Get(context.Background(), p.ID)
	if !got.HasEmbedding() || got.VectorKey != "" {
		t.Errorf("product = %+v", got)
	}
}

func TestRunCancellation(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		f.add(t, core.Product{Name: "p"})
	}
	ctx, cancel := context.WithCancel(context.Background())

	sum, err := f.job(nil).Run(ctx, func(done, total int) {
		if done == 2 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sum.Skipped != 2 {
		t.Errorf("partial summary = %+v", sum)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	f := newFixture()
	f.add(t, core.Product{Name: "p"})
	job := f.job(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Run(context.Background(), func(int, int) {
			close(started)
			<-release
		})
	}()

	<-started
	if _, err := job.Run(context.Background(), nil); !errors.Is(err, ErrRunning) {
		t.Errorf("err = %v, want ErrRunning", err)
	}
	close(release)
	<-done
}

func TestRunThrottles(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.add(t, core.Product{Name: "p"})
	}
	job := NewJob(Config{Catalog: f.store, Index: f.index, Embedder: f.embedder, Images: f.images, Interval: 30 * time.Millisecond})

	start := time.Now()
	if _, err := job.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("run took %v, expected throttling", elapsed)
	}
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	job := newFixture().job(nil)
	if _, err := NewScheduler(job, "not a schedule", nil); err == nil {
		t.Error("expected error for invalid schedule")
	}
	s, err := NewScheduler(job, "@every 1h", nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

type imageIndex struct {
	*vector.MemoryIndex
	mu       sync.Mutex
	uploaded map[string][]byte
}

func (x *imageIndex) UpsertImage(ctx context.Context, key string, image []byte, payload map[string]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.uploaded[key] = image
	return nil
}

func (x *imageIndex) QueryImage(ctx context.Context, image []byte, limit int) ([]vector.Match, error) {
	return nil, nil
}

func TestRunImageNativeUploadsImages(t *testing.T) {
	f := newFixture()
	f.images["a.png"] = []byte("image-a")
	a := f.add(t, core.Product{Name: "A", Price: decimal.NewFromInt(1), ImageRef: "a.png"})
	f.add(t, core.Product{Name: "B", Price: decimal.NewFromInt(2), ImageRef: "gone.png"})

	index := &imageIndex{MemoryIndex: f.index, uploaded: map[string][]byte{}}
	job := NewJob(Config{
		Catalog:     f.store,
		Index:       index,
		Embedder:    f.embedder,
		Images:      f.images,
		Interval:    -1,
		ImageNative: true,
	})

	sum, err := job.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Processed != 1 || sum.Errors != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if string(index.uploaded["1"]) != "image-a" || len(index.uploaded) != 1 {
		t.Errorf("uploaded = %v", index.uploaded)
	}
	if f.embedder.calls != 0 {
		t.Errorf("embed calls = %d, want 0", f.embedder.calls)
	}
	got, _ := f.store.Get(context.Background(), a.ID)
	if got.VectorKey != "1" || got.HasEmbedding() {
		t.Errorf("A = %+v", got)
	}
}

type blockingEmbedder struct {
	embed.Embedder
	started   chan struct{}
	cancelled chan struct{}
}

func (e *blockingEmbedder) Embed(ctx context.Context, image []byte) ([]float64, error) {
	close(e.started)
	<-ctx.Done()
	close(e.cancelled)
	return nil, ctx.Err()
}

func TestSchedulerStopCancelsRunningJob(t *testing.T) {
	f := newFixture()
	f.images["a.png"] = []byte("image-a")
	f.add(t, core.Product{Name: "A", Price: decimal.NewFromInt(1), ImageRef: "a.png"})

	embedder := &blockingEmbedder{
		Embedder:  embed.NewMockEmbedder(dim),
		started:   make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	job := NewJob(Config{Catalog: f.store, Index: f.index, Embedder: embedder, Images: f.images, Interval: -1})

	s, err := NewScheduler(job, "@every 1s", nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()

	select {
	case <-embedder.started:
	case <-time.After(3 * time.Second):
		s.Stop(context.Background())
		t.Fatal("scheduled run did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case <-embedder.cancelled:
	default:
		t.Error("running job did not observe cancellation")
	}
	if !job.running.TryLock() {
		t.Fatal("job still running after Stop returned")
	}
	job.running.Unlock()
}
