package products

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hubenschmidt/go-visearch/catalog"
	"github.com/hubenschmidt/go-visearch/core"
	"github.com/hubenschmidt/go-visearch/embed"
	"github.com/hubenschmidt/go-visearch/media"
	"github.com/hubenschmidt/go-visearch/vector"
	"github.com/shopspring/decimal"
)

var pngImage = []byte("\x89PNG\r\n\x1a\nproduct")

type downEmbedder struct{}

func (downEmbedder) Embed(ctx context.Context, image []byte) ([]float64, error) {
	return nil, core.Unavailable("embed", core.ErrEmbeddingUnavailable, errors.New("connection refused"))
}

func (downEmbedder) Dimension() int { return 4 }

func newService(t *testing.T, e embed.Embedder) (*Service, *catalog.MemoryStore, *vector.MemoryIndex, *media.Store) {
	t.Helper()
	m, err := media.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("media.NewStore: %v", err)
	}
	store := catalog.NewMemoryStore()
	index := vector.NewMemoryIndex(4)
	svc := NewService(Config{Catalog: store, Index: index, Embedder: e, Media: m})
	return svc, store, index, m
}

func TestCreateIndexesProduct(t *testing.T) {
	svc, store, index, m := newService(t, embed.NewMockEmbedder(4))
	ctx := context.Background()

	p, err := svc.Create(ctx, NewProduct{Name: "Vase", Price: decimal.RequireFromString("19.99"), Image: pngImage})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == 0 || p.VectorKey != p.IndexKey() || !p.HasEmbedding() {
		t.Errorf("product = %+v", p)
	}
	stored, _ := store.Get(ctx, p.ID)
	if stored.VectorKey != p.VectorKey {
		t.Errorf("stored key = %q", stored.VectorKey)
	}
	if index.Count() != 1 {
		t.Errorf("index count = %d", index.Count())
	}
	if data, err := m.Read(p.ImageRef); err != nil || string(data) != string(pngImage) {
		t.Errorf("stored image: %v", err)
	}
}

func TestCreateWithEmbeddingDown(t *testing.T) {
	svc, store, index, _ := newService(t, downEmbedder{})

	p, err := svc.Create(context.Background(), NewProduct{Name: "Vase", Image: pngImage})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stored, err := store.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.VectorKey != "" || stored.ImageRef == "" {
		t.Errorf("stored = %+v", stored)
	}
	if index.Count() != 0 {
		t.Errorf("index count = %d", index.Count())
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc, store, _, _ := newService(t, embed.NewMockEmbedder(4))
	tests := []NewProduct{
		{Name: "", Image: pngImage},
		{Name: "x", Price: decimal.NewFromInt(-5)},
		{Name: "x", Image: []byte("not an image")},
	}
	for _, in := range tests {
		if _, err := svc.Create(context.Background(), in); !errors.Is(err, core.ErrInvalidArgument) {
			t.Errorf("Create(%+v): err = %v", in.Name, err)
		}
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestDeleteRemovesVectorAndImage(t *testing.T) {
	svc, store, index, m := newService(t, embed.NewMockEmbedder(4))
	ctx := context.Background()

	p, _ := svc.Create(ctx, NewProduct{Name: "Vase", Image: pngImage})
	vec, _ := embed.NewMockEmbedder(4).Embed(ctx, pngImage)

	if err := svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, p.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("product still present: %v", err)
	}
	hits, _ := index.Query(ctx, vec, 5)
	for _, h := range hits {
		if h.Key == p.VectorKey {
			t.Errorf("deleted key %s still returned", h.Key)
		}
	}
	if _, err := m.Read(p.ImageRef); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("image still present: %v", err)
	}
	if err := svc.Delete(ctx, p.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second Delete: err = %v", err)
	}
}

func TestListPaginates(t *testing.T) {
	svc, _, _, _ := newService(t, embed.NewMockEmbedder(4))
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		if _, err := svc.Create(ctx, NewProduct{Name: name}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	page, err := svc.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 5 || len(page.Products) != 2 || page.Products[0].Name != "c" {
		t.Errorf("page = %+v", page)
	}

	page, _ = svc.List(ctx, 9, 2)
	if page.Products == nil || len(page.Products) != 0 {
		t.Errorf("out of range page = %+v", page)
	}

	page, _ = svc.List(ctx, 0, 1000)
	if page.Page != 1 || page.PerPage != MaxPerPage {
		t.Errorf("clamped page = %+v", page)
	}
}

func TestCreateImageNativeSendsImageToIndex(t *testing.T) {
	var stored map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&stored)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, err := media.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("media.NewStore: %v", err)
	}
	store := catalog.NewMemoryStore()
	svc := NewService(Config{
		Catalog:     store,
		Index:       vector.NewGraphQLIndex(vector.Config{BaseURL: srv.URL, Dimension: 4}),
		Embedder:    downEmbedder{},
		Media:       m,
		ImageNative: true,
	})

	p, err := svc.Create(context.Background(), NewProduct{Name: "Vase", Price: decimal.NewFromInt(5), Image: pngImage})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.VectorKey != p.IndexKey() || p.HasEmbedding() {
		t.Errorf("product = %+v", p)
	}

	props, _ := stored["properties"].(map[string]any)
	if props["image"] != base64.StdEncoding.EncodeToString(pngImage) || props["image_path"] != p.ImageRef {
		t.Errorf("properties = %v", props)
	}
	if _, ok := stored["vector"]; ok {
		t.Error("client vector sent in image-native mode")
	}
}
