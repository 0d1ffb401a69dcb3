package vector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hubenschmidt/go-visearch/core"
)

// GraphQLIndex is a Weaviate-style object store: objects are written over
// REST and searched with GraphQL nearVector / nearImage queries.
type GraphQLIndex struct {
	remote
	class      string
	vectorizer string
	dimension  int
}

type gqlObject struct {
	Class      string         `json:"class"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Vector     []float64      `json:"vector,omitempty"`
}

type gqlRequest struct {
	Query string `json:"query"`
}

type gqlResponse struct {
	Data struct {
		Get map[string][]gqlHit `json:"Get"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type gqlHit struct {
	Key        string `json:"key"`
	Additional struct {
		ID        string      `json:"id"`
		Certainty json.Number `json:"certainty"`
	} `json:"_additional"`
}

func NewGraphQLIndex(cfg Config) *GraphQLIndex {
	def := DefaultConfig()
	if cfg.Class == "" {
		cfg.Class = def.Class
	}
	if cfg.Vectorizer == "" {
		cfg.Vectorizer = def.Vectorizer
	}
	return &GraphQLIndex{
		remote:     newRemote(cfg, "http://localhost:8080/v1"),
		class:      cfg.Class,
		vectorizer: cfg.Vectorizer,
		dimension:  cfg.Dimension,
	}
}

// EnsureSchema creates the object class. An existing class is not an error.
func (x *GraphQLIndex) EnsureSchema(ctx context.Context) error {
	class := map[string]any{
		"class":       x.class,
		"description": "A product with image and metadata",
		"vectorizer":  x.vectorizer,
		"moduleConfig": map[string]any{
			x.vectorizer: map[string]any{"imageFields": []string{"image"}},
		},
		"properties": []map[string]any{
			{"name": "key", "dataType": []string{"text"}},
			{"name": "name", "dataType": []string{"text"}},
			{"name": "price", "dataType": []string{"number"}},
			{"name": "image_path", "dataType": []string{"text"}},
			{"name": "image", "dataType": []string{"blob"}},
		},
	}

	err := x.call(ctx, "index.schema", http.MethodPost, "/schema", class, nil)
	if err != nil && statusOf(err) == http.StatusUnprocessableEntity && strings.Contains(err.Error(), "already exists") {
		return nil
	}
	return err
}

func (x *GraphQLIndex) Upsert(ctx context.Context, key string, vec []float64, payload map[string]any) error {
	if err := checkDimension("upsert", x.dimension, vec); err != nil {
		return err
	}
	obj := gqlObject{Class: x.class, ID: x.objectID(key), Properties: x.properties(key, payload), Vector: vec}
	return withKey(x.put(ctx, obj), key)
}

// UpsertImage stores the image and lets the server-side vectorizer embed it.
func (x *GraphQLIndex) UpsertImage(ctx context.Context, key string, image []byte, payload map[string]any) error {
	props := x.properties(key, payload)
	props["image"] = base64.StdEncoding.EncodeToString(image)
	obj := gqlObject{Class: x.class, ID: x.objectID(key), Properties: props}
	return withKey(x.put(ctx, obj), key)
}

func (x *GraphQLIndex) put(ctx context.Context, obj gqlObject) error {
	path := fmt.Sprintf("/objects/%s/%s", x.class, obj.ID)
	err := x.call(ctx, "index.upsert", http.MethodPut, path, obj, nil)
	if err == nil || statusOf(err) != http.StatusNotFound {
		return err
	}
	return x.call(ctx, "index.upsert", http.MethodPost, "/objects", obj, nil)
}

func (x *GraphQLIndex) Query(ctx context.Context, vec []float64, limit int) ([]Match, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	if err := checkDimension("query", x.dimension, vec); err != nil {
		return nil, err
	}
	return x.search(ctx, fmt.Sprintf("nearVector: {vector: %s}", formatVector(vec)), limit)
}

// QueryImage searches with a nearImage clause.
func (x *GraphQLIndex) QueryImage(ctx context.Context, image []byte, limit int) ([]Match, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, core.Invalid("query image is empty")
	}
	clause := fmt.Sprintf("nearImage: {image: %q}", base64.StdEncoding.EncodeToString(image))
	return x.search(ctx, clause, limit)
}

func (x *GraphQLIndex) search(ctx context.Context, clause string, limit int) ([]Match, error) {
	query := fmt.Sprintf(`{ Get { %s(%s, limit: %d) { key _additional { id certainty } } } }`, x.class, clause, limit)

	var resp gqlResponse
	if err := x.call(ctx, "index.query", http.MethodPost, "/graphql", gqlRequest{Query: query}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, core.NewServiceError("index.query", core.ErrIndex, fmt.Errorf("graphql: %s", strings.Join(msgs, "; ")))
	}

	hits := resp.Data.Get[x.class]
	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		key := hit.Key
		if key == "" {
			key = hit.Additional.ID
		}
		score, _ := hit.Additional.Certainty.Float64()
		matches = append(matches, Match{Key: key, Score: score})
	}
	return matches, nil
}

func (x *GraphQLIndex) Delete(ctx context.Context, key string) error {
	path := fmt.Sprintf("/objects/%s/%s", x.class, x.objectID(key))
	err := x.call(ctx, "index.delete", http.MethodDelete, path, nil, nil)
	if err != nil && statusOf(err) == http.StatusNotFound {
		return nil
	}
	return withKey(err, key)
}

func (x *GraphQLIndex) HealthCheck(ctx context.Context) bool {
	return x.probe(ctx, "/.well-known/ready")
}

func (x *GraphQLIndex) Name() string {
	return "graphql"
}

func (x *GraphQLIndex) Close() error {
	x.client.CloseIdleConnections()
	return nil
}

// objectID maps a key to a stable UUID; object ids in the store must be UUIDs.
func (x *GraphQLIndex) objectID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("visearch:"+x.class+":"+key)).String()
}

func (x *GraphQLIndex) properties(key string, payload map[string]any) map[string]any {
	props := map[string]any{"key": key}
	for _, name := range []string{"name", "price", "image_path"} {
		if v, ok := payload[name]; ok {
			props[name] = v
		}
	}
	return props
}

func formatVector(vec []float64) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
