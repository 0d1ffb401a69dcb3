package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hubenschmidt/go-visearch/core"
)

// RESTIndex talks to a key/vector/payload index service over JSON.
type RESTIndex struct {
	remote
	prefix    string
	dimension int
}

type restUpsertRequest struct {
	ID      any            `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

type restSearchRequest struct {
	Vector []float64 `json:"vector"`
	Limit  int       `json:"limit"`
}

type restSearchResponse struct {
	Results []restHit `json:"results"`
}

type restHit struct {
	ID    any         `json:"id"`
	Score json.Number `json:"score"`
}

type restDeleteRequest struct {
	ID any `json:"id"`
}

func NewRESTIndex(cfg Config) *RESTIndex {
	prefix := cfg.PathPrefix
	if prefix == "" {
		prefix = DefaultConfig().PathPrefix
	}
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	return &RESTIndex{
		remote:    newRemote(cfg, DefaultConfig().BaseURL),
		prefix:    prefix,
		dimension: cfg.Dimension,
	}
}

func (x *RESTIndex) Upsert(ctx context.Context, key string, vec []float64, payload map[string]any) error {
	if err := checkDimension("upsert", x.dimension, vec); err != nil {
		return err
	}
	req := restUpsertRequest{ID: wireID(key), Vector: vec, Payload: payload}
	if err := x.call(ctx, "index.upsert", http.MethodPost, x.prefix+"/upsert", req, nil); err != nil {
		return withKey(err, key)
	}
	return nil
}

func (x *RESTIndex) Query(ctx context.Context, vec []float64, limit int) ([]Match, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	if err := checkDimension("query", x.dimension, vec); err != nil {
		return nil, err
	}

	var resp restSearchResponse
	req := restSearchRequest{Vector: vec, Limit: limit}
	if err := x.call(ctx, "index.query", http.MethodPost, x.prefix+"/search", req, &resp); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(resp.Results))
	for _, hit := range resp.Results {
		key, ok := keyOf(hit.ID)
		if !ok {
			return nil, core.NewServiceError("index.query", core.ErrIndex, fmt.Errorf("result has invalid id %v", hit.ID))
		}
		score, err := hit.Score.Float64()
		if err != nil {
			return nil, core.NewServiceError("index.query", core.ErrIndex, fmt.Errorf("result %s has invalid score: %w", key, err))
		}
		matches = append(matches, Match{Key: key, Score: score})
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (x *RESTIndex) Delete(ctx context.Context, key string) error {
	err := x.call(ctx, "index.delete", http.MethodPost, x.prefix+"/delete", restDeleteRequest{ID: wireID(key)}, nil)
	if err != nil && statusOf(err) == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return withKey(err, key)
	}
	return nil
}

func (x *RESTIndex) HealthCheck(ctx context.Context) bool {
	return x.probe(ctx, "/health")
}

func (x *RESTIndex) Name() string {
	return "rest"
}

func (x *RESTIndex) Close() error {
	x.client.CloseIdleConnections()
	return nil
}

// wireID sends numeric keys as JSON numbers; point ids in the index are integers.
func wireID(key string) any {
	if n, err := strconv.ParseUint(key, 10, 64); err == nil {
		return n
	}
	return key
}

func keyOf(id any) (string, bool) {
	switch v := id.(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

func withKey(err error, key string) error {
	if se, ok := err.(*core.ServiceError); ok {
		return core.WithKey(se, key)
	}
	return err
}
