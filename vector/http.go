package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/go-visearch/core"
)

// remote is the JSON-over-HTTP plumbing shared by the REST and GraphQL backends.
type remote struct {
	baseURL       string
	apiKey        string
	healthTimeout time.Duration
	client        *http.Client
}

func newRemote(cfg Config, defaultURL string) remote {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = def.HealthTimeout
	}
	return remote{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		healthTimeout: cfg.HealthTimeout,
		client:        &http.Client{Timeout: cfg.Timeout},
	}
}

// call sends in as JSON (when non-nil) and decodes a 2xx response into out
// (when non-nil). Non-2xx responses yield a ServiceError carrying the status.
func (r remote) call(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return core.NewServiceError(op, core.ErrIndex, fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return core.NewServiceError(op, core.ErrIndex, fmt.Errorf("create request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return core.Unavailable(op, core.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return core.StatusError(op, core.ErrIndex, resp.StatusCode, string(respBody))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if core.IsTimeout(err) {
			return core.Unavailable(op, core.ErrIndexUnavailable, err)
		}
		return core.NewServiceError(op, core.ErrIndex, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// probe reports whether GET path answers 2xx within the health timeout.
func (r remote) probe(ctx context.Context, path string) bool {
	ctx, cancel := healthContext(ctx, r.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return false
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func statusOf(err error) int {
	if se, ok := err.(*core.ServiceError); ok {
		return se.Status
	}
	return 0
}
