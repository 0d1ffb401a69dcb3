package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/hubenschmidt/go-visearch/core"
)

// CLIPClient talks to the CLIP embedding service (POST /embed).
type CLIPClient struct {
	baseURL   string
	apiKey    string
	dimension int
	client    *http.Client
}

type clipEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func NewCLIPClient(cfg ClientConfig) *CLIPClient {
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &CLIPClient{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Embed uploads the image as the multipart field "image" and returns its embedding.
func (c *CLIPClient) Embed(ctx context.Context, image []byte) ([]float64, error) {
	body, contentType, err := multipartImage(image)
	if err != nil {
		return nil, core.NewServiceError("embed", core.ErrEmbeddingService, fmt.Errorf("build request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", body)
	if err != nil {
		return nil, core.NewServiceError("embed", core.ErrEmbeddingService, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, core.Unavailable("embed", core.ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, core.StatusError("embed", core.ErrEmbeddingService, resp.StatusCode, string(respBody))
	}

	var result clipEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if core.IsTimeout(err) {
			return nil, core.Unavailable("embed", core.ErrEmbeddingUnavailable, err)
		}
		return nil, core.NewServiceError("embed", core.ErrEmbeddingService, fmt.Errorf("decode response: %w", err))
	}
	if result.Error != "" {
		return nil, core.NewServiceError("embed", core.ErrEmbeddingService, fmt.Errorf("service: %s", result.Error))
	}
	if len(result.Embedding) == 0 {
		return nil, core.NewServiceError("embed", core.ErrEmbeddingService, fmt.Errorf("no embedding in response"))
	}
	if c.dimension > 0 && len(result.Embedding) != c.dimension {
		return nil, core.NewServiceError("embed", core.ErrEmbeddingService,
			fmt.Errorf("dimension mismatch: expected %d, got %d", c.dimension, len(result.Embedding)))
	}

	return result.Embedding, nil
}

func (c *CLIPClient) Dimension() int {
	return c.dimension
}

func multipartImage(image []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", "image"+extensionFor(image))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
