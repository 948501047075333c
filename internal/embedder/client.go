package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/devstudio-tyler/company-on/pkg/config"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Client calls an HTTP embedding API. Ollama's /api/embed and the
// OpenAI-compatible /v1/embeddings shapes are supported.
type Client struct {
	http      *http.Client
	provider  string
	baseURL   string
	apiKey    string
	model     string
	dimension int
}

func NewClient(cfg config.EmbeddingConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderOllama
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		provider:  provider,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

func (c *Client) Name() string   { return c.model }
func (c *Client) Dimension() int { return c.dimension }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	path := "/api/embed"
	if c.provider == ProviderOpenAI {
		path = "/v1/embeddings"
	}
	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s error (status %d): %s", c.provider, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vectors [][]float32
	switch c.provider {
	case ProviderOpenAI:
		var out openAIResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
		for _, d := range out.Data {
			vectors = append(vectors, d.Embedding)
		}
	default:
		var out ollamaResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		vectors = out.Embeddings
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", c.provider, len(vectors), len(texts))
	}
	return vectors, nil
}

// Ping checks that the backend answers. Used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	path := "/api/tags"
	if c.provider == ProviderOpenAI {
		path = "/v1/models"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s health status %d", c.provider, resp.StatusCode)
	}
	return nil
}
