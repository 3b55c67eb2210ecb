package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// EmbeddingsClient calls the Ollama /api/embed endpoint.
type EmbeddingsClient struct {
	BaseURL string
	Model   string
	Retry   RetryConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewEmbeddingsClient creates a client. rps <= 0 disables request throttling.
func NewEmbeddingsClient(baseURL, model string, timeout time.Duration, rps float64) *EmbeddingsClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &EmbeddingsClient{
		BaseURL: baseURL,
		Model:   model,
		Retry:   DefaultRetryConfig(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// EmbeddingsRequest is the /api/embed request payload.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingsResponse is the /api/embed response. Older servers reply with a single
// "embedding".
type EmbeddingsResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Embedding  []float64   `json:"embedding,omitempty"`
}

// EmbedTexts returns one vector per text. A 404 reply unwraps to
// service.ErrModelNotProvisioned; transport errors and 5xx replies are retried.
func (c *EmbeddingsClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	body, err := json.Marshal(EmbeddingsRequest{Model: c.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return retryWithBackoff(ctx, c.Retry, func() ([][]float32, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.embedOnce(ctx, body, len(texts))
	})
}

func (c *EmbeddingsClient) embedOnce(ctx context.Context, body []byte, want int) ([][]float32, error) {
	url := fmt.Sprintf("%s/api/embed", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var embResp EmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	data := embResp.Embeddings
	if len(data) == 0 && len(embResp.Embedding) > 0 {
		data = [][]float64{embResp.Embedding}
	}

	if len(data) != want {
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(data))
	}

	result := make([][]float32, len(data))
	for i, emb := range data {
		if len(emb) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", i)
		}
		if len(emb) != len(data[0]) {
			return nil, fmt.Errorf("embedding %d has size %d, expected %d", i, len(emb), len(data[0]))
		}
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		result[i] = vec
	}
	return result, nil
}
