package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkm-search/internal/service"
)

// Client calls the Ollama /api/generate endpoint.
type Client struct {
	BaseURL string
	Model   string
	Options GenerateOptions
	client  *http.Client
}

// NewClient creates a generation client.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: baseURL,
		Model:   model,
		Options: DefaultGenerateOptions(),
		client:  &http.Client{Timeout: timeout},
	}
}

// GenerateRequest is the /api/generate request payload.
type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options GenerateOptions `json:"options"`
}

// GenerateResponse is the non-streaming /api/generate response.
type GenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate sends prompt and returns the trimmed reply. Every failure wraps
// service.ErrGenerationFailed.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/api/generate", c.BaseURL)

	body, err := json.Marshal(GenerateRequest{
		Model:   c.Model,
		Prompt:  prompt,
		Stream:  false,
		Options: c.Options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: failed to send request: %w", service.ErrGenerationFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: %w", service.ErrGenerationFailed, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)})
	}

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", service.ErrGenerationFailed, err)
	}
	return strings.TrimSpace(genResp.Response), nil
}
