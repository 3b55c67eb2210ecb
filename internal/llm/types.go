package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"pkm-search/internal/service"
)

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks pkm-search/internal/llm Embedder
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_generator.go -package=mocks pkm-search/internal/llm Generator

// Embedder turns texts into vectors of equal width, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator completes a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerateOptions are the sampling parameters sent with every generation request.
type GenerateOptions struct {
	NumCtx      int     `json:"num_ctx"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// DefaultGenerateOptions keeps answers short and close to the context.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		NumCtx:      4096,
		Temperature: 0.2,
		TopP:        0.9,
	}
}

// StatusError is a non-200 reply from the model server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status %d: %s", e.StatusCode, e.Body)
}

// Unwrap classifies the status: 404 means the model has not been pulled yet.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return service.ErrModelNotProvisioned
	}
	return service.ErrExternalService
}

// retryable reports whether a failed call may succeed when repeated: transport failures and
// 5xx replies are, client errors are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}
