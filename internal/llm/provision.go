package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/service"
)

// Provisioner makes sure a model is present on the Ollama server.
type Provisioner struct {
	baseURL      string
	model        string
	client       *http.Client
	pullClient   *http.Client
	readyTimeout time.Duration
	pollInterval time.Duration
}

// NewProvisioner creates a provisioner for model.
func NewProvisioner(baseURL, model string) *Provisioner {
	return &Provisioner{
		baseURL:      baseURL,
		model:        model,
		client:       &http.Client{Timeout: 30 * time.Second},
		pullClient:   &http.Client{},
		readyTimeout: 60 * time.Second,
		pollInterval: time.Second,
	}
}

// TagsResponse is the /api/tags payload.
type TagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// PullRequest is the /api/pull payload.
type PullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// WaitReady polls /api/tags until the server answers 200 or the ready timeout passes.
func (p *Provisioner) WaitReady(ctx context.Context) error {
	deadline := time.Now().Add(p.readyTimeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := p.client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("model server not ready at %s: %w", p.baseURL, service.ErrExternalService)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// HasModel reports whether the model is listed by /api/tags. A name without a tag matches
// its ":latest" variant.
func (p *Provisioner) HasModel(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to list models: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var tags TagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Errorf("failed to decode tags response: %w", err)
	}
	for _, m := range tags.Models {
		for _, name := range []string{m.Name, m.Model} {
			if sameModel(name, p.model) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Pull downloads the model and blocks until the server reports completion.
func (p *Provisioner) Pull(ctx context.Context) error {
	body, err := json.Marshal(PullRequest{Name: p.model, Stream: false})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.pullClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to pull model %s: %w", p.model, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("failed to pull model %s: %w", p.model, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)})
	}
	return nil
}

// EnsureModel waits for the server and pulls the model when it is missing.
func (p *Provisioner) EnsureModel(ctx context.Context) error {
	logger := contextutil.LoggerFromContext(ctx)

	if err := p.WaitReady(ctx); err != nil {
		return err
	}
	present, err := p.HasModel(ctx)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	logger.InfoContext(ctx, "pulling model", "model", p.model)
	start := time.Now()
	if err := p.Pull(ctx); err != nil {
		return err
	}
	logger.InfoContext(ctx, "model pulled", "model", p.model, "duration", time.Since(start))
	return nil
}

func sameModel(listed, want string) bool {
	if listed == "" {
		return false
	}
	if listed == want {
		return true
	}
	return !strings.Contains(want, ":") && listed == want+":latest"
}

type provisionState int

const (
	stateNormal provisionState = iota
	stateProvisioning
)

func (s provisionState) String() string {
	if s == stateProvisioning {
		return "provisioning"
	}
	return "normal"
}

type textEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type modelProvisioner interface {
	EnsureModel(ctx context.Context) error
}

// ProvisioningEmbedder retries an embedding call exactly once after provisioning the model
// when the server reports it missing. Every other failure surfaces as service.ErrFetchFailed.
type ProvisioningEmbedder struct {
	embedder    textEmbedder
	provisioner modelProvisioner
}

// NewProvisioningEmbedder wraps embedder with the provisioning policy.
func NewProvisioningEmbedder(embedder textEmbedder, provisioner modelProvisioner) *ProvisioningEmbedder {
	return &ProvisioningEmbedder{embedder: embedder, provisioner: provisioner}
}

// Embed implements Embedder.
func (p *ProvisioningEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	state := stateNormal
	for {
		vecs, err := p.embedder.EmbedTexts(ctx, texts)
		switch {
		case err == nil:
			return vecs, nil

		case state == stateNormal && errors.Is(err, service.ErrModelNotProvisioned):
			state = stateProvisioning
			contextutil.LoggerFromContext(ctx).WarnContext(ctx, "embedding model missing", "state", state.String())
			if perr := p.provisioner.EnsureModel(ctx); perr != nil {
				return nil, fmt.Errorf("%w: provisioning failed: %w", service.ErrFetchFailed, perr)
			}

		default:
			return nil, fmt.Errorf("%w: %w", service.ErrFetchFailed, err)
		}
	}
}
