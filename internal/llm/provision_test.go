package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pkm-search/internal/service"
)

type fakeTextEmbedder struct {
	errs  []error
	calls int
}

func (f *fakeTextEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return [][]float32{{1, 0}}, nil
}

type fakeProvisioner struct {
	err   error
	calls int
}

func (f *fakeProvisioner) EnsureModel(ctx context.Context) error {
	f.calls++
	return f.err
}

var notProvisioned = &StatusError{StatusCode: http.StatusNotFound, Body: "model not found"}

func TestProvisioningEmbedder(t *testing.T) {
	tests := []struct {
		name           string
		errs           []error
		provisionErr   error
		wantErr        bool
		wantCalls      int
		wantProvisions int
	}{
		{
			name:      "normal success",
			wantCalls: 1,
		},
		{
			name:           "missing model provisioned then succeeds",
			errs:           []error{notProvisioned},
			wantCalls:      2,
			wantProvisions: 1,
		},
		{
			name:           "missing twice fails after one provisioning",
			errs:           []error{notProvisioned, notProvisioned},
			wantErr:        true,
			wantCalls:      2,
			wantProvisions: 1,
		},
		{
			name:           "provisioning fails",
			errs:           []error{notProvisioned},
			provisionErr:   errors.New("pull failed"),
			wantErr:        true,
			wantCalls:      1,
			wantProvisions: 1,
		},
		{
			name:      "other failure is not provisioned",
			errs:      []error{&StatusError{StatusCode: http.StatusInternalServerError}},
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := &fakeTextEmbedder{errs: tt.errs}
			prov := &fakeProvisioner{err: tt.provisionErr}
			p := NewProvisioningEmbedder(emb, prov)

			_, err := p.Embed(context.Background(), []string{"q"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Embed() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, service.ErrFetchFailed) {
				t.Errorf("Embed() error = %v, want ErrFetchFailed", err)
			}
			if emb.calls != tt.wantCalls {
				t.Errorf("embed calls = %d, want %d", emb.calls, tt.wantCalls)
			}
			if prov.calls != tt.wantProvisions {
				t.Errorf("provision calls = %d, want %d", prov.calls, tt.wantProvisions)
			}
		})
	}
}

func TestProvisioner_EnsureModel(t *testing.T) {
	tests := []struct {
		name      string
		models    []string
		model     string
		wantPulls int32
	}{
		{"present", []string{"nomic-embed-text:latest"}, "nomic-embed-text", 0},
		{"present exact", []string{"llama3.1:8b"}, "llama3.1:8b", 0},
		{"missing", []string{"other:latest"}, "nomic-embed-text", 1},
		{"different tag", []string{"llama3.1:70b"}, "llama3.1:8b", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pulls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/api/tags":
					var resp TagsResponse
					for _, m := range tt.models {
						resp.Models = append(resp.Models, struct {
							Name  string `json:"name"`
							Model string `json:"model"`
						}{Name: m, Model: m})
					}
					_ = json.NewEncoder(w).Encode(resp)
				case "/api/pull":
					var req PullRequest
					_ = json.NewDecoder(r.Body).Decode(&req)
					if req.Name != tt.model || req.Stream {
						t.Errorf("unexpected pull request %+v", req)
					}
					pulls.Add(1)
					_, _ = w.Write([]byte(`{"status":"success"}`))
				default:
					http.NotFound(w, r)
				}
			}))
			defer server.Close()

			p := NewProvisioner(server.URL, tt.model)
			if err := p.EnsureModel(context.Background()); err != nil {
				t.Fatalf("EnsureModel() error = %v", err)
			}
			if pulls.Load() != tt.wantPulls {
				t.Errorf("pulls = %d, want %d", pulls.Load(), tt.wantPulls)
			}
		})
	}
}

func TestProvisioner_WaitReadyTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "starting", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewProvisioner(server.URL, "m")
	p.readyTimeout = 20 * time.Millisecond
	p.pollInterval = 5 * time.Millisecond

	err := p.WaitReady(context.Background())
	if !errors.Is(err, service.ErrExternalService) {
		t.Errorf("WaitReady() error = %v, want ErrExternalService", err)
	}
}
