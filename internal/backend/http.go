package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/af-corp/hearth/internal/config"
)

const maxResponseBytes = 4 << 20

// HTTPBackend talks JSON over HTTP: POST {base_url}/query and GET {base_url}/health.
type HTTPBackend struct {
	name   string
	cfg    config.BackendConfig
	client *http.Client
	health *GRPCHealth
}

func NewHTTPBackend(name string, cfg config.BackendConfig, client *http.Client) *HTTPBackend {
	return &HTTPBackend{name: name, cfg: cfg, client: client}
}

func (b *HTTPBackend) Name() string { return b.name }

func (b *HTTPBackend) Call(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := b.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", b.name, err)
	}
	return b.decodeResponse(resp)
}

func (b *HTTPBackend) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", b.name, err)
	}

	url := strings.TrimRight(b.cfg.BaseURL, "/") + "/query"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
	for k, v := range b.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	return httpReq, nil
}

func (b *HTTPBackend) decodeResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", b.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d: %s", b.name, resp.StatusCode, truncate(string(body), 200))
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal %s response: %w", b.name, err)
	}
	if out.Source == "" {
		out.Source = b.cfg.Source
	}
	if out.Source == "" {
		out.Source = b.name
	}
	for i := range out.Items {
		if out.Items[i].Source == "" {
			out.Items[i].Source = out.Source
		}
	}
	return &out, nil
}

// Health prefers the gRPC health service when one is configured.
func (b *HTTPBackend) Health(ctx context.Context) bool {
	if b.health != nil {
		return b.health.Check(ctx)
	}

	url := strings.TrimRight(b.cfg.BaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Close releases the gRPC health connection, if any.
func (b *HTTPBackend) Close() error {
	if b.health != nil {
		return b.health.Close()
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
