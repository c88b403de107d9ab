package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	botnet "DiscordContextBot/internal/net"
)

// PutUploader uploads by HTTP PUT to <endpoint>/<filename> with an optional
// bearer token. The response body, when present, overrides the constructed
// URL; hosting is treated as permanent.
type PutUploader struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewPutUploader creates an authenticated-PUT upload service.
func NewPutUploader(endpoint, token string, timeout time.Duration) *PutUploader {
	return &PutUploader{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   botnet.NewOptimizedClient(timeout),
	}
}

// Name identifies the service in logs and cache entries.
func (p *PutUploader) Name() string { return "put" }

// Permanent reports that the endpoint retains files indefinitely.
func (p *PutUploader) Permanent() bool { return true }

// Upload PUTs the raw bytes and returns the public URL.
func (p *PutUploader) Upload(ctx context.Context, filename string, data []byte) (*Result, error) {
	target := p.endpoint + "/" + filename
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("put upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	url := strings.TrimSpace(string(body))
	if !strings.HasPrefix(url, "http") {
		url = target
	}
	return &Result{URL: url}, nil
}
