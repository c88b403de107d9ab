package uploader

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	botnet "DiscordContextBot/internal/net"
)

const (
	catboxAPIURL    = "https://catbox.moe/user/api.php"
	litterboxAPIURL = "https://litterbox.catbox.moe/resources/internals/api.php"

	// Litterbox's longest retention tier.
	litterboxRetention = 72 * time.Hour
)

// Catbox uploads to catbox.moe. Hosting is permanent; an optional user hash
// ties uploads to an account.
type Catbox struct {
	userHash string
	client   *http.Client
}

// NewCatbox creates a catbox upload service.
func NewCatbox(userHash string, timeout time.Duration) *Catbox {
	return &Catbox{
		userHash: userHash,
		client:   botnet.NewOptimizedClient(timeout),
	}
}

// Name identifies the service in logs and cache entries.
func (c *Catbox) Name() string { return "catbox" }

// Permanent reports that catbox keeps files indefinitely.
func (c *Catbox) Permanent() bool { return true }

// Upload sends the file as a multipart fileupload request.
func (c *Catbox) Upload(ctx context.Context, filename string, data []byte) (*Result, error) {
	fields := map[string]string{"reqtype": "fileupload"}
	if c.userHash != "" {
		fields["userhash"] = c.userHash
	}
	url, err := multipartUpload(ctx, c.client, catboxAPIURL, fields, filename, data)
	if err != nil {
		return nil, fmt.Errorf("catbox upload failed: %w", err)
	}
	return &Result{URL: url}, nil
}

// Litterbox uploads to litterbox.catbox.moe, which keeps files for 72 hours.
type Litterbox struct {
	client *http.Client
}

// NewLitterbox creates a litterbox upload service.
func NewLitterbox(timeout time.Duration) *Litterbox {
	return &Litterbox{client: botnet.NewOptimizedClient(timeout)}
}

// Name identifies the service in logs and cache entries.
func (l *Litterbox) Name() string { return "litterbox" }

// Permanent reports that litterbox expires files.
func (l *Litterbox) Permanent() bool { return false }

// Upload sends the file with the 72 hour retention tier and reports the
// resulting expiry.
func (l *Litterbox) Upload(ctx context.Context, filename string, data []byte) (*Result, error) {
	fields := map[string]string{"reqtype": "fileupload", "time": "72h"}
	url, err := multipartUpload(ctx, l.client, litterboxAPIURL, fields, filename, data)
	if err != nil {
		return nil, fmt.Errorf("litterbox upload failed: %w", err)
	}
	expiry := time.Now().Add(litterboxRetention)
	return &Result{URL: url, Expiry: &expiry}, nil
}

// multipartUpload performs the catbox-style multipart POST shared by both
// hosts and returns the plain-text URL body.
func multipartUpload(ctx context.Context, client *http.Client, endpoint string, fields map[string]string, filename string, data []byte) (string, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	writer := multipart.NewWriter(buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}
	part, err := writer.CreateFormFile("fileToUpload", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	url := strings.TrimSpace(string(body))
	if !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("unexpected response body: %s", url)
	}
	return url, nil
}
