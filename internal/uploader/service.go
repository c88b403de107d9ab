// Package uploader implements the upload services the media cache rotates
// through: catbox (permanent), litterbox (72 hour temporary) and a generic
// authenticated-PUT endpoint.
package uploader

import (
	"bytes"
	"context"
	"sync"
	"time"

	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/logging"
)

// Result is a completed upload. Expiry is nil for permanent hosting.
type Result struct {
	URL    string
	Expiry *time.Time
}

// Service uploads one file and returns its public URL. Permanent reports
// whether the host retains files indefinitely; the media cache routes
// permanent asset classes only to permanent hosts.
type Service interface {
	Name() string
	Permanent() bool
	Upload(ctx context.Context, filename string, data []byte) (*Result, error)
}

// bufferPool recycles multipart bodies between uploads.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	// Oversized buffers are dropped to keep the pool small
	if buf.Cap() <= 10*1024*1024 {
		bufferPool.Put(buf)
	}
}

// FromConfig builds the configured upload services in declaration order.
// Unknown kinds are skipped with a warning.
func FromConfig(services []config.MediaServiceConfig) []Service {
	var result []Service
	for _, svc := range services {
		timeout := time.Duration(svc.TimeoutSeconds) * time.Second
		switch svc.Kind {
		case "catbox":
			result = append(result, NewCatbox(svc.UserHash, timeout))
		case "litterbox":
			result = append(result, NewLitterbox(timeout))
		case "put":
			if svc.Endpoint == "" {
				logging.Warn("Skipping put upload service with empty endpoint")
				continue
			}
			result = append(result, NewPutUploader(svc.Endpoint, svc.Token, timeout))
		default:
			logging.Warn("Skipping unknown upload service kind %q", svc.Kind)
		}
	}
	return result
}
