// Package ocr implements the image triage pipeline: cheap pre-validation of
// candidate images, a bounded work queue with worker tasks, OCR extraction and
// rulebook routing of the recognised text.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/interfaces"
	"DiscordContextBot/internal/logging"
	botnet "DiscordContextBot/internal/net"
)

// Job is one unit of OCR work: an image URL plus the message it came from.
type Job struct {
	GuildID    string
	ChannelID  string
	MessageID  string
	AuthorID   string
	ImageURL   string
	Language   string
	EnqueuedAt time.Time
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	TotalEnqueued  int64 `json:"total_enqueued"`
	TotalProcessed int64 `json:"total_processed"`
	TotalRejected  int64 `json:"total_rejected"`
	HighWatermark  int64 `json:"high_watermark"`
	QueueLength    int   `json:"queue_length"`
	QueueCapacity  int   `json:"queue_capacity"`
}

// Responder receives the OCR text of a processed job.
type Responder interface {
	HandleOCRText(ctx context.Context, job Job, text string)
}

// Pipeline is the process-global bounded OCR queue plus its workers.
type Pipeline struct {
	queue          chan Job
	engine         interfaces.OCREngine
	responder      Responder
	client         *http.Client
	enqueueTimeout time.Duration

	totalEnqueued  atomic.Int64
	totalProcessed atomic.Int64
	totalRejected  atomic.Int64
	highWatermark  atomic.Int64

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewPipeline creates the pipeline and starts its workers.
func NewPipeline(engine interfaces.OCREngine, responder Responder, queueSize, workers int) *Pipeline {
	if queueSize <= 0 {
		queueSize = config.DefaultOCRQueueSize
	}
	if workers <= 0 {
		workers = config.DefaultOCRWorkerCount
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		queue:          make(chan Job, queueSize),
		engine:         engine,
		responder:      responder,
		client:         botnet.NewOptimizedClient(30 * time.Second),
		enqueueTimeout: config.OCREnqueueTimeoutSeconds * time.Second,
		cancel:         cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Close stops the workers after the queue drains of in-flight jobs.
func (p *Pipeline) Close() {
	p.stopOnce.Do(func() {
		p.cancel()
	})
	p.wg.Wait()
}

// Enqueue offers a job with a bounded wait. It reports false when the queue
// stayed full for the whole timeout, counting the rejection.
func (p *Pipeline) Enqueue(job Job) bool {
	job.EnqueuedAt = time.Now()
	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()
	select {
	case p.queue <- job:
		p.totalEnqueued.Add(1)
		depth := int64(len(p.queue))
		for {
			current := p.highWatermark.Load()
			if depth <= current || p.highWatermark.CompareAndSwap(current, depth) {
				break
			}
		}
		if float64(depth) >= float64(cap(p.queue))*config.OCRQueueWarnRatio {
			logging.Warn("OCR queue at %d/%d", depth, cap(p.queue))
		}
		return true
	case <-timer.C:
		p.totalRejected.Add(1)
		logging.Warn("OCR queue full, rejected image from channel %s", job.ChannelID)
		return false
	}
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		TotalEnqueued:  p.totalEnqueued.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalRejected:  p.totalRejected.Load(),
		HighWatermark:  p.highWatermark.Load(),
		QueueLength:    len(p.queue),
		QueueCapacity:  cap(p.queue),
	}
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.process(ctx, job)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, job Job) {
	defer p.totalProcessed.Add(1)

	data, err := p.fetchImage(ctx, job.ImageURL)
	if err != nil {
		logging.Warn("OCR download failed for %s: %v", job.ImageURL, err)
		return
	}
	language := job.Language
	if language == "" {
		language = config.DefaultOCRLanguage
	}
	text, err := p.engine.Recognize(ctx, data, language)
	if err != nil {
		logging.Warn("OCR failed for %s: %v", job.ImageURL, err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		logging.Debug("OCR produced no text for %s", job.ImageURL)
		return
	}
	p.responder.HandleOCRText(ctx, job, text)
}

func (p *Pipeline) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return readAllCapped(resp.Body, config.MaxOCRImageBytes)
}

// ValidateImage applies the cheap admission rules to raw image bytes:
// size under the cap and dimensions above the floor.
func ValidateImage(data []byte) bool {
	if len(data) == 0 || len(data) >= config.MaxOCRImageBytes {
		return false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return cfg.Width > config.MinOCRImageWidth && cfg.Height > config.MinOCRImageHeight
}

// ValidateAttachment applies the admission rules using Discord's attachment
// metadata, avoiding a download when the gateway already supplies dimensions.
func ValidateAttachment(contentType string, size, width, height int) bool {
	if !strings.HasPrefix(contentType, "image/") {
		return false
	}
	if size <= 0 || size >= config.MaxOCRImageBytes {
		return false
	}
	return width > config.MinOCRImageWidth && height > config.MinOCRImageHeight
}

// ValidateURL HEADs a candidate URL and probes its dimensions. It downloads
// at most the byte cap.
func (p *Pipeline) ValidateURL(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return false
	}
	if resp.ContentLength <= 0 || resp.ContentLength >= config.MaxOCRImageBytes {
		return false
	}
	data, err := p.fetchImage(ctx, url)
	if err != nil {
		return false
	}
	return ValidateImage(data)
}

func readAllCapped(r io.Reader, limit int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > limit {
		return nil, fmt.Errorf("image exceeds %d byte limit", limit)
	}
	return data, nil
}
