package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"DiscordContextBot/internal/config"
)

type fakeEngine struct {
	text string
	err  error
}

func (f *fakeEngine) Recognize(ctx context.Context, img []byte, language string) (string, error) {
	return f.text, f.err
}

type recordingResponder struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (r *recordingResponder) HandleOCRText(ctx context.Context, job Job, text string) {
	r.mu.Lock()
	r.calls = append(r.calls, text)
	r.mu.Unlock()
	select {
	case r.done <- struct{}{}:
	default:
	}
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPipelineProcessesJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes(t, 400, 300))
	}))
	defer srv.Close()

	responder := &recordingResponder{done: make(chan struct{}, 1)}
	p := NewPipeline(&fakeEngine{text: "FATAL ERROR: v6 not supported"}, responder, 10, 1)
	defer p.Close()

	if !p.Enqueue(Job{ChannelID: "c1", ImageURL: srv.URL + "/img.png"}) {
		t.Fatal("enqueue failed")
	}
	select {
	case <-responder.done:
	case <-time.After(5 * time.Second):
		t.Fatal("job not processed in time")
	}
	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.calls) != 1 || responder.calls[0] != "FATAL ERROR: v6 not supported" {
		t.Errorf("calls = %v", responder.calls)
	}
}

func TestEnqueueTimeoutRejects(t *testing.T) {
	// No workers drain the queue, so capacity 1 fills immediately
	p := &Pipeline{
		queue:          make(chan Job, 1),
		enqueueTimeout: 50 * time.Millisecond,
	}

	if !p.Enqueue(Job{MessageID: "1"}) {
		t.Fatal("first enqueue should succeed")
	}
	if p.Enqueue(Job{MessageID: "2"}) {
		t.Fatal("second enqueue should time out")
	}
	stats := p.Stats()
	if stats.TotalEnqueued != 1 || stats.TotalRejected != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.HighWatermark != 1 {
		t.Errorf("high watermark = %d", stats.HighWatermark)
	}
}

func TestValidateImage(t *testing.T) {
	if !ValidateImage(pngBytes(t, 500, 400)) {
		t.Error("500x400 image should pass")
	}
	if ValidateImage(pngBytes(t, 200, 150)) {
		t.Error("small image should fail")
	}
	if ValidateImage([]byte("not an image")) {
		t.Error("garbage should fail")
	}
	if ValidateImage(nil) {
		t.Error("empty data should fail")
	}
}

func TestValidateAttachment(t *testing.T) {
	tests := []struct {
		contentType string
		size        int
		w, h        int
		want        bool
	}{
		{"image/png", 100_000, 500, 400, true},
		{"video/mp4", 100_000, 500, 400, false},
		{"image/png", 600_000, 500, 400, false},
		{"image/png", 100_000, 300, 400, false},
		{"image/png", 100_000, 500, 200, false},
		{"image/png", 0, 500, 400, false},
	}
	for _, tt := range tests {
		if got := ValidateAttachment(tt.contentType, tt.size, tt.w, tt.h); got != tt.want {
			t.Errorf("ValidateAttachment(%q, %d, %d, %d) = %v", tt.contentType, tt.size, tt.w, tt.h, got)
		}
	}
}

func TestValidateURL(t *testing.T) {
	good := pngBytes(t, 400, 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(good)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(good)
	}))
	defer srv.Close()

	p := NewPipeline(&fakeEngine{}, &recordingResponder{done: make(chan struct{}, 1)}, 1, 1)
	defer p.Close()
	if !p.ValidateURL(context.Background(), srv.URL+"/a.png") {
		t.Error("valid image URL should pass")
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	}))
	defer bad.Close()
	if p.ValidateURL(context.Background(), bad.URL) {
		t.Error("non-image URL should fail")
	}
}

func TestResolveRoute(t *testing.T) {
	cfg := &config.OCRConfig{
		ReadChannels: []config.OCRChannelConfig{
			{ChannelID: "read-eng", Language: "eng"},
			{ChannelID: "both", Language: "rus"},
		},
		ResponseChannels: []config.OCRChannelConfig{
			{ChannelID: "both", Language: "rus"},
			{ChannelID: "resp-eng", Language: "eng"},
			{ChannelID: "resp-rus", Language: "rus"},
		},
		FallbackChannels: []string{"fallback"},
	}

	if got := ResolveRoute(cfg, "both", "rus"); got.Kind != RouteInPlace || got.ChannelID != "both" {
		t.Errorf("read+response channel should answer in place: %+v", got)
	}
	if got := ResolveRoute(cfg, "read-eng", "eng"); got.Kind != RouteToChannel || got.ChannelID != "resp-eng" {
		t.Errorf("language-matched response channel expected: %+v", got)
	}
	if got := ResolveRoute(cfg, "read-eng", "rus"); got.Kind != RouteToChannel || got.ChannelID != "resp-rus" {
		t.Errorf("russian hit should route to russian channel: %+v", got)
	}

	noMatch := &config.OCRConfig{
		ReadChannels:     []config.OCRChannelConfig{{ChannelID: "r", Language: "eng"}},
		FallbackChannels: []string{"fb1", "fb2"},
	}
	if got := ResolveRoute(noMatch, "r", "eng"); got.Kind != RouteToChannel || got.ChannelID != "fb1" {
		t.Errorf("fallback expected: %+v", got)
	}

	if got := ResolveRoute(&config.OCRConfig{}, "r", "eng"); got.Kind != RouteDrop {
		t.Errorf("drop expected: %+v", got)
	}
}
