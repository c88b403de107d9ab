package mediacache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"DiscordContextBot/internal/storage"
	"DiscordContextBot/internal/uploader"
)

type fakeService struct {
	name      string
	permanent bool
	expiry    time.Duration
	uploads   atomic.Int64
	fail      bool
}

func (f *fakeService) Name() string    { return f.name }
func (f *fakeService) Permanent() bool { return f.permanent }

func (f *fakeService) Upload(ctx context.Context, filename string, data []byte) (*uploader.Result, error) {
	if f.fail {
		return nil, fmt.Errorf("%s is down", f.name)
	}
	n := f.uploads.Add(1)
	result := &uploader.Result{URL: fmt.Sprintf("https://%s.example.com/%s-%d", f.name, filename, n)}
	if f.expiry > 0 {
		expiry := time.Now().Add(f.expiry)
		result.Expiry = &expiry
	}
	return result, nil
}

func newTestCache(t *testing.T, services ...uploader.Service) *Cache {
	t.Helper()
	cache, err := New(storage.NewFileStore(t.TempDir()), services)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func contentServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCacheURLFastPath(t *testing.T) {
	svc := &fakeService{name: "perm", permanent: true}
	cache := newTestCache(t, svc)
	srv := contentServer(t, "png-bytes")

	first, err := cache.CacheURL(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.CacheURL(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("fast path returned different URL: %s vs %s", first, second)
	}
	if svc.uploads.Load() != 1 {
		t.Errorf("uploads = %d, want 1", svc.uploads.Load())
	}
}

func TestCacheURLMediumPathSharesByHash(t *testing.T) {
	svc := &fakeService{name: "perm", permanent: true}
	cache := newTestCache(t, svc)
	srv := contentServer(t, "same-bytes")

	first, err := cache.CacheURL(context.Background(), srv.URL+"/one.png")
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.CacheURL(context.Background(), srv.URL+"/two.png")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("identical content should reuse the upload: %s vs %s", first, second)
	}
	if svc.uploads.Load() != 1 {
		t.Errorf("uploads = %d, want 1", svc.uploads.Load())
	}

	cache.mu.Lock()
	var knownURLs int
	for _, entry := range cache.entries {
		knownURLs = len(entry.KnownURLs)
	}
	cache.mu.Unlock()
	if knownURLs != 2 {
		t.Errorf("known URLs = %d, want 2", knownURLs)
	}
}

func TestPermanentClassPrefersPermanentHosts(t *testing.T) {
	temp := &fakeService{name: "temp", permanent: false, expiry: time.Hour}
	perm := &fakeService{name: "perm", permanent: true}
	cache := newTestCache(t, temp, perm)
	srv := contentServer(t, "avatar-bytes")

	if _, err := cache.CacheURL(context.Background(), srv.URL+"/avatars/123/abc.png"); err != nil {
		t.Fatal(err)
	}
	if perm.uploads.Load() != 1 || temp.uploads.Load() != 0 {
		t.Errorf("uploads perm=%d temp=%d, want 1/0", perm.uploads.Load(), temp.uploads.Load())
	}
}

func TestPermanentClassFallsBackWithoutPermanentHost(t *testing.T) {
	temp := &fakeService{name: "temp", permanent: false, expiry: time.Hour}
	cache := newTestCache(t, temp)
	srv := contentServer(t, "avatar-bytes")

	if _, err := cache.CacheURL(context.Background(), srv.URL+"/avatars/123/abc.png"); err != nil {
		t.Fatal(err)
	}
	if temp.uploads.Load() != 1 {
		t.Errorf("temporary host uploads = %d, want 1", temp.uploads.Load())
	}
}

func TestCacheURLDegradesOnDownloadFailure(t *testing.T) {
	cache := newTestCache(t, &fakeService{name: "perm", permanent: true})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	got, err := cache.CacheURL(context.Background(), srv.URL+"/gone.png")
	if err != nil {
		t.Fatal(err)
	}
	if got != srv.URL+"/gone.png" {
		t.Errorf("failed download should pass through the original URL, got %q", got)
	}
}

func TestCacheURLStripsQueryString(t *testing.T) {
	svc := &fakeService{name: "perm", permanent: true}
	cache := newTestCache(t, svc)
	srv := contentServer(t, "signed-bytes")

	first, err := cache.CacheURL(context.Background(), srv.URL+"/a.png?ex=1&sig=abc")
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.CacheURL(context.Background(), srv.URL+"/a.png?ex=2&sig=def")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("rotated signatures should hit the same entry: %s vs %s", first, second)
	}
	if svc.uploads.Load() != 1 {
		t.Errorf("uploads = %d, want 1", svc.uploads.Load())
	}
}

func TestUploadFallsBackAcrossServices(t *testing.T) {
	// Both permanent so shuffle order does not matter; one always fails
	down := &fakeService{name: "down", permanent: true, fail: true}
	up := &fakeService{name: "up", permanent: true}
	cache := newTestCache(t, down, up)
	srv := contentServer(t, "bytes")

	url, err := cache.CacheURL(context.Background(), srv.URL+"/x.png")
	if err != nil {
		t.Fatal(err)
	}
	if up.uploads.Load() != 1 {
		t.Errorf("healthy service uploads = %d, want 1 (got url %s)", up.uploads.Load(), url)
	}
}

func TestValidateAndUpdateURLPassthrough(t *testing.T) {
	cache := newTestCache(t, &fakeService{name: "perm", permanent: true})
	got, expired, err := cache.ValidateAndUpdateURL(context.Background(), "https://stable.example.com/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://stable.example.com/a.png" || expired != "" {
		t.Errorf("uncached URL should pass through: %q %q", got, expired)
	}
}

func TestValidateAndUpdateURLLiveEntry(t *testing.T) {
	svc := &fakeService{name: "perm", permanent: true}
	cache := newTestCache(t, svc)
	srv := contentServer(t, "bytes")

	cached, err := cache.CacheURL(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatal(err)
	}
	got, expired, err := cache.ValidateAndUpdateURL(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if got != cached || expired != "" {
		t.Errorf("live entry should return cached URL: %q %q", got, expired)
	}
}

func TestValidateAndUpdateURLExpiredNonDiscord(t *testing.T) {
	svc := &fakeService{name: "temp", permanent: false, expiry: time.Minute}
	cache := newTestCache(t, svc)
	srv := contentServer(t, "bytes")

	if _, err := cache.CacheURL(context.Background(), srv.URL+"/a.png"); err != nil {
		t.Fatal(err)
	}
	// A one-minute expiry is inside the safety margin, so the entry is
	// already considered lapsed
	got, expired, err := cache.ValidateAndUpdateURL(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("expired entry should yield an empty URL, got %q", got)
	}
	if expired != "a.png" {
		t.Errorf("expired filename = %q, want a.png", expired)
	}
}

func TestPruneExpired(t *testing.T) {
	svc := &fakeService{name: "temp", permanent: false, expiry: time.Minute}
	cache := newTestCache(t, svc)
	srv := contentServer(t, "bytes")

	if _, err := cache.CacheURL(context.Background(), srv.URL+"/a.png"); err != nil {
		t.Fatal(err)
	}
	if removed := cache.PruneExpired(); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	total, _, _ := cache.Stats()
	if total != 0 {
		t.Errorf("total after prune = %d", total)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	files := storage.NewFileStore(dir)
	svc := &fakeService{name: "perm", permanent: true}

	cache, err := New(files, []uploader.Service{svc})
	if err != nil {
		t.Fatal(err)
	}
	srv := contentServer(t, "persisted-bytes")
	cached, err := cache.CacheURL(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Close(); err != nil {
		t.Fatal(err)
	}
	if !files.Exists(cacheFile) {
		t.Fatalf("expected %s to be written on close", cacheFile)
	}

	reopened, err := New(storage.NewFileStore(dir), []uploader.Service{svc})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got, err := reopened.CacheURL(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if got != cached {
		t.Errorf("reopened cache returned %s, want %s", got, cached)
	}
	if svc.uploads.Load() != 1 {
		t.Errorf("uploads after restart = %d, want 1", svc.uploads.Load())
	}
}

func TestIsPermanentClass(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://cdn.discordapp.com/avatars/1/a.png", true},
		{"https://cdn.discordapp.com/icons/1/a.png", true},
		{"https://cdn.discordapp.com/emojis/123.png", true},
		{"https://cdn.discordapp.com/attachments/1/2/a.png", false},
		{"https://example.com/banners/x.png", true},
	}
	for _, tt := range tests {
		if got := isPermanentClass(tt.url); got != tt.want {
			t.Errorf("isPermanentClass(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
