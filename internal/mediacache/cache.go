// Package mediacache re-hosts expiring media on stable upload services so
// conversation context never carries dead links. Entries are keyed by the
// SHA-256 of the downloaded bytes, so the same image shared under many
// Discord URLs is uploaded once.
package mediacache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"DiscordContextBot/internal/config"
	"DiscordContextBot/internal/logging"
	botnet "DiscordContextBot/internal/net"
	"DiscordContextBot/internal/storage"
	"DiscordContextBot/internal/uploader"
)

const (
	cacheFile = "media_cache.json"

	maxDownloadBytes = 50 * 1024 * 1024

	// Entries whose expiry is closer than this are treated as already
	// expired, so a URL handed to an LLM stays alive for the whole call.
	expiryMargin = 10 * time.Minute
)

// permanentPathClasses are the Discord CDN asset classes whose re-host must be
// permanent: they are referenced from index entries that outlive any cache
// retention window.
var permanentPathClasses = []string{"avatars", "icons", "banners", "splashes", "emojis"}

// discordHosts are the origins whose links expire and are worth re-fetching
// when a cached copy lapses.
var discordHosts = map[string]bool{
	"cdn.discordapp.com":   true,
	"media.discordapp.net": true,
}

// Entry is one cached upload keyed by content hash.
type Entry struct {
	URL             string   `json:"url"`
	Service         string   `json:"service"`
	ExpiryTimestamp int64    `json:"expiry_timestamp,omitempty"`
	KnownURLs       []string `json:"known_urls"`
	Filename        string   `json:"filename,omitempty"`
	CachedAt        int64    `json:"cached_at"`
}

// cacheState is the single on-disk form: content-hash entries plus the
// URL-to-hash map, persisted together so they can never drift apart.
type cacheState struct {
	Entries     map[string]*Entry `json:"entries"`
	URLMap      map[string]string `json:"url_to_hash_map"`
	LastUpdated int64             `json:"last_updated"`
}

// Cache is the media cache. All state mutation happens under mu; persistence
// is batched through the dirty flag and the flush loop.
type Cache struct {
	files    *storage.FileStore
	services []uploader.Service
	client   *http.Client

	mu      sync.Mutex
	entries map[string]*Entry
	urlMap  map[string]string
	dirty   bool

	group singleflight.Group
	now   func() time.Time
	rand  *rand.Rand

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a media cache over the given file store and upload services and
// loads its persisted state.
func New(files *storage.FileStore, services []uploader.Service) (*Cache, error) {
	c := &Cache{
		files:    files,
		services: services,
		client:   botnet.NewOptimizedClient(2 * time.Minute),
		entries:  make(map[string]*Entry),
		urlMap:   make(map[string]string),
		now:      time.Now,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	var state cacheState
	if err := files.ReadJSON(cacheFile, &state); err != nil {
		return nil, err
	}
	if state.Entries != nil {
		c.entries = state.Entries
	}
	if state.URLMap != nil {
		c.urlMap = state.URLMap
	}

	go c.flushLoop()
	return c, nil
}

// flushLoop persists dirty state on a fixed interval until Close.
func (c *Cache) flushLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(config.MediaFlushIntervalSeconds * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				logging.Error("Media cache flush failed: %v", err)
			}
		case <-c.stopCh:
			return
		}
	}
}

// Flush writes the in-memory state to disk when it has changed since the last
// flush.
func (c *Cache) Flush() error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	state := cacheState{
		Entries:     make(map[string]*Entry, len(c.entries)),
		URLMap:      make(map[string]string, len(c.urlMap)),
		LastUpdated: c.now().Unix(),
	}
	for hash, entry := range c.entries {
		copied := *entry
		state.Entries[hash] = &copied
	}
	for original, hash := range c.urlMap {
		state.URLMap[original] = hash
	}
	c.dirty = false
	c.mu.Unlock()

	return c.files.WriteJSON(cacheFile, &state)
}

// Close stops the flush loop and performs a final flush.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
	return c.Flush()
}

// entryValid reports whether an entry's upload is still live, with a safety
// margin before the recorded expiry.
func (c *Cache) entryValid(entry *Entry) bool {
	if entry == nil {
		return false
	}
	if entry.ExpiryTimestamp == 0 {
		return true
	}
	return c.now().Add(expiryMargin).Unix() < entry.ExpiryTimestamp
}

// isPermanentClass reports whether the URL belongs to an asset class that must
// be re-hosted permanently.
func isPermanentClass(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for _, segment := range segments {
		for _, class := range permanentPathClasses {
			if segment == class {
				return true
			}
		}
	}
	return false
}

// isDiscordHost reports whether the URL points at a Discord CDN origin.
func isDiscordHost(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return discordHosts[parsed.Host]
}

// cleanURL strips the query string and fragment, which on Discord CDN links
// carry rotating signature parameters.
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// CacheURL resolves a source URL to a stable re-hosted URL.
//
// Fast path: the URL was seen before and its upload is live. Medium path: the
// content was seen under another URL; the existing upload is reused and the
// new URL recorded. Slow path: download, hash, upload, record. Concurrent
// requests for the same URL share one resolution. Failures degrade to the
// original URL so context assembly never stalls on a dead host.
func (c *Cache) CacheURL(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("empty media URL")
	}
	clean := cleanURL(rawURL)

	if cached, ok := c.lookupFast(clean); ok {
		return cached, nil
	}

	result, err, _ := c.group.Do(clean, func() (interface{}, error) {
		if cached, ok := c.lookupFast(clean); ok {
			return cached, nil
		}
		return c.cacheSlow(ctx, rawURL, clean)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// lookupFast checks the URL map for a live entry.
func (c *Cache) lookupFast(rawURL string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash, ok := c.urlMap[rawURL]
	if !ok {
		return "", false
	}
	entry := c.entries[hash]
	if !c.entryValid(entry) {
		return "", false
	}
	return entry.URL, true
}

// cacheSlow downloads the content, then takes the medium path on a hash hit
// or uploads on a miss. Download or upload failure returns the original URL.
func (c *Cache) cacheSlow(ctx context.Context, rawURL, clean string) (string, error) {
	data, contentType, err := c.download(ctx, rawURL)
	if err != nil {
		logging.Warn("Media download failed, passing through %s: %v", rawURL, err)
		return rawURL, nil
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	// Medium path: same bytes were uploaded before
	c.mu.Lock()
	if entry := c.entries[hash]; c.entryValid(entry) {
		c.recordURLLocked(entry, hash, clean)
		cached := entry.URL
		c.mu.Unlock()
		logging.Debug("Media cache hash hit for %s", rawURL)
		return cached, nil
	}
	c.mu.Unlock()

	filename := uploadFilename(clean, hash, contentType)
	result, serviceName, err := c.upload(ctx, rawURL, filename, data)
	if err != nil {
		logging.Warn("Media upload failed, passing through %s: %v", rawURL, err)
		return rawURL, nil
	}

	entry := &Entry{
		URL:      result.URL,
		Service:  serviceName,
		Filename: filename,
		CachedAt: c.now().Unix(),
	}
	if result.Expiry != nil {
		entry.ExpiryTimestamp = result.Expiry.Unix()
	}

	c.mu.Lock()
	c.entries[hash] = entry
	c.recordURLLocked(entry, hash, clean)
	c.mu.Unlock()

	logging.Debug("Media cached %s as %s via %s", rawURL, result.URL, serviceName)
	return result.URL, nil
}

// recordURLLocked adds a source URL to an entry's known set and the URL map.
func (c *Cache) recordURLLocked(entry *Entry, hash, rawURL string) {
	c.urlMap[rawURL] = hash
	for _, known := range entry.KnownURLs {
		if known == rawURL {
			c.dirty = true
			return
		}
	}
	entry.KnownURLs = append(entry.KnownURLs, rawURL)
	c.dirty = true
}

// upload tries the configured services in randomised order. Permanent asset
// classes prefer permanent hosts, falling back to temporary ones only when no
// permanent service is configured.
func (c *Cache) upload(ctx context.Context, rawURL, filename string, data []byte) (*uploader.Result, string, error) {
	candidates := make([]uploader.Service, 0, len(c.services))
	if isPermanentClass(rawURL) {
		for _, svc := range c.services {
			if svc.Permanent() {
				candidates = append(candidates, svc)
			}
		}
	}
	if len(candidates) == 0 {
		candidates = append(candidates, c.services...)
	}
	if len(candidates) == 0 {
		return nil, "", fmt.Errorf("no upload service configured")
	}

	c.mu.Lock()
	c.rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	c.mu.Unlock()

	var lastErr error
	for _, svc := range candidates {
		result, err := svc.Upload(ctx, filename, data)
		if err != nil {
			logging.Warn("Upload to %s failed for %s: %v", svc.Name(), rawURL, err)
			lastErr = err
			continue
		}
		return result, svc.Name(), nil
	}
	return nil, "", fmt.Errorf("all upload services failed: %w", lastErr)
}

// download fetches the source bytes with a size cap.
func (c *Cache) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download of %s returned status %d", rawURL, resp.StatusCode)
	}
	data, err := readCapped(resp.Body, maxDownloadBytes)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// ValidateAndUpdateURL checks whether a URL is safe to emit in a context
// bundle. Discord URLs re-run the caching flow, since their signatures rotate.
// Non-Discord URLs are checked against the stored expiry; a lapsed entry
// yields an empty URL plus the expired filename so the caller can render a
// placeholder and drop the attachment.
func (c *Cache) ValidateAndUpdateURL(ctx context.Context, rawURL string) (string, string, error) {
	if isDiscordHost(rawURL) {
		fresh, err := c.CacheURL(ctx, rawURL)
		return fresh, "", err
	}

	clean := cleanURL(rawURL)
	c.mu.Lock()
	hash, ok := c.urlMap[clean]
	var entry *Entry
	if ok {
		entry = c.entries[hash]
	}
	c.mu.Unlock()

	if entry == nil {
		// Never cached: pass through untouched
		return rawURL, "", nil
	}
	if c.entryValid(entry) {
		return entry.URL, "", nil
	}
	return "", entry.Filename, nil
}

// PruneExpired drops entries whose uploads have lapsed, along with their URL
// map rows. Returns the number of removed entries.
func (c *Cache) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for hash, entry := range c.entries {
		if c.entryValid(entry) {
			continue
		}
		delete(c.entries, hash)
		for _, known := range entry.KnownURLs {
			if c.urlMap[known] == hash {
				delete(c.urlMap, known)
			}
		}
		removed++
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// Stats reports the current cache size split by permanence.
func (c *Cache) Stats() (total, permanent, temporary int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.ExpiryTimestamp == 0 {
			permanent++
		} else {
			temporary++
		}
	}
	return len(c.entries), permanent, temporary
}

// uploadFilename derives a stable upload filename from the source URL, the
// content hash and the reported content type.
func uploadFilename(rawURL, hash, contentType string) string {
	if parsed, err := url.Parse(rawURL); err == nil {
		base := path.Base(parsed.Path)
		if base != "" && base != "/" && base != "." && strings.Contains(base, ".") {
			return base
		}
	}
	ext := ""
	switch {
	case strings.HasPrefix(contentType, "image/png"):
		ext = ".png"
	case strings.HasPrefix(contentType, "image/jpeg"):
		ext = ".jpg"
	case strings.HasPrefix(contentType, "image/gif"):
		ext = ".gif"
	case strings.HasPrefix(contentType, "image/webp"):
		ext = ".webp"
	case strings.HasPrefix(contentType, "application/pdf"):
		ext = ".pdf"
	}
	return hash[:16] + ext
}

// readCapped reads at most limit bytes, failing when the body exceeds it.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("content exceeds %d byte limit", limit)
	}
	return data, nil
}
