package processors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func TestIsDocumentFilename(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"report.pdf", true},
		{"notes.TXT", true},
		{"data.csv", true},
		{"readme.md", true},
		{"config.ini", true},
		{"server.log", true},
		{"payload.json", true},
		{"feed.xml", true},
		{"photo.png", false},
		{"archive.zip", false},
		{"noextension", false},
	}
	for _, tt := range tests {
		if got := IsDocumentFilename(tt.name); got != tt.want {
			t.Errorf("IsDocumentFilename(%q) = %v", tt.name, got)
		}
	}
}

func TestExtractPlainText(t *testing.T) {
	p := NewDocumentProcessor()
	text, err := p.Extract([]byte("line one\n\n   line two   \n"), "text/plain", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	if text != "line one\nline two" {
		t.Errorf("text = %q", text)
	}
}

func TestExtractDetectsEncoding(t *testing.T) {
	encoded, err := charmap.Windows1251.NewEncoder().Bytes([]byte("привет мир, это тестовый файл с достаточно длинным текстом для детектора"))
	if err != nil {
		t.Fatal(err)
	}
	p := NewDocumentProcessor()
	text, err := p.Extract(encoded, "text/plain", "readme.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "привет мир") {
		t.Errorf("decoded text = %q", text)
	}
}

func TestExtractRejectsUnsupportedTypes(t *testing.T) {
	p := NewDocumentProcessor()
	if _, err := p.Extract([]byte{0x00, 0x01}, "application/zip", "a.zip"); err == nil {
		t.Error("binary type should be rejected")
	}
}

func TestExtractFromURLCaches(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("cached content"))
	}))
	defer srv.Close()

	p := NewDocumentProcessor()
	for i := 0; i < 3; i++ {
		text, err := p.ExtractFromURL(context.Background(), srv.URL+"/doc.txt")
		if err != nil {
			t.Fatal(err)
		}
		if text != "cached content" {
			t.Errorf("text = %q", text)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, extraction should be cached", hits.Load())
	}
}

func TestExtractFromURLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewDocumentProcessor()
	if _, err := p.ExtractFromURL(context.Background(), srv.URL+"/gone.txt"); err == nil {
		t.Error("404 should error, not cache")
	}
}

func TestCapTextTruncates(t *testing.T) {
	long := strings.Repeat("a", maxDocumentChars+100)
	got := capText(long)
	if !strings.HasSuffix(got, "[document truncated]") {
		t.Error("truncation marker missing")
	}
	if len(got) > maxDocumentChars+25 {
		t.Errorf("capped length = %d", len(got))
	}
}
