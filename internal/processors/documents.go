// Package processors turns document attachments referenced in conversation
// context into plain text the LLM can read.
package processors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dslipak/pdf"
	"github.com/gogits/chardet"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"

	botnet "DiscordContextBot/internal/net"
)

const (
	maxDocumentBytes = 10 * 1024 * 1024
	// maxDocumentChars bounds how much extracted text one document may
	// contribute to a context bundle.
	maxDocumentChars  = 50_000
	documentCacheSize = 128
)

// documentExtensions are the attachment types admitted as context documents.
var documentExtensions = []string{
	".pdf", ".txt", ".log", ".ini", ".json", ".xml", ".csv", ".md",
}

// IsDocumentFilename reports whether a filename carries a context-document
// extension.
func IsDocumentFilename(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range documentExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// DocumentProcessor fetches and extracts document text, caching extractions
// by URL since the same attachment reappears in every context build.
type DocumentProcessor struct {
	client *http.Client
	cache  *lru.Cache[string, string]
}

// NewDocumentProcessor creates the processor.
func NewDocumentProcessor() *DocumentProcessor {
	cache, _ := lru.New[string, string](documentCacheSize)
	return &DocumentProcessor{
		client: botnet.NewOptimizedClient(30 * time.Second),
		cache:  cache,
	}
}

// ExtractFromURL downloads a document and returns its extracted text.
func (p *DocumentProcessor) ExtractFromURL(ctx context.Context, url string) (string, error) {
	if cached, ok := p.cache.Get(url); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("document fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxDocumentBytes {
		return "", fmt.Errorf("document exceeds %d byte limit", maxDocumentBytes)
	}

	text, err := p.Extract(data, resp.Header.Get("Content-Type"), path.Base(req.URL.Path))
	if err != nil {
		return "", err
	}
	p.cache.Add(url, text)
	return text, nil
}

// Extract converts document bytes to plain text based on content type and
// filename.
func (p *DocumentProcessor) Extract(data []byte, contentType, filename string) (string, error) {
	isPDF := strings.HasPrefix(contentType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(filename), ".pdf")
	if isPDF {
		return extractPDF(data)
	}
	if strings.HasPrefix(contentType, "text/") || IsDocumentFilename(filename) {
		text, err := decodeText(data)
		if err != nil {
			return "", err
		}
		return capText(cleanExtractedText(text)), nil
	}
	return "", fmt.Errorf("unsupported document type %q for %s", contentType, filename)
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract PDF text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", fmt.Errorf("failed to read PDF text: %w", err)
	}
	text := cleanExtractedText(buf.String())
	if text == "" {
		return "", fmt.Errorf("no text content found in PDF")
	}
	return capText(text), nil
}

// decodeText converts raw file bytes to UTF-8, detecting the source encoding
// when they are not already valid UTF-8.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err != nil {
		return string(data), nil
	}
	decoder := decoderForCharset(result.Charset)
	if decoder == nil {
		return string(data), nil
	}
	decoded, err := decoder.Bytes(data)
	if err != nil {
		return string(data), nil
	}
	return string(decoded), nil
}

func decoderForCharset(charset string) *encoding.Decoder {
	charset = strings.ToLower(charset)
	switch {
	case strings.Contains(charset, "utf-8"):
		return nil
	case strings.Contains(charset, "utf-16"):
		if strings.Contains(charset, "be") {
			return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
		}
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	case strings.Contains(charset, "iso-8859-1") || strings.Contains(charset, "latin-1"):
		return charmap.ISO8859_1.NewDecoder()
	case strings.Contains(charset, "iso-8859-2"):
		return charmap.ISO8859_2.NewDecoder()
	case strings.Contains(charset, "windows-1252") || strings.Contains(charset, "cp1252"):
		return charmap.Windows1252.NewDecoder()
	case strings.Contains(charset, "windows-1251") || strings.Contains(charset, "cp1251"):
		return charmap.Windows1251.NewDecoder()
	case strings.Contains(charset, "shift_jis") || strings.Contains(charset, "sjis"):
		return japanese.ShiftJIS.NewDecoder()
	case strings.Contains(charset, "euc-jp"):
		return japanese.EUCJP.NewDecoder()
	case strings.Contains(charset, "gb2312") || strings.Contains(charset, "gb18030"):
		return simplifiedchinese.GBK.NewDecoder()
	case strings.Contains(charset, "big5"):
		return traditionalchinese.Big5.NewDecoder()
	case strings.Contains(charset, "euc-kr"):
		return korean.EUCKR.NewDecoder()
	default:
		return nil
	}
}

// cleanExtractedText drops blank lines and per-line padding.
func cleanExtractedText(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

func capText(text string) string {
	if len(text) <= maxDocumentChars {
		return text
	}
	cut := maxDocumentChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n[document truncated]"
}
