package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Tesseract runs the tesseract binary over stdin/stdout.
type Tesseract struct {
	binary string
}

// NewTesseract creates the engine. binary defaults to "tesseract" on PATH.
func NewTesseract(binary string) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	return &Tesseract{binary: binary}
}

// languageCode maps the configured language to a tesseract traineddata name.
func languageCode(language string) string {
	switch strings.ToLower(language) {
	case "rus", "russian", "ru":
		return "rus"
	default:
		return "eng"
	}
}

// Recognize extracts text from the image bytes.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	cmd := exec.CommandContext(ctx, t.binary, "stdin", "stdout", "-l", languageCode(language))
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
