// Package tesseract reads receipt text lines with a local Tesseract install.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

// DefaultLanguages covers Korean receipts with Latin brand names.
var DefaultLanguages = []string{"kor", "eng"}

// Engine produces OCR lines with per-line confidence for the text parser.
type Engine struct {
	languages     []string
	prepare       func(data []byte, contentType string) ([]byte, string, error)
	clientFactory func() *gosseract.Client
}

// New constructs an Engine. With no languages DefaultLanguages is used.
func New(languages ...string) *Engine {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	return &Engine{
		languages:     languages,
		prepare:       scanning.PrepareImage,
		clientFactory: gosseract.NewClient,
	}
}

func (e *Engine) Name() string { return "tesseract" }

// Lines recognizes the upload and returns one Line per text line in reading
// order. Uploads go through the same preparation as the inference backends
// so PDF and HEIC receipts work here too.
func (e *Engine) Lines(ctx context.Context, data []byte, contentType string) ([]scanning.Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := e.prepare(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("preparing image: %w", err)
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(e.languages...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize lines: %w", err)
	}
	return toLines(boxes), nil
}

func toLines(boxes []gosseract.BoundingBox) []scanning.Line {
	lines := make([]scanning.Line, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		lines = append(lines, scanning.Line{Text: text, Confidence: confidence(b.Confidence)})
	}
	return lines
}

// confidence maps Tesseract's 0-100 scale onto 0-1
func confidence(c float64) float64 {
	switch {
	case c <= 0:
		return 0
	case c >= 100:
		return 1
	}
	return c / 100
}
