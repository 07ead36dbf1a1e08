//go:build tesseract

// Package tesseract reads roll labels locally with libtesseract through gosseract.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
)

type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// New builds a tesseract engine for the given traineddata languages, e.g. "eng".
func New(languages []string) (ocr.Engine, error) {
	return &Engine{languages: languages, clientFactory: gosseract.NewClient}, nil
}

func (e *Engine) Name() string { return "tesseract" }

// NewSession keeps one gosseract client for the whole session to amortize model load.
func (e *Engine) NewSession(ctx context.Context) (ocr.Session, error) {
	c := e.clientFactory()
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	return &session{client: c}, nil
}

type session struct {
	client *gosseract.Client
}

func (s *session) Recognize(ctx context.Context, image []byte) (*ocr.Result, error) {
	if len(image) == 0 {
		return nil, ocr.ErrEmptyImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	text, err := s.client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	res := ocr.ParseLabel(text)
	if res.RawText == "" {
		return nil, ocr.ErrNoText
	}
	res.Engine = "tesseract"
	if conf, ok := wordConfidence(s.client); ok {
		res.ConfidenceScore = &conf
	}
	return &res, nil
}

func (s *session) Close() error {
	return s.client.Close()
}

// wordConfidence averages per-word confidence (already 0-100 in tesseract).
func wordConfidence(c *gosseract.Client) (float64, bool) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0, false
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes)), true
}
