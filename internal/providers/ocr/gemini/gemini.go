// Package gemini reads fabric roll labels with a Gemini vision model.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
	"google.golang.org/api/option"
)

const systemPrompt = `You read labels attached to rolls of fabric in a warehouse.
Extract the fabric quality (article or quality code), the color, the lot or batch number and the roll length in meters.
Copy codes exactly as printed. Leave a field empty when it is not printed or not readable; never guess.
Return only JSON with keys: quality, color, lot_number, meters (number or null), raw_text (all text you can read),
confidence (0-100, how sure you are that every extracted field is correct), is_label (false when the photo shows no label).`

const maxAttempts = 3

type Engine struct {
	APIKey string
	Model  string
}

func New(apiKey, model string) *Engine {
	return &Engine{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
	}
}

func (e *Engine) Name() string { return "gemini" }

// NewSession opens one API client that is reused for every image until Close.
func (e *Engine) NewSession(ctx context.Context) (ocr.Session, error) {
	if e.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return nil, err
	}

	m := cl.GenerativeModel(e.Model)
	if m == nil {
		_ = cl.Close()
		return nil, fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	return &session{client: cl, model: m}, nil
}

type session struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

type labelResponse struct {
	Quality    string   `json:"quality"`
	Color      string   `json:"color"`
	LotNumber  string   `json:"lot_number"`
	Meters     *float64 `json:"meters"`
	RawText    string   `json:"raw_text"`
	Confidence *float64 `json:"confidence"`
	IsLabel    *bool    `json:"is_label"`
}

func (s *session) Recognize(ctx context.Context, image []byte) (*ocr.Result, error) {
	if len(image) == 0 {
		return nil, ocr.ErrEmptyImage
	}

	parts := []genai.Part{
		genai.Text("Read this roll label. JSON only."),
		&genai.Blob{MIMEType: http.DetectContentType(image), Data: image},
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := s.model.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		txt := firstText(resp)
		if txt == "" {
			return nil, fmt.Errorf("gemini: empty response")
		}
		return decode(txt)
	}
	return nil, lastErr
}

func (s *session) Close() error {
	return s.client.Close()
}

func decode(txt string) (*ocr.Result, error) {
	txt = stripCodeFences(txt)

	var out labelResponse
	if err := json.Unmarshal([]byte(txt), &out); err != nil {
		return nil, fmt.Errorf("gemini: bad JSON: %w", err)
	}
	if out.IsLabel != nil && !*out.IsLabel && strings.TrimSpace(out.RawText) == "" {
		return nil, ocr.ErrNoText
	}

	res := &ocr.Result{
		Quality:   normalize(out.Quality),
		Color:     normalize(out.Color),
		LotNumber: normalize(out.LotNumber),
		Meters:    out.Meters,
		RawText:   strings.TrimSpace(out.RawText),
		Engine:    "gemini",
	}
	if out.Confidence != nil {
		score := clamp(*out.Confidence)
		res.ConfidenceScore = &score
	}
	return res, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func normalize(v string) string {
	return strings.ToUpper(strings.Join(strings.Fields(v), " "))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func ptrFloat32(v float32) *float32 { return &v }
