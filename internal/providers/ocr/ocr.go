// Package ocr defines the label recognition boundary. Engines live in subpackages.
package ocr

import (
	"context"
	"errors"
)

// Result is what an engine read off one roll label. Empty strings mean the field was not found.
type Result struct {
	Quality         string   `json:"quality"`
	Color           string   `json:"color"`
	LotNumber       string   `json:"lot_number"`
	Meters          *float64 `json:"meters,omitempty"`
	RawText         string   `json:"raw_text"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	Engine          string   `json:"engine"`
}

// Session is one stateful recognizer. It is not safe for concurrent use.
type Session interface {
	Recognize(ctx context.Context, image []byte) (*Result, error)
	Close() error
}

// Engine hands out recognizer sessions; callers release each with Close.
type Engine interface {
	Name() string
	NewSession(ctx context.Context) (Session, error)
}

var (
	ErrEngineDisabled = errors.New("ocr_engine_disabled")
	ErrEmptyImage     = errors.New("ocr_empty_image")
	ErrNoText         = errors.New("ocr_no_text")
)

// Recognize opens a short-lived session for a single image.
func Recognize(ctx context.Context, engine Engine, image []byte) (*Result, error) {
	session, err := engine.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.Recognize(ctx, image)
}

// Disabled is the engine used when OCR_ENGINE=none; every capture becomes a manual entry.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) NewSession(context.Context) (Session, error) { return disabledSession{}, nil }

type disabledSession struct{}

func (disabledSession) Recognize(context.Context, []byte) (*Result, error) {
	return nil, ErrEngineDisabled
}

func (disabledSession) Close() error { return nil }
