package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stocktake/internal/confidence"
	"github.com/smallbiznis/stocktake/internal/duplicate"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
	"gorm.io/gorm"
)

// ListFilter is a fully validated roll query; OrderBy must come from a column whitelist.
type ListFilter struct {
	SessionID         snowflake.ID
	Statuses          []Status
	Levels            []confidence.Level
	IncludeNullLevel  bool
	ExcludeManual     bool
	ExcludeDuplicates bool
	OrderBy           string
	Limit             int
	Offset            int
}

// OCRUpdate overwrites every ocr_* column after a recognition attempt. A manual-entry flag
// that was only set because capture-time OCR failed is lifted.
type OCRUpdate struct {
	Quality         *string
	Color           *string
	LotNumber       *string
	Meters          *float64
	RawText         *string
	ConfidenceScore *float64
	ConfidenceLevel confidence.Level
	Engine          string
	ProcessedAt     time.Time
}

// AdminUpdate carries reviewer corrections; nil fields are left untouched and an empty text field clears the override.
type AdminUpdate struct {
	Quality   *string
	Color     *string
	LotNumber *string
	Meters    *float64
	Notes     *string
}

// NewOCRUpdate normalizes an engine result into column values and classifies it from its score.
func NewOCRUpdate(result *ocr.Result, at time.Time) OCRUpdate {
	return OCRUpdate{
		Quality:         nonEmpty(duplicate.Normalize(result.Quality)),
		Color:           nonEmpty(duplicate.Normalize(result.Color)),
		LotNumber:       nonEmpty(duplicate.Normalize(result.LotNumber)),
		Meters:          result.Meters,
		RawText:         nonEmpty(strings.TrimSpace(result.RawText)),
		ConfidenceScore: result.ConfidenceScore,
		ConfidenceLevel: confidence.Classify(result.ConfidenceScore),
		Engine:          result.Engine,
		ProcessedAt:     at.UTC(),
	}
}

func nonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (u AdminUpdate) IsEmpty() bool {
	return u.Quality == nil && u.Color == nil && u.LotNumber == nil && u.Meters == nil && u.Notes == nil
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, roll *CountRoll) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CountRoll, error)
	MaxCaptureSequence(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (int, error)
	// ListDuplicateCandidates returns effective fields for every roll of the session, any status.
	ListDuplicateCandidates(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]duplicate.Candidate, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]CountRoll, int64, error)
	// ListBySession returns rolls in capture order, optionally restricted to statuses.
	ListBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, statuses ...Status) ([]CountRoll, error)
	// ListRerunCandidates returns ids of rolls with low, medium or no confidence, in capture order.
	ListRerunCandidates(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]snowflake.ID, error)

	// TransitionStatus changes status only while the roll is in one of `from`; it returns rows affected.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, updates map[string]any) (int64, error)
	UpdateOCR(ctx context.Context, db *gorm.DB, id snowflake.ID, update OCRUpdate) (int64, error)
	// UpdateAdmin writes reviewer overrides on a pending_review roll; it returns rows affected.
	UpdateAdmin(ctx context.Context, db *gorm.DB, id snowflake.ID, update AdminUpdate, reviewerID string, at time.Time) (int64, error)
	// BulkApprove approves the pending rolls among ids in one statement and returns how many changed.
	BulkApprove(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, ids []snowflake.ID, reviewerID string, at time.Time) (int64, error)
}
