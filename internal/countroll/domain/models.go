package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stocktake/internal/confidence"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/internal/duplicate"
)

type Status string

const (
	StatusPendingReview    Status = "pending_review"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusRecountRequested Status = "recount_requested"
)

var ErrInvalidStatus = errors.New("invalid_roll_status")

func (s Status) Valid() bool {
	switch s {
	case StatusPendingReview, StatusApproved, StatusRejected, StatusRecountRequested:
		return true
	default:
		return false
	}
}

func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// counterDelta is the session counter movement for one roll entering (sign=+1) or leaving (sign=-1) s.
func (s Status) counterDelta(sign int) sessiondomain.CounterDelta {
	switch s {
	case StatusPendingReview:
		return sessiondomain.CounterDelta{Pending: sign}
	case StatusApproved:
		return sessiondomain.CounterDelta{Approved: sign}
	case StatusRejected:
		return sessiondomain.CounterDelta{Rejected: sign}
	case StatusRecountRequested:
		return sessiondomain.CounterDelta{RecountRequested: sign}
	default:
		return sessiondomain.CounterDelta{}
	}
}

// TransitionDelta is the counter change for moving n rolls from one status to another.
func TransitionDelta(from, to Status, n int) sessiondomain.CounterDelta {
	if from == to || n == 0 {
		return sessiondomain.CounterDelta{}
	}
	return from.counterDelta(-n).Add(to.counterDelta(n))
}

// RecountableStatuses may be sent back to the counter.
var RecountableStatuses = []Status{StatusPendingReview, StatusApproved, StatusRejected}

// CountRoll is one physical roll captured in a session.
// counter_* is what the counter entered, ocr_* what the engine read, admin_* the reviewer's correction.
type CountRoll struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	SessionID         snowflake.ID `json:"session_id" gorm:"not null;uniqueIndex:ux_count_rolls_session_sequence,priority:1"`
	CaptureSequence   int          `json:"capture_sequence" gorm:"not null;uniqueIndex:ux_count_rolls_session_sequence,priority:2"`
	PhotoPath         *string      `json:"photo_path,omitempty" gorm:"type:text"`
	PhotoOriginalPath *string      `json:"photo_original_path,omitempty" gorm:"type:text"`

	CounterQuality   string  `json:"counter_quality" gorm:"column:counter_quality;type:text;not null;default:''"`
	CounterColor     string  `json:"counter_color" gorm:"column:counter_color;type:text;not null;default:''"`
	CounterLotNumber string  `json:"counter_lot_number" gorm:"column:counter_lot_number;type:text;not null;default:''"`
	CounterMeters    float64 `json:"counter_meters" gorm:"column:counter_meters;not null;default:0"`

	OCRQuality         *string           `json:"ocr_quality,omitempty" gorm:"column:ocr_quality;type:text"`
	OCRColor           *string           `json:"ocr_color,omitempty" gorm:"column:ocr_color;type:text"`
	OCRLotNumber       *string           `json:"ocr_lot_number,omitempty" gorm:"column:ocr_lot_number;type:text"`
	OCRMeters          *float64          `json:"ocr_meters,omitempty" gorm:"column:ocr_meters"`
	OCRRawText         *string           `json:"ocr_raw_text,omitempty" gorm:"column:ocr_raw_text;type:text"`
	OCRConfidenceScore *float64          `json:"ocr_confidence_score,omitempty" gorm:"column:ocr_confidence_score"`
	OCRConfidenceLevel *confidence.Level `json:"ocr_confidence_level,omitempty" gorm:"column:ocr_confidence_level;size:16;index"`
	OCREngine          *string           `json:"ocr_engine,omitempty" gorm:"column:ocr_engine;type:text"`
	OCRProcessedAt     *time.Time        `json:"ocr_processed_at,omitempty" gorm:"column:ocr_processed_at"`

	AdminQuality   *string  `json:"admin_quality,omitempty" gorm:"column:admin_quality;type:text"`
	AdminColor     *string  `json:"admin_color,omitempty" gorm:"column:admin_color;type:text"`
	AdminLotNumber *string  `json:"admin_lot_number,omitempty" gorm:"column:admin_lot_number;type:text"`
	AdminMeters    *float64 `json:"admin_meters,omitempty" gorm:"column:admin_meters"`

	IsManualEntry       bool          `json:"is_manual_entry" gorm:"not null;default:false"`
	IsManualFallback    bool          `json:"is_manual_fallback" gorm:"not null;default:false"` // forced by failed capture OCR
	IsNotLabelWarning   bool          `json:"is_not_label_warning" gorm:"not null;default:false"`
	IsPossibleDuplicate bool          `json:"is_possible_duplicate" gorm:"not null;default:false"`
	DuplicateOfRollID   *snowflake.ID `json:"duplicate_of_roll_id,omitempty"`

	Status        Status     `json:"status" gorm:"size:32;not null;index"`
	AdminNotes    *string    `json:"admin_notes,omitempty" gorm:"type:text"`
	RecountReason *string    `json:"recount_reason,omitempty" gorm:"type:text"`
	ReviewedBy    *string    `json:"reviewed_by,omitempty" gorm:"type:text"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"not null"`
}

func (CountRoll) TableName() string { return "count_rolls" }

// Effective returns the authoritative label values: the reviewer's correction, else the counter's entry.
func (r CountRoll) Effective() duplicate.Fields {
	return duplicate.Fields{
		Quality:   coalesce(r.AdminQuality, r.CounterQuality),
		Color:     coalesce(r.AdminColor, r.CounterColor),
		LotNumber: coalesce(r.AdminLotNumber, r.CounterLotNumber),
		Meters:    coalesceFloat(r.AdminMeters, r.CounterMeters),
	}
}

// ConfidenceLevel is the stored level, or "" when OCR never produced a result.
func (r CountRoll) ConfidenceLevel() confidence.Level {
	if r.OCRConfidenceLevel == nil {
		return ""
	}
	return *r.OCRConfidenceLevel
}

// ReadyForApproval is the one-click approval rule: pending, high confidence, OCR-backed, not a suspected duplicate.
func (r CountRoll) ReadyForApproval() bool {
	return r.Status == StatusPendingReview &&
		r.ConfidenceLevel() == confidence.High &&
		!r.IsManualEntry &&
		!r.IsPossibleDuplicate
}

// NeedsRerun reports whether the roll is eligible for a batch OCR rerun.
func (r CountRoll) NeedsRerun() bool {
	return confidence.NeedsRerun(r.OCRConfidenceLevel)
}

func coalesce(admin *string, counter string) string {
	if admin != nil {
		return *admin
	}
	return counter
}

func coalesceFloat(admin *float64, counter float64) float64 {
	if admin != nil {
		return *admin
	}
	return counter
}
