package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
)

// IngestRequest is one captured roll. A nil OCR means recognition failed or was skipped.
type IngestRequest struct {
	SessionID         snowflake.ID
	CaptureSequence   int
	CounterID         string
	Quality           string
	Color             string
	LotNumber         string
	Meters            float64
	PhotoPath         string
	PhotoOriginalPath string
	OCR               *ocr.Result
	IsManualEntry     bool
	IsNotLabelWarning bool
}

// CaptureRequest is a raw capture: the photo is stored and recognized before ingest.
type CaptureRequest struct {
	SessionID         snowflake.ID
	CaptureSequence   int
	CounterID         string
	Image             []byte
	Quality           string
	Color             string
	LotNumber         string
	Meters            float64
	IsManualEntry     bool
	IsNotLabelWarning bool
}

type Service interface {
	IngestRoll(ctx context.Context, req IngestRequest) (*CountRoll, error)
	CaptureRoll(ctx context.Context, req CaptureRequest) (*CountRoll, error)
	GetRoll(ctx context.Context, id snowflake.ID) (*CountRoll, error)
	ListSessionRolls(ctx context.Context, sessionID snowflake.ID, statuses ...Status) ([]CountRoll, error)
}

// CaptureSequenceRetries bounds auto-assigned capture sequences under concurrent ingests.
const CaptureSequenceRetries = 5

var (
	ErrInvalidID               = errors.New("invalid_roll_id")
	ErrNotFound                = errors.New("roll_not_found")
	ErrCaptureSequenceConflict = errors.New("capture_sequence_conflict")
	ErrInvalidMeters           = errors.New("invalid_meters")
	ErrEmptyImage              = errors.New("empty_image")
)

func ParseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(value)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
