package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Adjustment is a stock adjustment for one approved roll.
type Adjustment struct {
	SessionID  snowflake.ID
	RollID     snowflake.ID
	Quality    string
	Color      string
	LotNumber  string
	Meters     float64
	PostedBy   string
	OccurredAt time.Time
}

type Summary struct {
	SessionID    snowflake.ID
	RollCount    int
	TotalMeters  float64
	ReconciledBy string
	ReconciledAt time.Time
}

// Service posts to the inventory ledger. Writes take the caller's transaction and report whether a
// new row was posted; a replay of an existing key posts nothing and is not an error.
type Service interface {
	RecordAdjustment(ctx context.Context, tx *gorm.DB, adj Adjustment) (bool, error)
	RecordSessionReconciliation(ctx context.Context, tx *gorm.DB, summary Summary) (bool, error)
	ListSessionTransactions(ctx context.Context, sessionID snowflake.ID) ([]InventoryTransaction, error)
	GetSessionReconciliation(ctx context.Context, sessionID snowflake.ID) (*SessionReconciliation, error)
}

var (
	ErrInvalidSession    = errors.New("invalid_session_id")
	ErrInvalidRoll       = errors.New("invalid_roll_id")
	ErrInvalidMeters     = errors.New("invalid_meters")
	ErrInvalidPostedBy   = errors.New("invalid_posted_by")
	ErrInvalidOccurredAt = errors.New("invalid_occurred_at")
	ErrNotFound          = errors.New("reconciliation_not_found")
)
