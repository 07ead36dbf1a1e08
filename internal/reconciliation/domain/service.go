package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
)

// Result reports what one CompleteReview call committed. Skipped counts postings that already existed.
type Result struct {
	Session             *sessiondomain.CountSession `json:"session"`
	RollCount           int                         `json:"roll_count"`
	TotalMeters         float64                     `json:"total_meters"`
	TransactionsPosted  int                         `json:"transactions_posted"`
	TransactionsSkipped int                         `json:"transactions_skipped"`
}

type Service interface {
	// CompleteReview posts one stock adjustment per approved roll and moves the session to reconciled.
	// Nothing is committed unless every posting succeeds.
	CompleteReview(ctx context.Context, sessionID snowflake.ID, reviewerID string) (*Result, error)
}

var (
	ErrInvalidReviewer = errors.New("invalid_reviewer_id")
	ErrCommitFailed    = errors.New("reconciliation_commit_failed")
)
