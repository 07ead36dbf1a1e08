package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
)

// EditRequest holds reviewer corrections. Nil fields are not changed.
type EditRequest struct {
	Quality   *string  `json:"quality"`
	Color     *string  `json:"color"`
	LotNumber *string  `json:"lot_number"`
	Meters    *float64 `json:"meters"`
	Notes     *string  `json:"notes"`
}

type BulkResult struct {
	Approved int `json:"approved"`
	Skipped  int `json:"skipped"`
}

type Summary struct {
	SessionID        snowflake.ID         `json:"session_id"`
	SessionNumber    string               `json:"session_number"`
	Status           sessiondomain.Status `json:"status"`
	Total            int                  `json:"total_rolls_counted"`
	Pending          int                  `json:"rolls_pending_review"`
	Approved         int                  `json:"rolls_approved"`
	Rejected         int                  `json:"rolls_rejected"`
	RecountRequested int                  `json:"rolls_recount_requested"`
	CanComplete      bool                 `json:"can_complete"`
}

func SummaryOf(s sessiondomain.CountSession) Summary {
	return Summary{
		SessionID:        s.ID,
		SessionNumber:    s.SessionNumber,
		Status:           s.Status,
		Total:            s.TotalRollsCounted,
		Pending:          s.RollsPendingReview,
		Approved:         s.RollsApproved,
		Rejected:         s.RollsRejected,
		RecountRequested: s.RollsRecountRequested,
		CanComplete:      s.CanComplete(),
	}
}

type Service interface {
	List(ctx context.Context, q Query) (Page, error)
	Approve(ctx context.Context, rollID snowflake.ID, reviewerID string) (*rolldomain.CountRoll, error)
	Reject(ctx context.Context, rollID snowflake.ID, reviewerID, reason string) (*rolldomain.CountRoll, error)
	RequestRecount(ctx context.Context, rollID snowflake.ID, reviewerID, reason string) (*rolldomain.CountRoll, error)
	EditAndSave(ctx context.Context, rollID snowflake.ID, edit EditRequest, reviewerID string) (*rolldomain.CountRoll, error)
	BulkApprove(ctx context.Context, sessionID snowflake.ID, rollIDs []snowflake.ID, reviewerID string) (BulkResult, error)
	Summary(ctx context.Context, sessionID snowflake.ID) (Summary, error)
}

var (
	ErrInvalidReviewer         = errors.New("invalid_reviewer_id")
	ErrRollNotPending          = errors.New("roll_not_pending")
	ErrRecountAlreadyRequested = errors.New("recount_already_requested")
	ErrEmptyEdit               = errors.New("empty_edit")
)
