package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusDraft            Status = "draft"
	StatusActive           Status = "active"
	StatusCountingComplete Status = "counting_complete"
	StatusReconciled       Status = "reconciled"
	StatusCancelled        Status = "cancelled"
)

var ErrInvalidStatus = errors.New("invalid_session_status")

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusCountingComplete, StatusReconciled, StatusCancelled:
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

// IsOpen reports whether the counter may still capture rolls.
func (s Status) IsOpen() bool {
	switch s {
	case StatusDraft, StatusActive:
		return true
	case StatusCountingComplete, StatusReconciled, StatusCancelled:
		return false
	default:
		return false
	}
}

// AcceptsReview reports whether reviewers may still change roll decisions.
func (s Status) AcceptsReview() bool {
	switch s {
	case StatusDraft, StatusActive, StatusCountingComplete:
		return true
	case StatusReconciled, StatusCancelled:
		return false
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusReconciled || s == StatusCancelled
}

// OpenStatuses are the states that count as a counter's current session.
var OpenStatuses = []Status{StatusDraft, StatusActive}

// ReviewableStatuses are the states in which roll decisions may change.
var ReviewableStatuses = []Status{StatusDraft, StatusActive, StatusCountingComplete}

// CountSession is one physical counting pass. Sessions are never deleted.
type CountSession struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey"`
	SessionNumber         string       `json:"session_number" gorm:"size:32;not null;uniqueIndex:ux_count_sessions_number"`
	Status                Status       `json:"status" gorm:"size:32;not null;index"`
	TotalRollsCounted     int          `json:"total_rolls_counted" gorm:"not null;default:0"`
	RollsApproved         int          `json:"rolls_approved" gorm:"not null;default:0"`
	RollsRejected         int          `json:"rolls_rejected" gorm:"not null;default:0"`
	RollsPendingReview    int          `json:"rolls_pending_review" gorm:"not null;default:0"`
	RollsRecountRequested int          `json:"rolls_recount_requested" gorm:"not null;default:0"`
	StartedBy             string       `json:"started_by" gorm:"size:191;not null;index"`
	ReviewedBy            *string      `json:"reviewed_by,omitempty" gorm:"type:text"`
	CreatedAt             time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time    `json:"updated_at" gorm:"not null"`
	LastActivityAt        *time.Time   `json:"last_activity_at,omitempty"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
	ReviewedAt            *time.Time   `json:"reviewed_at,omitempty"`
	ReconciledAt          *time.Time   `json:"reconciled_at,omitempty"`
	CancelledAt           *time.Time   `json:"cancelled_at,omitempty"`
}

func (CountSession) TableName() string { return "count_sessions" }

// CanComplete is the completion gate: nothing left to review and something was counted.
func (s CountSession) CanComplete() bool {
	return s.RollsPendingReview == 0 && s.TotalRollsCounted > 0
}

// CountersBalanced checks pending + approved + rejected + recount == total.
func (s CountSession) CountersBalanced() bool {
	return s.RollsPendingReview+s.RollsApproved+s.RollsRejected+s.RollsRecountRequested == s.TotalRollsCounted
}

// CounterDelta is added to the session counters alongside a roll status change.
type CounterDelta struct {
	Total            int
	Pending          int
	Approved         int
	Rejected         int
	RecountRequested int
}

func (d CounterDelta) IsZero() bool {
	return d == CounterDelta{}
}

func (d CounterDelta) Add(o CounterDelta) CounterDelta {
	return CounterDelta{
		Total:            d.Total + o.Total,
		Pending:          d.Pending + o.Pending,
		Approved:         d.Approved + o.Approved,
		Rejected:         d.Rejected + o.Rejected,
		RecountRequested: d.RecountRequested + o.RecountRequested,
	}
}
