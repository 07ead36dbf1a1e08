package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stocktake/pkg/db/pagination"
	"gorm.io/gorm"
)

// SessionNumberRetries bounds session number generation under concurrent starts.
const SessionNumberRetries = 5

type ListRequest struct {
	pagination.Request
	Status    string `form:"status"`
	StartedBy string `form:"started_by"`
}

type ListResponse struct {
	pagination.PageInfo
	Sessions []CountSession `json:"sessions"`
}

type Service interface {
	StartOrResumeSession(ctx context.Context, counterID string) (*CountSession, error)
	GetSession(ctx context.Context, id snowflake.ID) (*CountSession, error)
	ListSessions(ctx context.Context, req ListRequest) (ListResponse, error)
	EndSession(ctx context.Context, id snowflake.ID, actorID string) (*CountSession, error)
	CancelSession(ctx context.Context, id snowflake.ID, actorID string) (*CountSession, error)

	// The methods below join a caller's transaction.
	Lookup(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*CountSession, error)
	Touch(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
	ApplyDelta(ctx context.Context, tx *gorm.DB, id snowflake.ID, delta CounterDelta, allowed []Status) error
	MarkReconciled(ctx context.Context, tx *gorm.DB, id snowflake.ID, reviewerID string, at time.Time) error
}

var (
	ErrInvalidID             = errors.New("invalid_session_id")
	ErrInvalidCounter        = errors.New("invalid_counter_id")
	ErrInvalidActor          = errors.New("invalid_actor_id")
	ErrNotFound              = errors.New("session_not_found")
	ErrInvalidState          = errors.New("invalid_session_state")
	ErrSessionNumberConflict = errors.New("session_number_conflict")
	ErrNotReady              = errors.New("session_not_ready")
)

func ParseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(value)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
