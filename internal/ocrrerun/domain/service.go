package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
)

type Service interface {
	StartSessionRerun(ctx context.Context, sessionID snowflake.ID, requestedBy string) (*Job, error)
	// RunJob processes a job to the end, resuming at its current index. It returns the final job state.
	RunJob(ctx context.Context, jobID snowflake.ID) (*Job, error)
	CancelJob(ctx context.Context, jobID snowflake.ID, actorID string) (*Job, error)
	RerunOCR(ctx context.Context, rollID snowflake.ID, actorID string) (*rolldomain.CountRoll, error)
	GetJob(ctx context.Context, jobID snowflake.ID) (*Job, error)
	ListJobs(ctx context.Context, sessionID snowflake.ID) ([]Job, error)
	// ClaimNext hands the worker the next queued or orphaned job, or nil when there is none.
	ClaimNext(ctx context.Context, workerID string) (*Job, error)
}

var (
	ErrInvalidID         = errors.New("invalid_job_id")
	ErrInvalidActor      = errors.New("invalid_actor_id")
	ErrNotFound          = errors.New("job_not_found")
	ErrJobAlreadyRunning = errors.New("job_already_running")
	ErrJobFinished       = errors.New("job_already_finished")
	ErrSessionLocked     = errors.New("session_rerun_locked")
	ErrNoPhoto           = errors.New("roll_has_no_photo")
)

func ParseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(value)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
