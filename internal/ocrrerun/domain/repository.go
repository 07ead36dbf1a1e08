package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ProgressUpdate is persisted after every processed roll.
type ProgressUpdate struct {
	Current      int
	SuccessCount int
	FailureCount int
	Failures     []Failure
	At           time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *Job) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Job, error)
	FindActiveBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*Job, error)
	ListBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, limit int) ([]Job, error)

	// Claim moves a queued job, or a running job whose heartbeat is older than staleBefore, to running.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, at, staleBefore time.Time) (int64, error)
	// NextClaimable returns the oldest job a worker may claim, or nil.
	NextClaimable(ctx context.Context, db *gorm.DB, staleBefore time.Time) (*Job, error)
	Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, at time.Time) (int64, error)
	SaveProgress(ctx context.Context, db *gorm.DB, id snowflake.ID, update ProgressUpdate) error
	IsCancelRequested(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	RequestCancel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
	// Finish moves a job in one of `from` to a terminal status.
	Finish(ctx context.Context, db *gorm.DB, id snowflake.ID, from []JobStatus, to JobStatus, lastError *string, at time.Time) (int64, error)
}
