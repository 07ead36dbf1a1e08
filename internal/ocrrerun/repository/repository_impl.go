package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	jobdomain "github.com/smallbiznis/stocktake/internal/ocrrerun/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() jobdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, job *jobdomain.Job) error {
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*jobdomain.Job, error) {
	var jobs []jobdomain.Job
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&jobs).Error; err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (r *repo) FindActiveBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*jobdomain.Job, error) {
	var jobs []jobdomain.Job
	err := db.WithContext(ctx).
		Where("session_id = ? AND status IN ?", sessionID, statusStrings(jobdomain.ActiveJobStatuses)).
		Order("created_at ASC, id ASC").
		Limit(1).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (r *repo) ListBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, limit int) ([]jobdomain.Job, error) {
	var jobs []jobdomain.Job
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *repo) NextClaimable(ctx context.Context, db *gorm.DB, staleBefore time.Time) (*jobdomain.Job, error) {
	var jobs []jobdomain.Job
	err := db.WithContext(ctx).
		Where("status = ? OR (status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?))",
			string(jobdomain.JobStatusQueued),
			string(jobdomain.JobStatusRunning),
			staleBefore,
		).
		Order("created_at ASC, id ASC").
		Limit(1).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, at, staleBefore time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE ocr_rerun_jobs SET
			status = ?,
			claimed_by = ?,
			heartbeat_at = ?,
			started_at = COALESCE(started_at, ?),
			updated_at = ?
		 WHERE id = ?
		   AND (status = ? OR (status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)))`,
		string(jobdomain.JobStatusRunning),
		workerID,
		at,
		at,
		at,
		id,
		string(jobdomain.JobStatusQueued),
		string(jobdomain.JobStatusRunning),
		staleBefore,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, workerID string, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE ocr_rerun_jobs SET status = ?, claimed_by = NULL, heartbeat_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND claimed_by = ?`,
		string(jobdomain.JobStatusQueued),
		at,
		id,
		string(jobdomain.JobStatusRunning),
		workerID,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) SaveProgress(ctx context.Context, db *gorm.DB, id snowflake.ID, u jobdomain.ProgressUpdate) error {
	return db.WithContext(ctx).
		Model(&jobdomain.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current":       u.Current,
			"success_count": u.SuccessCount,
			"failure_count": u.FailureCount,
			"failures":      datatypes.JSONSlice[jobdomain.Failure](u.Failures),
			"heartbeat_at":  u.At,
			"updated_at":    u.At,
		}).Error
}

func (r *repo) IsCancelRequested(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	var flags []bool
	err := db.WithContext(ctx).Raw(
		`SELECT cancel_requested FROM ocr_rerun_jobs WHERE id = ?`,
		id,
	).Scan(&flags).Error
	if err != nil {
		return false, err
	}
	return len(flags) > 0 && flags[0], nil
}

func (r *repo) RequestCancel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE ocr_rerun_jobs SET cancel_requested = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		true,
		at,
		id,
		statusStrings(jobdomain.ActiveJobStatuses),
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Finish(ctx context.Context, db *gorm.DB, id snowflake.ID, from []jobdomain.JobStatus, to jobdomain.JobStatus, lastError *string, at time.Time) (int64, error) {
	values := map[string]any{
		"status":      string(to),
		"finished_at": at,
		"updated_at":  at,
	}
	if lastError != nil {
		values["last_error"] = *lastError
	}
	result := db.WithContext(ctx).
		Model(&jobdomain.Job{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(values)
	return result.RowsAffected, result.Error
}

func statusStrings(statuses []jobdomain.JobStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
