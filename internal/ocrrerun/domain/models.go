package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	default:
		return false
	}
}

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	case JobStatusQueued, JobStatusRunning:
		return false
	default:
		return false
	}
}

// ActiveJobStatuses hold the per-session "one rerun at a time" slot.
var ActiveJobStatuses = []JobStatus{JobStatusQueued, JobStatusRunning}

// Failure is one roll the batch could not reprocess.
type Failure struct {
	RollID          string    `json:"roll_id"`
	CaptureSequence int       `json:"capture_sequence,omitempty"`
	Reason          string    `json:"reason"`
	At              time.Time `json:"at"`
}

// Job is a persisted batch OCR rerun. RollIDs is the snapshot taken at start, in capture order;
// Current is the index of the next roll to process.
type Job struct {
	ID              snowflake.ID                 `json:"id" gorm:"primaryKey"`
	SessionID       snowflake.ID                 `json:"session_id" gorm:"not null;index"`
	Status          JobStatus                    `json:"status" gorm:"size:32;not null;index"`
	RequestedBy     string                       `json:"requested_by" gorm:"type:text;not null"`
	RollIDs         datatypes.JSONSlice[string]  `json:"roll_ids" gorm:"not null"`
	Current         int                          `json:"current" gorm:"not null;default:0"`
	Total           int                          `json:"total" gorm:"not null;default:0"`
	SuccessCount    int                          `json:"success_count" gorm:"not null;default:0"`
	FailureCount    int                          `json:"failure_count" gorm:"not null;default:0"`
	Failures        datatypes.JSONSlice[Failure] `json:"failures"`
	CancelRequested bool                         `json:"cancel_requested" gorm:"not null;default:false"`
	ClaimedBy       *string                      `json:"claimed_by,omitempty" gorm:"type:text"`
	LastError       *string                      `json:"last_error,omitempty" gorm:"type:text"`
	HeartbeatAt     *time.Time                   `json:"heartbeat_at,omitempty"`
	StartedAt       *time.Time                   `json:"started_at,omitempty"`
	FinishedAt      *time.Time                   `json:"finished_at,omitempty"`
	CreatedAt       time.Time                    `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time                    `json:"updated_at" gorm:"not null"`
}

func (Job) TableName() string { return "ocr_rerun_jobs" }

// Progress is the live progress bar payload.
type Progress struct {
	Current      int `json:"current"`
	Total        int `json:"total"`
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
}

func (j Job) Progress() Progress {
	return Progress{
		Current:      j.Current,
		Total:        j.Total,
		SuccessCount: j.SuccessCount,
		FailureCount: j.FailureCount,
	}
}
