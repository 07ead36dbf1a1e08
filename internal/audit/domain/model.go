package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeCounter  ActorType = "counter"
	ActorTypeReviewer ActorType = "reviewer"
	ActorTypeSystem   ActorType = "system"
)

const (
	TargetTypeSession  = "count_session"
	TargetTypeRoll     = "count_roll"
	TargetTypeRerunJob = "ocr_rerun_job"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	SessionID  *snowflake.ID     `gorm:"index" json:"session_id,omitempty"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"size:64;not null;index" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	RequestID  *string           `gorm:"type:text" json:"request_id,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	SessionID snowflake.ID
	Action    string
	Limit     int
	Offset    int
}
