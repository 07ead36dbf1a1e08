package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status    *Status
	StartedBy string
	Limit     int
	Offset    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *CountSession) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CountSession, error)
	FindOpenByCounter(ctx context.Context, db *gorm.DB, counterID string) (*CountSession, error)
	LastSessionNumber(ctx context.Context, db *gorm.DB, prefix string) (string, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]CountSession, int64, error)

	// Transition moves a session to `to` only while it is in one of `from`; it returns rows affected.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, stamps map[string]any) (int64, error)
	// ApplyDelta adjusts counters and stamps last activity while the session is in one of `allowed`.
	ApplyDelta(ctx context.Context, db *gorm.DB, id snowflake.ID, delta CounterDelta, allowed []Status, at time.Time) (int64, error)
	// Touch activates a draft session and stamps last activity.
	Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
}
