package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"gorm.io/gorm"
)

const sessionColumns = `id, session_number, status, total_rolls_counted, rolls_approved, rolls_rejected,
	rolls_pending_review, rolls_recount_requested, started_by, reviewed_by, created_at, updated_at,
	last_activity_at, completed_at, reviewed_at, reconciled_at, cancelled_at`

type repo struct{}

func Provide() sessiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *sessiondomain.CountSession) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO count_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.SessionNumber,
		s.Status,
		s.TotalRollsCounted,
		s.RollsApproved,
		s.RollsRejected,
		s.RollsPendingReview,
		s.RollsRecountRequested,
		s.StartedBy,
		s.ReviewedBy,
		s.CreatedAt,
		s.UpdatedAt,
		s.LastActivityAt,
		s.CompletedAt,
		s.ReviewedAt,
		s.ReconciledAt,
		s.CancelledAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*sessiondomain.CountSession, error) {
	var session sessiondomain.CountSession
	err := db.WithContext(ctx).Raw(
		`SELECT `+sessionColumns+` FROM count_sessions WHERE id = ?`,
		id,
	).Scan(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, nil
	}
	return &session, nil
}

func (r *repo) FindOpenByCounter(ctx context.Context, db *gorm.DB, counterID string) (*sessiondomain.CountSession, error) {
	var session sessiondomain.CountSession
	err := db.WithContext(ctx).Raw(
		`SELECT `+sessionColumns+` FROM count_sessions
		 WHERE started_by = ? AND status IN ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		counterID,
		statusStrings(sessiondomain.OpenStatuses),
	).Scan(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, nil
	}
	return &session, nil
}

func (r *repo) LastSessionNumber(ctx context.Context, db *gorm.DB, prefix string) (string, error) {
	var numbers []string
	err := db.WithContext(ctx).Raw(
		`SELECT session_number FROM count_sessions
		 WHERE session_number LIKE ?
		 ORDER BY session_number DESC
		 LIMIT 1`,
		prefix+"%",
	).Scan(&numbers).Error
	if err != nil {
		return "", err
	}
	if len(numbers) == 0 {
		return "", nil
	}
	return numbers[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter sessiondomain.ListFilter) ([]sessiondomain.CountSession, int64, error) {
	stmt := db.WithContext(ctx).Model(&sessiondomain.CountSession{})
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", string(*filter.Status))
	}
	if startedBy := strings.TrimSpace(filter.StartedBy); startedBy != "" {
		stmt = stmt.Where("started_by = ?", startedBy)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []sessiondomain.CountSession
	err := stmt.Order("created_at DESC, id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from []sessiondomain.Status, to sessiondomain.Status, stamps map[string]any) (int64, error) {
	updates := map[string]any{"status": string(to)}
	for column, value := range stamps {
		updates[column] = value
	}
	result := db.WithContext(ctx).
		Model(&sessiondomain.CountSession{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *repo) ApplyDelta(ctx context.Context, db *gorm.DB, id snowflake.ID, delta sessiondomain.CounterDelta, allowed []sessiondomain.Status, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE count_sessions SET
			total_rolls_counted = total_rolls_counted + ?,
			rolls_pending_review = rolls_pending_review + ?,
			rolls_approved = rolls_approved + ?,
			rolls_rejected = rolls_rejected + ?,
			rolls_recount_requested = rolls_recount_requested + ?,
			last_activity_at = ?,
			updated_at = ?
		 WHERE id = ? AND status IN ?`,
		delta.Total,
		delta.Pending,
		delta.Approved,
		delta.Rejected,
		delta.RecountRequested,
		at,
		at,
		id,
		statusStrings(allowed),
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE count_sessions SET
			status = CASE WHEN status = ? THEN ? ELSE status END,
			last_activity_at = ?,
			updated_at = ?
		 WHERE id = ? AND status IN ?`,
		string(sessiondomain.StatusDraft),
		string(sessiondomain.StatusActive),
		at,
		at,
		id,
		statusStrings(sessiondomain.OpenStatuses),
	)
	return result.RowsAffected, result.Error
}

func statusStrings(statuses []sessiondomain.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
