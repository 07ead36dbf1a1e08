package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stocktake/internal/confidence"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	"github.com/smallbiznis/stocktake/internal/duplicate"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() rolldomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, roll *rolldomain.CountRoll) error {
	return db.WithContext(ctx).Create(roll).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*rolldomain.CountRoll, error) {
	var rolls []rolldomain.CountRoll
	err := db.WithContext(ctx).Raw(`SELECT * FROM count_rolls WHERE id = ?`, id).Scan(&rolls).Error
	if err != nil {
		return nil, err
	}
	if len(rolls) == 0 {
		return nil, nil
	}
	return &rolls[0], nil
}

func (r *repo) MaxCaptureSequence(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (int, error) {
	var max int
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(capture_sequence), 0) FROM count_rolls WHERE session_id = ?`,
		sessionID,
	).Scan(&max).Error
	return max, err
}

type candidateRow struct {
	ID              snowflake.ID
	CaptureSequence int
	Quality         string
	Color           string
	LotNumber       string
	Meters          float64
}

func (r *repo) ListDuplicateCandidates(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]duplicate.Candidate, error) {
	var rows []candidateRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, capture_sequence,
			COALESCE(admin_quality, counter_quality) AS quality,
			COALESCE(admin_color, counter_color) AS color,
			COALESCE(admin_lot_number, counter_lot_number) AS lot_number,
			COALESCE(admin_meters, counter_meters) AS meters
		 FROM count_rolls
		 WHERE session_id = ?
		 ORDER BY capture_sequence ASC`,
		sessionID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]duplicate.Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, duplicate.Candidate{
			RollID:          row.ID,
			CaptureSequence: row.CaptureSequence,
			Fields: duplicate.Fields{
				Quality:   row.Quality,
				Color:     row.Color,
				LotNumber: row.LotNumber,
				Meters:    row.Meters,
			},
		})
	}
	return out, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter rolldomain.ListFilter) ([]rolldomain.CountRoll, int64, error) {
	stmt := db.WithContext(ctx).Model(&rolldomain.CountRoll{}).Where("session_id = ?", filter.SessionID)
	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", statusStrings(filter.Statuses))
	}
	switch {
	case len(filter.Levels) > 0 && filter.IncludeNullLevel:
		stmt = stmt.Where("(ocr_confidence_level IN ? OR ocr_confidence_level IS NULL)", levelStrings(filter.Levels))
	case len(filter.Levels) > 0:
		stmt = stmt.Where("ocr_confidence_level IN ?", levelStrings(filter.Levels))
	case filter.IncludeNullLevel:
		stmt = stmt.Where("ocr_confidence_level IS NULL")
	}
	if filter.ExcludeManual {
		stmt = stmt.Where("is_manual_entry = ?", false)
	}
	if filter.ExcludeDuplicates {
		stmt = stmt.Where("is_possible_duplicate = ?", false)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := filter.OrderBy
	if orderBy == "" {
		orderBy = "capture_sequence ASC, id ASC"
	}
	var rolls []rolldomain.CountRoll
	err := stmt.Order(orderBy).
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rolls).Error
	if err != nil {
		return nil, 0, err
	}
	return rolls, total, nil
}

func (r *repo) ListBySession(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, statuses ...rolldomain.Status) ([]rolldomain.CountRoll, error) {
	stmt := db.WithContext(ctx).Where("session_id = ?", sessionID)
	if len(statuses) > 0 {
		stmt = stmt.Where("status IN ?", statusStrings(statuses))
	}
	var rolls []rolldomain.CountRoll
	err := stmt.Order("capture_sequence ASC, id ASC").Find(&rolls).Error
	return rolls, err
}

func (r *repo) ListRerunCandidates(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM count_rolls
		 WHERE session_id = ?
		   AND (ocr_confidence_level IS NULL OR ocr_confidence_level IN ?)
		 ORDER BY capture_sequence ASC, id ASC`,
		sessionID,
		levelStrings([]confidence.Level{confidence.Low, confidence.Medium}),
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []rolldomain.Status, to rolldomain.Status, updates map[string]any) (int64, error) {
	values := map[string]any{"status": string(to)}
	for column, value := range updates {
		values[column] = value
	}
	result := db.WithContext(ctx).
		Model(&rolldomain.CountRoll{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(values)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateOCR(ctx context.Context, db *gorm.DB, id snowflake.ID, u rolldomain.OCRUpdate) (int64, error) {
	var level *string
	if u.ConfidenceLevel != "" {
		v := string(u.ConfidenceLevel)
		level = &v
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE count_rolls SET
			ocr_quality = ?,
			ocr_color = ?,
			ocr_lot_number = ?,
			ocr_meters = ?,
			ocr_raw_text = ?,
			ocr_confidence_score = ?,
			ocr_confidence_level = ?,
			ocr_engine = ?,
			ocr_processed_at = ?,
			is_manual_entry = CASE WHEN is_manual_fallback THEN FALSE ELSE is_manual_entry END,
			is_manual_fallback = FALSE,
			updated_at = ?
		 WHERE id = ?`,
		u.Quality,
		u.Color,
		u.LotNumber,
		u.Meters,
		u.RawText,
		u.ConfidenceScore,
		level,
		u.Engine,
		u.ProcessedAt,
		u.ProcessedAt,
		id,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateAdmin(ctx context.Context, db *gorm.DB, id snowflake.ID, u rolldomain.AdminUpdate, reviewerID string, at time.Time) (int64, error) {
	values := map[string]any{
		"reviewed_by": reviewerID,
		"reviewed_at": at,
		"updated_at":  at,
	}
	setOverride(values, "admin_quality", u.Quality)
	setOverride(values, "admin_color", u.Color)
	setOverride(values, "admin_lot_number", u.LotNumber)
	if u.Meters != nil {
		values["admin_meters"] = *u.Meters
	}
	if u.Notes != nil {
		values["admin_notes"] = *u.Notes
	}
	result := db.WithContext(ctx).
		Model(&rolldomain.CountRoll{}).
		Where("id = ? AND status = ?", id, rolldomain.StatusPendingReview).
		Updates(values)
	return result.RowsAffected, result.Error
}

// setOverride writes an admin text override; an empty value clears it back to the counter's value.
func setOverride(values map[string]any, column string, v *string) {
	if v == nil {
		return
	}
	if *v == "" {
		values[column] = nil
		return
	}
	values[column] = *v
}

func (r *repo) BulkApprove(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, ids []snowflake.ID, reviewerID string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE count_rolls SET
			status = ?,
			reviewed_by = ?,
			reviewed_at = ?,
			updated_at = ?
		 WHERE session_id = ? AND id IN ? AND status = ?`,
		string(rolldomain.StatusApproved),
		reviewerID,
		at,
		at,
		sessionID,
		ids,
		string(rolldomain.StatusPendingReview),
	)
	return result.RowsAffected, result.Error
}

func statusStrings(statuses []rolldomain.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func levelStrings(levels []confidence.Level) []string {
	out := make([]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, string(l))
	}
	return out
}
