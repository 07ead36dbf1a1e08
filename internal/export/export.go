// Package export renders a session's rolls for people outside the review screen: a CSV projection and a
// printable reconciliation report.
package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("export",
	fx.Provide(New),
)

// Columns is the CSV header, in order.
var Columns = []string{
	"capture_sequence",
	"roll_id",
	"quality",
	"color",
	"lot_number",
	"meters",
	"status",
	"ocr_confidence_score",
	"ocr_confidence_level",
	"is_manual_entry",
	"is_possible_duplicate",
	"reviewed_by",
	"reviewed_at",
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Rolls    rolldomain.Repository
	Sessions sessiondomain.Service
	PDF      pdf.Provider
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	rolls    rolldomain.Repository
	sessions sessiondomain.Service
	pdf      pdf.Provider
}

func New(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("export.service"),
		rolls:    p.Rolls,
		sessions: p.Sessions,
		pdf:      p.PDF,
	}
}

// WriteCSV streams every roll of the session in capture order. Values are the effective ones.
func (s *Service) WriteCSV(ctx context.Context, sessionID snowflake.ID, w io.Writer) error {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return err
	}
	rolls, err := s.rolls.ListBySession(ctx, s.db, sessionID)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return err
	}
	for _, roll := range rolls {
		if err := writer.Write(Row(roll)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func Row(roll rolldomain.CountRoll) []string {
	fields := roll.Effective()
	return []string{
		strconv.Itoa(roll.CaptureSequence),
		roll.ID.String(),
		fields.Quality,
		fields.Color,
		fields.LotNumber,
		formatFloat(fields.Meters),
		string(roll.Status),
		formatOptionalFloat(roll.OCRConfidenceScore),
		string(roll.ConfidenceLevel()),
		strconv.FormatBool(roll.IsManualEntry),
		strconv.FormatBool(roll.IsPossibleDuplicate),
		deref(roll.ReviewedBy),
		formatOptionalTime(roll.ReviewedAt),
	}
}

// Report renders the reconciliation PDF. Only approved rolls are itemized.
func (s *Service) Report(ctx context.Context, sessionID snowflake.ID) (io.Reader, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	approved, err := s.rolls.ListBySession(ctx, s.db, sessionID, rolldomain.StatusApproved)
	if err != nil {
		return nil, err
	}

	data := pdf.ReportData{
		SessionNumber:    session.SessionNumber,
		Status:           string(session.Status),
		StartedBy:        session.StartedBy,
		ReviewedBy:       deref(session.ReviewedBy),
		StartedAt:        session.CreatedAt.UTC().Format(time.RFC3339),
		CompletedAt:      formatOptionalTime(session.CompletedAt),
		ReconciledAt:     formatOptionalTime(session.ReconciledAt),
		TotalRolls:       session.TotalRollsCounted,
		Approved:         session.RollsApproved,
		Rejected:         session.RollsRejected,
		Pending:          session.RollsPendingReview,
		RecountRequested: session.RollsRecountRequested,
		Items:            make([]pdf.ReportItem, 0, len(approved)),
	}
	for _, roll := range approved {
		fields := roll.Effective()
		data.Items = append(data.Items, pdf.ReportItem{
			CaptureSequence: roll.CaptureSequence,
			Quality:         fields.Quality,
			Color:           fields.Color,
			LotNumber:       fields.LotNumber,
			Meters:          fields.Meters,
			Confidence:      string(roll.ConfidenceLevel()),
		})
		data.TotalMeters += fields.Meters
	}

	s.log.Debug("rendering reconciliation report",
		zap.String("session_number", session.SessionNumber),
		zap.Int("items", len(data.Items)),
	)
	return s.pdf.GenerateReconciliationReport(ctx, data)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
