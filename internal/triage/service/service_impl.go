package service

import (
	"context"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stocktake/internal/audit/domain"
	"github.com/smallbiznis/stocktake/internal/clock"
	"github.com/smallbiznis/stocktake/internal/config"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/internal/duplicate"
	"github.com/smallbiznis/stocktake/internal/observability/metrics"
	triagedomain "github.com/smallbiznis/stocktake/internal/triage/domain"
	"github.com/smallbiznis/stocktake/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Rolls    rolldomain.Repository
	Sessions sessiondomain.Service
	Audit    auditdomain.Service
	Config   *config.StockTakeConfigHolder `optional:"true"`
	Metrics  *metrics.Metrics              `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	rolls    rolldomain.Repository
	sessions sessiondomain.Service
	audit    auditdomain.Service
	config   *config.StockTakeConfigHolder
	metrics  *metrics.Metrics
}

func New(p Params) triagedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("triage.service"),
		clock:    p.Clock,
		rolls:    p.Rolls,
		sessions: p.Sessions,
		audit:    p.Audit,
		config:   p.Config,
		metrics:  p.Metrics,
	}
}

func (s *Service) List(ctx context.Context, q triagedomain.Query) (triagedomain.Page, error) {
	if _, err := s.sessions.GetSession(ctx, q.SessionID); err != nil {
		return triagedomain.Page{}, err
	}

	review := s.config.Get().Review
	filter, page, err := triagedomain.BuildListQuery(q, review.DefaultPageSize, review.MaxPageSize)
	if err != nil {
		return triagedomain.Page{}, err
	}

	rolls, total, err := s.rolls.List(ctx, s.db, filter)
	if err != nil {
		return triagedomain.Page{}, err
	}
	if rolls == nil {
		rolls = []rolldomain.CountRoll{}
	}
	return triagedomain.Page{
		PageInfo: pagination.BuildPageInfo(page, total),
		Rolls:    rolls,
	}, nil
}

func (s *Service) Approve(ctx context.Context, rollID snowflake.ID, reviewerID string) (*rolldomain.CountRoll, error) {
	return s.decide(ctx, decision{
		action:     "roll.approve",
		rollID:     rollID,
		reviewerID: reviewerID,
		to:         rolldomain.StatusApproved,
	})
}

func (s *Service) Reject(ctx context.Context, rollID snowflake.ID, reviewerID, reason string) (*rolldomain.CountRoll, error) {
	d := decision{
		action:     "roll.reject",
		rollID:     rollID,
		reviewerID: reviewerID,
		to:         rolldomain.StatusRejected,
		reason:     strings.TrimSpace(reason),
	}
	if d.reason != "" {
		d.updates = map[string]any{"admin_notes": d.reason}
	}
	return s.decide(ctx, d)
}

func (s *Service) RequestRecount(ctx context.Context, rollID snowflake.ID, reviewerID, reason string) (*rolldomain.CountRoll, error) {
	d := decision{
		action:     "roll.recount",
		rollID:     rollID,
		reviewerID: reviewerID,
		to:         rolldomain.StatusRecountRequested,
		reason:     strings.TrimSpace(reason),
	}
	if d.reason != "" {
		d.updates = map[string]any{"recount_reason": d.reason}
	}
	return s.decide(ctx, d)
}

type decision struct {
	action     string
	rollID     snowflake.ID
	reviewerID string
	to         rolldomain.Status
	reason     string
	updates    map[string]any
}

// allowedFrom lists the statuses each decision may leave.
func allowedFrom(to rolldomain.Status) ([]rolldomain.Status, error) {
	switch to {
	case rolldomain.StatusApproved, rolldomain.StatusRejected:
		return []rolldomain.Status{rolldomain.StatusPendingReview}, triagedomain.ErrRollNotPending
	case rolldomain.StatusRecountRequested:
		return rolldomain.RecountableStatuses, triagedomain.ErrRecountAlreadyRequested
	case rolldomain.StatusPendingReview:
		return nil, rolldomain.ErrInvalidStatus
	default:
		return nil, rolldomain.ErrInvalidStatus
	}
}

// decide applies one reviewer decision: conditional status update plus the matching counter delta, in one transaction.
func (s *Service) decide(ctx context.Context, d decision) (*rolldomain.CountRoll, error) {
	d.reviewerID = strings.TrimSpace(d.reviewerID)
	if d.reviewerID == "" {
		return nil, triagedomain.ErrInvalidReviewer
	}
	from, precondition := allowedFrom(d.to)
	if from == nil {
		return nil, precondition
	}

	var (
		roll     *rolldomain.CountRoll
		previous rolldomain.Status
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lookupReviewable(ctx, tx, d.rollID)
		if err != nil {
			return err
		}
		previous = current.Status
		if !containsStatus(from, previous) {
			return precondition
		}

		now := s.clock.Now().UTC()
		updates := map[string]any{
			"reviewed_by": d.reviewerID,
			"reviewed_at": now,
			"updated_at":  now,
		}
		for column, value := range d.updates {
			updates[column] = value
		}
		rows, err := s.rolls.TransitionStatus(ctx, tx, d.rollID, []rolldomain.Status{previous}, d.to, updates)
		if err != nil {
			return err
		}
		if rows == 0 {
			return precondition
		}

		delta := rolldomain.TransitionDelta(previous, d.to, 1)
		if err := s.sessions.ApplyDelta(ctx, tx, current.SessionID, delta, sessiondomain.ReviewableStatuses); err != nil {
			return err
		}

		roll, err = s.rolls.FindByID(ctx, tx, d.rollID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReviewAction(ctx, d.action, 1)
	metadata := map[string]any{"from": string(previous), "to": string(d.to)}
	if d.reason != "" {
		metadata["reason"] = d.reason
	}
	s.audit.Record(ctx, auditdomain.Entry{
		SessionID:  &roll.SessionID,
		ActorType:  auditdomain.ActorTypeReviewer,
		ActorID:    d.reviewerID,
		Action:     d.action,
		TargetType: auditdomain.TargetTypeRoll,
		TargetID:   roll.ID.String(),
		Metadata:   metadata,
	})
	return roll, nil
}

// EditAndSave writes reviewer corrections on a pending roll without changing its status.
// Blank text fields clear the override.
func (s *Service) EditAndSave(ctx context.Context, rollID snowflake.ID, edit triagedomain.EditRequest, reviewerID string) (*rolldomain.CountRoll, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return nil, triagedomain.ErrInvalidReviewer
	}

	update := rolldomain.AdminUpdate{
		Quality:   normalized(edit.Quality),
		Color:     normalized(edit.Color),
		LotNumber: normalized(edit.LotNumber),
		Meters:    edit.Meters,
		Notes:     trimmed(edit.Notes),
	}
	if update.IsEmpty() {
		return nil, triagedomain.ErrEmptyEdit
	}
	if m := update.Meters; m != nil && (*m < 0 || math.IsNaN(*m) || math.IsInf(*m, 0)) {
		return nil, rolldomain.ErrInvalidMeters
	}

	var roll *rolldomain.CountRoll
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.lookupReviewable(ctx, tx, rollID)
		if err != nil {
			return err
		}
		if current.Status != rolldomain.StatusPendingReview {
			return triagedomain.ErrRollNotPending
		}
		rows, err := s.rolls.UpdateAdmin(ctx, tx, rollID, update, reviewerID, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if rows == 0 {
			return triagedomain.ErrRollNotPending
		}
		roll, err = s.rolls.FindByID(ctx, tx, rollID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReviewAction(ctx, "roll.edit", 1)
	s.audit.Record(ctx, auditdomain.Entry{
		SessionID:  &roll.SessionID,
		ActorType:  auditdomain.ActorTypeReviewer,
		ActorID:    reviewerID,
		Action:     "roll.edit",
		TargetType: auditdomain.TargetTypeRoll,
		TargetID:   roll.ID.String(),
		Metadata:   editMetadata(update),
	})
	return roll, nil
}

// BulkApprove approves whichever of the ids are still pending; everything else is skipped.
func (s *Service) BulkApprove(ctx context.Context, sessionID snowflake.ID, rollIDs []snowflake.ID, reviewerID string) (triagedomain.BulkResult, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return triagedomain.BulkResult{}, triagedomain.ErrInvalidReviewer
	}
	ids := uniqueIDs(rollIDs)
	if len(ids) == 0 {
		return triagedomain.BulkResult{}, nil
	}

	var approved int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.sessions.Lookup(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !session.Status.AcceptsReview() {
			return sessiondomain.ErrInvalidState
		}

		approved, err = s.rolls.BulkApprove(ctx, tx, sessionID, ids, reviewerID, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		delta := rolldomain.TransitionDelta(rolldomain.StatusPendingReview, rolldomain.StatusApproved, int(approved))
		return s.sessions.ApplyDelta(ctx, tx, sessionID, delta, sessiondomain.ReviewableStatuses)
	})
	if err != nil {
		return triagedomain.BulkResult{}, err
	}

	result := triagedomain.BulkResult{Approved: int(approved), Skipped: len(ids) - int(approved)}
	s.metrics.RecordReviewAction(ctx, "roll.bulk_approve", approved)
	s.log.Info("bulk approve",
		zap.String("session_id", sessionID.String()),
		zap.Int("requested", len(ids)),
		zap.Int("approved", result.Approved),
		zap.Int("skipped", result.Skipped),
	)
	s.audit.Record(ctx, auditdomain.Entry{
		SessionID:  &sessionID,
		ActorType:  auditdomain.ActorTypeReviewer,
		ActorID:    reviewerID,
		Action:     "roll.bulk_approve",
		TargetType: auditdomain.TargetTypeSession,
		TargetID:   sessionID.String(),
		Metadata: map[string]any{
			"requested": len(ids),
			"approved":  result.Approved,
			"skipped":   result.Skipped,
		},
	})
	return result, nil
}

func (s *Service) Summary(ctx context.Context, sessionID snowflake.ID) (triagedomain.Summary, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return triagedomain.Summary{}, err
	}
	return triagedomain.SummaryOf(*session), nil
}

func (s *Service) lookupReviewable(ctx context.Context, tx *gorm.DB, rollID snowflake.ID) (*rolldomain.CountRoll, error) {
	if rollID <= 0 {
		return nil, rolldomain.ErrInvalidID
	}
	roll, err := s.rolls.FindByID(ctx, tx, rollID)
	if err != nil {
		return nil, err
	}
	if roll == nil {
		return nil, rolldomain.ErrNotFound
	}
	session, err := s.sessions.Lookup(ctx, tx, roll.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.AcceptsReview() {
		return nil, sessiondomain.ErrInvalidState
	}
	return roll, nil
}

func containsStatus(statuses []rolldomain.Status, status rolldomain.Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func uniqueIDs(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalized(v *string) *string {
	if v == nil {
		return nil
	}
	out := duplicate.Normalize(*v)
	return &out
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	out := strings.TrimSpace(*v)
	return &out
}

func editMetadata(u rolldomain.AdminUpdate) map[string]any {
	out := map[string]any{}
	if u.Quality != nil {
		out["admin_quality"] = *u.Quality
	}
	if u.Color != nil {
		out["admin_color"] = *u.Color
	}
	if u.LotNumber != nil {
		out["admin_lot_number"] = *u.LotNumber
	}
	if u.Meters != nil {
		out["admin_meters"] = *u.Meters
	}
	return out
}
