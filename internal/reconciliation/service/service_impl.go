package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stocktake/internal/audit/domain"
	"github.com/smallbiznis/stocktake/internal/clock"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	ledgerdomain "github.com/smallbiznis/stocktake/internal/ledger/domain"
	"github.com/smallbiznis/stocktake/internal/observability/metrics"
	recondomain "github.com/smallbiznis/stocktake/internal/reconciliation/domain"
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
	Ledger   ledgerdomain.Service
	Audit    auditdomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	rolls    rolldomain.Repository
	sessions sessiondomain.Service
	ledger   ledgerdomain.Service
	audit    auditdomain.Service
	metrics  *metrics.Metrics
}

func New(p Params) recondomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("reconciliation.service"),
		clock:    p.Clock,
		rolls:    p.Rolls,
		sessions: p.Sessions,
		ledger:   p.Ledger,
		audit:    p.Audit,
		metrics:  p.Metrics,
	}
}

func (s *Service) CompleteReview(ctx context.Context, sessionID snowflake.ID, reviewerID string) (*recondomain.Result, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return nil, recondomain.ErrInvalidReviewer
	}

	result := &recondomain.Result{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.sessions.Lookup(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status != sessiondomain.StatusCountingComplete {
			return sessiondomain.ErrInvalidState
		}
		if !session.CanComplete() {
			return sessiondomain.ErrNotReady
		}

		approved, err := s.rolls.ListBySession(ctx, tx, sessionID, rolldomain.StatusApproved)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		for _, roll := range approved {
			fields := roll.Effective()
			posted, err := s.ledger.RecordAdjustment(ctx, tx, ledgerdomain.Adjustment{
				SessionID:  sessionID,
				RollID:     roll.ID,
				Quality:    fields.Quality,
				Color:      fields.Color,
				LotNumber:  fields.LotNumber,
				Meters:     fields.Meters,
				PostedBy:   reviewerID,
				OccurredAt: now,
			})
			if err != nil {
				return fmt.Errorf("%w: roll %s: %w", recondomain.ErrCommitFailed, roll.ID, err)
			}
			if posted {
				result.TransactionsPosted++
			} else {
				result.TransactionsSkipped++
			}
			result.RollCount++
			result.TotalMeters += fields.Meters
		}

		if _, err := s.ledger.RecordSessionReconciliation(ctx, tx, ledgerdomain.Summary{
			SessionID:    sessionID,
			RollCount:    result.RollCount,
			TotalMeters:  result.TotalMeters,
			ReconciledBy: reviewerID,
			ReconciledAt: now,
		}); err != nil {
			return fmt.Errorf("%w: summary: %w", recondomain.ErrCommitFailed, err)
		}

		return s.sessions.MarkReconciled(ctx, tx, sessionID, reviewerID, now)
	})
	if err != nil {
		s.log.Warn("complete review failed",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result.Session = session

	for i := 0; i < result.TransactionsPosted; i++ {
		s.metrics.RecordLedgerTransaction(ctx, string(ledgerdomain.TransactionTypeStockAdjustment), true)
	}
	for i := 0; i < result.TransactionsSkipped; i++ {
		s.metrics.RecordLedgerTransaction(ctx, string(ledgerdomain.TransactionTypeStockAdjustment), false)
	}

	s.log.Info("session reconciled",
		zap.String("session_id", sessionID.String()),
		zap.String("session_number", session.SessionNumber),
		zap.Int("roll_count", result.RollCount),
		zap.Float64("total_meters", result.TotalMeters),
		zap.Int("transactions_posted", result.TransactionsPosted),
	)
	s.audit.Record(ctx, auditdomain.Entry{
		SessionID:  &sessionID,
		ActorType:  auditdomain.ActorTypeReviewer,
		ActorID:    reviewerID,
		Action:     "session.reconcile",
		TargetType: auditdomain.TargetTypeSession,
		TargetID:   sessionID.String(),
		Metadata: map[string]any{
			"roll_count":           result.RollCount,
			"total_meters":         result.TotalMeters,
			"transactions_posted":  result.TransactionsPosted,
			"transactions_skipped": result.TransactionsSkipped,
		},
	})
	return result, nil
}
