package service

import (
	"context"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stocktake/internal/clock"
	ledgerdomain "github.com/smallbiznis/stocktake/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) RecordAdjustment(ctx context.Context, tx *gorm.DB, adj ledgerdomain.Adjustment) (bool, error) {
	if adj.SessionID <= 0 {
		return false, ledgerdomain.ErrInvalidSession
	}
	if adj.RollID <= 0 {
		return false, ledgerdomain.ErrInvalidRoll
	}
	if adj.Meters < 0 || math.IsNaN(adj.Meters) || math.IsInf(adj.Meters, 0) {
		return false, ledgerdomain.ErrInvalidMeters
	}
	postedBy := strings.TrimSpace(adj.PostedBy)
	if postedBy == "" {
		return false, ledgerdomain.ErrInvalidPostedBy
	}
	if adj.OccurredAt.IsZero() {
		return false, ledgerdomain.ErrInvalidOccurredAt
	}

	key := ledgerdomain.AdjustmentKey(adj.SessionID, adj.RollID)
	row := ledgerdomain.InventoryTransaction{
		ID:             s.genID.Generate(),
		IdempotencyKey: key,
		Type:           ledgerdomain.TransactionTypeStockAdjustment,
		SourceType:     ledgerdomain.SourceTypeStockTakeSession,
		SourceID:       adj.SessionID,
		RollID:         adj.RollID,
		Quality:        adj.Quality,
		Color:          adj.Color,
		LotNumber:      adj.LotNumber,
		Meters:         adj.Meters,
		PostedBy:       postedBy,
		OccurredAt:     adj.OccurredAt.UTC(),
		CreatedAt:      s.clock.Now().UTC(),
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Debug("stock adjustment already posted", zap.String("idempotency_key", key))
		return false, nil
	}
	return true, nil
}

func (s *Service) RecordSessionReconciliation(ctx context.Context, tx *gorm.DB, summary ledgerdomain.Summary) (bool, error) {
	if summary.SessionID <= 0 {
		return false, ledgerdomain.ErrInvalidSession
	}
	reconciledBy := strings.TrimSpace(summary.ReconciledBy)
	if reconciledBy == "" {
		return false, ledgerdomain.ErrInvalidPostedBy
	}
	if summary.ReconciledAt.IsZero() {
		return false, ledgerdomain.ErrInvalidOccurredAt
	}

	row := ledgerdomain.SessionReconciliation{
		ID:           s.genID.Generate(),
		SessionID:    summary.SessionID,
		RollCount:    summary.RollCount,
		TotalMeters:  summary.TotalMeters,
		ReconciledBy: reconciledBy,
		ReconciledAt: summary.ReconciledAt.UTC(),
		CreatedAt:    s.clock.Now().UTC(),
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_id"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) ListSessionTransactions(ctx context.Context, sessionID snowflake.ID) ([]ledgerdomain.InventoryTransaction, error) {
	if sessionID <= 0 {
		return nil, ledgerdomain.ErrInvalidSession
	}
	var items []ledgerdomain.InventoryTransaction
	err := s.db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", string(ledgerdomain.SourceTypeStockTakeSession), sessionID).
		Order("occurred_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (s *Service) GetSessionReconciliation(ctx context.Context, sessionID snowflake.ID) (*ledgerdomain.SessionReconciliation, error) {
	if sessionID <= 0 {
		return nil, ledgerdomain.ErrInvalidSession
	}
	var rows []ledgerdomain.SessionReconciliation
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ledgerdomain.ErrNotFound
	}
	return &rows[0], nil
}
