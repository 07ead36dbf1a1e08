package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stocktake/internal/clock"
	ledgerdomain "github.com/smallbiznis/stocktake/internal/ledger/domain"
	"github.com/smallbiznis/stocktake/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newLedger(t *testing.T) (*gorm.DB, ledgerdomain.Service) {
	t.Helper()
	conn := dbtest.Open(t, &ledgerdomain.InventoryTransaction{}, &ledgerdomain.SessionReconciliation{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return conn, NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
	})
}

func TestRecordAdjustmentIsIdempotent(t *testing.T) {
	conn, svc := newLedger(t)
	ctx := context.Background()
	adj := ledgerdomain.Adjustment{
		SessionID:  101,
		RollID:     202,
		Quality:    "Q1",
		Color:      "NAVY",
		LotNumber:  "L100",
		Meters:     100,
		PostedBy:   "reviewer-1",
		OccurredAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	posted, err := svc.RecordAdjustment(ctx, conn, adj)
	require.NoError(t, err)
	assert.True(t, posted)

	posted, err = svc.RecordAdjustment(ctx, conn, adj)
	require.NoError(t, err)
	assert.False(t, posted)

	items, err := svc.ListSessionTransactions(ctx, 101)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "stocktake:101:202", items[0].IdempotencyKey)
	assert.Equal(t, ledgerdomain.TransactionTypeStockAdjustment, items[0].Type)
	assert.Equal(t, 100.0, items[0].Meters)
}

func TestRecordAdjustmentValidates(t *testing.T) {
	conn, svc := newLedger(t)
	ctx := context.Background()
	at := time.Now()

	_, err := svc.RecordAdjustment(ctx, conn, ledgerdomain.Adjustment{RollID: 1, PostedBy: "r", OccurredAt: at})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidSession)

	_, err = svc.RecordAdjustment(ctx, conn, ledgerdomain.Adjustment{SessionID: 1, RollID: 1, Meters: -1, PostedBy: "r", OccurredAt: at})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidMeters)

	_, err = svc.RecordAdjustment(ctx, conn, ledgerdomain.Adjustment{SessionID: 1, RollID: 1, OccurredAt: at})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPostedBy)
}

func TestRecordSessionReconciliationOncePerSession(t *testing.T) {
	conn, svc := newLedger(t)
	ctx := context.Background()
	summary := ledgerdomain.Summary{
		SessionID:    7,
		RollCount:    2,
		TotalMeters:  150.5,
		ReconciledBy: "reviewer-1",
		ReconciledAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	posted, err := svc.RecordSessionReconciliation(ctx, conn, summary)
	require.NoError(t, err)
	assert.True(t, posted)

	summary.RollCount = 99
	posted, err = svc.RecordSessionReconciliation(ctx, conn, summary)
	require.NoError(t, err)
	assert.False(t, posted)

	stored, err := svc.GetSessionReconciliation(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RollCount)

	_, err = svc.GetSessionReconciliation(ctx, 8)
	assert.ErrorIs(t, err, ledgerdomain.ErrNotFound)
}

// renderedInserts builds the ledger inserts against a dialect without a live server and returns their SQL.
func renderedInserts(t *testing.T, dialector gorm.Dialector) []string {
	t.Helper()
	conn, err := gorm.Open(dialector, &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)

	var statements []string
	require.NoError(t, conn.Callback().Create().After("gorm:create").Register("test:capture_sql", func(tx *gorm.DB) {
		statements = append(statements, tx.Statement.SQL.String())
	}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	svc := NewService(Params{DB: conn, Log: zap.NewNop(), GenID: node, Clock: clock.NewFakeClock(time.Now())})
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	_, err = svc.RecordAdjustment(ctx, conn, ledgerdomain.Adjustment{
		SessionID: 1, RollID: 2, Quality: "Q", Meters: 1, PostedBy: "reviewer-1", OccurredAt: at,
	})
	require.NoError(t, err)
	_, err = svc.RecordSessionReconciliation(ctx, conn, ledgerdomain.Summary{
		SessionID: 1, RollCount: 1, TotalMeters: 1, ReconciledBy: "reviewer-1", ReconciledAt: at,
	})
	require.NoError(t, err)
	require.Len(t, statements, 2)
	return statements
}

func TestLedgerInsertsRenderPerDialect(t *testing.T) {
	for _, stmt := range renderedInserts(t, mysql.New(mysql.Config{
		DSN:                       "stocktake:stocktake@tcp(127.0.0.1:3306)/stocktake?parseTime=true",
		SkipInitializeWithVersion: true,
	})) {
		assert.Contains(t, stmt, "ON DUPLICATE KEY UPDATE")
		assert.NotContains(t, stmt, "ON CONFLICT")
	}

	for _, stmt := range renderedInserts(t, postgres.New(postgres.Config{
		DSN: "host=127.0.0.1 user=stocktake dbname=stocktake sslmode=disable",
	})) {
		assert.Contains(t, stmt, "ON CONFLICT")
		assert.Contains(t, stmt, "DO NOTHING")
	}
}
