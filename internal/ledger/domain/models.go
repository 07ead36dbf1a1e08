package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionType classifies inventory ledger postings.
type TransactionType string

const (
	TransactionTypeStockAdjustment TransactionType = "STOCK_ADJUSTMENT"
)

type SourceType string

const (
	SourceTypeStockTakeSession SourceType = "stock_take_session"
)

// InventoryTransaction is one immutable posting against fabric stock.
type InventoryTransaction struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	IdempotencyKey string          `json:"idempotency_key" gorm:"size:191;not null;uniqueIndex:ux_inventory_ledger_transactions_idempotency_key"`
	Type           TransactionType `json:"type" gorm:"size:32;not null;index"`
	SourceType     SourceType      `json:"source_type" gorm:"type:text;not null"`
	SourceID       snowflake.ID    `json:"source_id" gorm:"not null;index"`
	RollID         snowflake.ID    `json:"roll_id" gorm:"not null;index"`
	Quality        string          `json:"quality" gorm:"type:text;not null"`
	Color          string          `json:"color" gorm:"type:text;not null"`
	LotNumber      string          `json:"lot_number" gorm:"type:text;not null"`
	Meters         float64         `json:"meters" gorm:"not null"`
	PostedBy       string          `json:"posted_by" gorm:"type:text;not null"`
	OccurredAt     time.Time       `json:"occurred_at" gorm:"not null"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
}

func (InventoryTransaction) TableName() string { return "inventory_ledger_transactions" }

// SessionReconciliation is the per-session summary written alongside the postings.
type SessionReconciliation struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	SessionID    snowflake.ID `json:"session_id" gorm:"not null;uniqueIndex:ux_session_reconciliations_session"`
	RollCount    int          `json:"roll_count" gorm:"not null"`
	TotalMeters  float64      `json:"total_meters" gorm:"not null"`
	ReconciledBy string       `json:"reconciled_by" gorm:"type:text;not null"`
	ReconciledAt time.Time    `json:"reconciled_at" gorm:"not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
}

func (SessionReconciliation) TableName() string { return "session_reconciliations" }

// AdjustmentKey is the idempotency key of the posting for one approved roll.
func AdjustmentKey(sessionID, rollID snowflake.ID) string {
	return fmt.Sprintf("stocktake:%s:%s", sessionID.String(), rollID.String())
}
