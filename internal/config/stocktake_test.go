package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateStockTakeConfig(t *testing.T) {
	assert.NoError(t, validateStockTakeConfig(DefaultStockTakeConfig()))

	negative := DefaultStockTakeConfig()
	negative.Duplicate.MetersTolerance = -1
	assert.Error(t, validateStockTakeConfig(negative))

	pages := DefaultStockTakeConfig()
	pages.Review.DefaultPageSize = 500
	assert.Error(t, validateStockTakeConfig(pages))

	poll := DefaultStockTakeConfig()
	poll.Rerun.PollInterval = 0
	assert.Error(t, validateStockTakeConfig(poll))

	timeout := DefaultStockTakeConfig()
	timeout.Rerun.ItemTimeout = 0
	assert.Error(t, validateStockTakeConfig(timeout))

	ttl := DefaultStockTakeConfig()
	ttl.Rerun.LockTTL = -time.Second
	assert.Error(t, validateStockTakeConfig(ttl))
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *StockTakeConfigHolder
	assert.Equal(t, DefaultStockTakeConfig(), holder.Get())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("OCR_LANGUAGES", "eng, ind ,")
	t.Setenv("REDIS_ENABLED", "yes")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, []string{"eng", "ind"}, cfg.OCR.Languages)
	assert.True(t, cfg.Redis.Enabled)
}
