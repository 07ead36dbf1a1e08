package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stocktake/internal/audit"
	"github.com/smallbiznis/stocktake/internal/clock"
	"github.com/smallbiznis/stocktake/internal/config"
	"github.com/smallbiznis/stocktake/internal/countroll"
	"github.com/smallbiznis/stocktake/internal/countsession"
	"github.com/smallbiznis/stocktake/internal/distlock"
	"github.com/smallbiznis/stocktake/internal/export"
	"github.com/smallbiznis/stocktake/internal/ledger"
	"github.com/smallbiznis/stocktake/internal/migration"
	"github.com/smallbiznis/stocktake/internal/observability"
	"github.com/smallbiznis/stocktake/internal/ocrrerun"
	"github.com/smallbiznis/stocktake/internal/providers"
	"github.com/smallbiznis/stocktake/internal/reconciliation"
	"github.com/smallbiznis/stocktake/internal/triage"
	"github.com/smallbiznis/stocktake/pkg/db"
	"go.uber.org/fx"
)

const oneShotTimeout = 30 * time.Second

// infrastructure is what every command needs: config, logging, database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
	)
}

// domain wires the stock-take services on top of infrastructure.
func domain() fx.Option {
	return fx.Options(
		infrastructure(),
		migration.Module,
		distlock.Module,
		providers.Module,
		audit.Module,
		countsession.Module,
		countroll.Module,
		triage.Module,
		ocrrerun.Module,
		ledger.Module,
		reconciliation.Module,
		export.Module,
	)
}

func newSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// runOnce starts a short-lived app, hands its populated targets to fn and stops the app.
func runOnce(ctx context.Context, opts fx.Option, fn func(ctx context.Context) error) error {
	app := fx.New(opts, fx.NopLogger)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}
