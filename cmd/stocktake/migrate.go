package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/smallbiznis/stocktake/internal/config"
	"github.com/smallbiznis/stocktake/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(newMigrateUpCommand())
	cmd.AddCommand(newMigrateVersionCommand())
	return cmd
}

func newMigrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn *gorm.DB
				cfg  config.Config
			)
			return runOnce(cmd.Context(), fx.Options(infrastructure(), fx.Populate(&conn, &cfg)), func(ctx context.Context) error {
				if err := migration.Apply(conn, cfg.DBType); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.DBType)
				return nil
			})
		},
	}
}

func newMigrateVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn *gorm.DB
				cfg  config.Config
			)
			return runOnce(cmd.Context(), fx.Options(infrastructure(), fx.Populate(&conn, &cfg)), func(ctx context.Context) error {
				if cfg.DBType != "postgres" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s schemas are auto-migrated and carry no version\n", cfg.DBType)
					return nil
				}
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				version, dirty, err := migration.Version(sqlDB)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Version", "Dirty"},
					[][]string{{strconv.FormatUint(uint64(version), 10), strconv.FormatBool(dirty)}},
					1,
				))
				return nil
			})
		},
	}
}
