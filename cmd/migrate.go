package cmd

import (
	"fmt"
	"log"

	"github.com/jmehdipour/order-saga/internal/config"
	"github.com/jmehdipour/order-saga/internal/db"
	"github.com/jmehdipour/order-saga/internal/sagalog"
	"github.com/jmehdipour/order-saga/migrations"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [order|payment|restaurant|audit]",
	Short:     "Create the tables of one service database (idempotent)",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"order", "payment", "restaurant", "audit"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		service := args[0]
		if service == "audit" {
			return migrateAudit(cfg.ClickHouse)
		}

		driver := cfg.Database.Driver
		if driver == "" {
			driver = db.DriverMySQL
		}
		schema, err := migrations.Load(driver, service)
		if err != nil {
			return err
		}

		sqlDB, err := db.Open(sqlOpts(cfg.Database))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		if _, err := sqlDB.Exec(schema); err != nil {
			return fmt.Errorf("exec %s migration: %w", service, err)
		}

		log.Printf(">> %s migration complete (%s)", service, driver)
		return nil
	},
}

func migrateAudit(c config.ClickHouseConfig) error {
	schema, err := migrations.Load("clickhouse", "audit")
	if err != nil {
		return err
	}
	ch, err := sagalog.OpenClickHouse(sagalog.ClickHouseOpts{
		DSN:         c.DSN,
		PingTimeout: c.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer ch.Close()

	if _, err := ch.Exec(schema); err != nil {
		return fmt.Errorf("exec audit migration: %w", err)
	}
	log.Println(">> audit migration complete")
	return nil
}
