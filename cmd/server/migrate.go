package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"club_chat/internal/config"
	"club_chat/internal/repository"
	"club_chat/pkg/logger"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := openPostgres(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := repository.Migrate(cmd.Context(), pool); err != nil {
			return err
		}
	case config.DriverSQLite:
		db, err := openSQLite(cfg.Database)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
	}

	log.Info("Schema is up to date", "driver", cfg.Database.Driver)
	return nil
}
