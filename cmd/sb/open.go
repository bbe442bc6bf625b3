package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/app"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/logging"
	"gorm.io/gorm"
)

// openApp loads the config, applies overrides, and wires the application.
// gormDB, when non-nil, replaces the configured database.
func openApp(cmd *cobra.Command, configPath string, gormDB *gorm.DB, overrides ...func(*config.Config)) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	for _, o := range overrides {
		o(cfg)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, app.Opts{Config: cfg, Logger: logger, DB: gormDB})
	if err != nil {
		logger.Sync()
		return nil, err
	}
	return a, nil
}

// closeApp releases the app and flushes its logger.
func closeApp(a *app.App) {
	a.Close()
	a.Logger.Sync()
}
