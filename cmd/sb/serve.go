package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		ephemeral  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the agent scheduler and notifications",
		Long:  "Starts the HTTP API, arms the agent schedules and forwards urgent recommendations to chat. Stops cleanly on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, ephemeral)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides api.port)")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "use an in-memory database that is discarded on exit")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, ephemeral bool) error {
	var gormDB *gorm.DB
	if ephemeral {
		var err error
		if gormDB, err = db.OpenMemory(); err != nil {
			return err
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			defer sqlDB.Close()
		}
	}
	a, err := openApp(cmd, configPath, gormDB, func(cfg *config.Config) {
		if port > 0 {
			cfg.API.Port = port
		}
	})
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Switchboard running at http://localhost:%d\n", a.Config.API.Port)
	return a.Serve(ctx)
}
