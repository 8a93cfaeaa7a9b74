package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flashpoint493/NodeToCode-sub001/history"
	"github.com/flashpoint493/NodeToCode-sub001/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log)

		var hist *history.Store
		if cfg.History.Enabled {
			hist, err = history.Open(cfg.History.Path, logger)
			if err != nil {
				return fmt.Errorf("failed to open task history: %w", err)
			}
			defer hist.Close()
		}

		srv, err := server.New(cfg, nil, nil, hist, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}
