// Package cmd implements the nodetocode-mcp command line interface.
package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flashpoint493/NodeToCode-sub001/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "nodetocode-mcp",
	Short: "MCP server exposing Unreal Engine Blueprints to LLM tooling",
	Long: "nodetocode-mcp serves the NodeToCode toolset over the Model Context " +
		"Protocol: Blueprint inspection tools, resources and prompts, plus an " +
		"async Blueprint-to-code translation task that streams progress over SSE.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
