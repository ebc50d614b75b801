package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hasanmiraz/shakespeareChatBot/internal/history"
	"github.com/hasanmiraz/shakespeareChatBot/internal/orchestrator"
	"github.com/hasanmiraz/shakespeareChatBot/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the question answering API over HTTP",
	Long: `Load the passage store once and serve answers over HTTP.

Endpoints:
  GET  /                   greeting
  GET  /healthz            liveness and passage count
  GET  /chatbot/{query}    answer a question
  POST /api/v1/answer      answer with options
  POST /api/v1/retrieve    retrieval only
  GET  /api/v1/history     recent exchanges (history.enabled)`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	pipeline, err := orchestrator.NewPipelineFromConfig(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Close()

	var hist server.History
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()
		hist = store
		logger.Info("recording history", zap.String("path", store.Path()))
	}

	return server.New(cfg.Server, pipeline, hist, logger.Named("http")).Run(ctx)
}
