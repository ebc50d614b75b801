package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hasanmiraz/shakespeareChatBot/internal/history"
	"github.com/hasanmiraz/shakespeareChatBot/internal/logging"
	"github.com/hasanmiraz/shakespeareChatBot/internal/narrative"
	"github.com/hasanmiraz/shakespeareChatBot/internal/orchestrator"
	"github.com/hasanmiraz/shakespeareChatBot/internal/tui"
)

var (
	chatStyle      string
	chatMaxHistory int
	chatResume     bool
)

// resumeLimit caps how many stored questions seed a resumed session when
// --max-history keeps all of them.
const resumeLimit = 50

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat about Shakespeare in the terminal",
	Long: `Open an interactive chat. Follow-up questions carry the earlier
questions of the session, so "And who answers?" after a question about
Act 1 Scene 1 stays in that scene.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatStyle, "style", "", "Answer style: shake or plain (default from config)")
	chatCmd.Flags().IntVar(&chatMaxHistory, "max-history", 5, "Earlier questions folded into a follow-up (0 keeps all)")
	chatCmd.Flags().BoolVar(&chatResume, "resume", false, "Continue from the questions stored in the history database")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	style, err := narrative.ParseStyle(cfg.Retrieval.Style)
	if err != nil {
		return err
	}
	if chatStyle != "" {
		if style, err = narrative.ParseStyle(chatStyle); err != nil {
			return err
		}
	}

	// Log lines would tear the alt screen.
	quiet, err := logging.New("error", cfg.Log.Format)
	if err != nil {
		return err
	}

	pipeline, err := orchestrator.NewPipelineFromConfig(ctx, cfg, quiet)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Close()

	opts := tui.Options{
		Style:      style,
		TopK:       cfg.Retrieval.TopK,
		MaxHistory: chatMaxHistory,
		Timeout:    cfg.Server.RequestTimeout,
	}
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()
		opts.Recorder = store
		logger.Debug("recording history", zap.String("path", store.Path()))

		if chatResume {
			limit := chatMaxHistory
			if limit <= 0 {
				limit = resumeLimit
			}
			if opts.History, err = store.Questions(ctx, limit); err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
		}
	} else if chatResume {
		return fmt.Errorf("--resume needs history.enabled in the config")
	}

	_, err = tea.NewProgram(tui.New(pipeline, opts), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
