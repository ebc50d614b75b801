package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hasanmiraz/shakespeareChatBot/internal/narrative"
	"github.com/hasanmiraz/shakespeareChatBot/internal/orchestrator"
	"github.com/hasanmiraz/shakespeareChatBot/internal/rag"
)

var (
	askTopK         int
	askStyle        string
	askMaxTokens    int
	askTemperature  float32
	askShowPassages bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question about Shakespeare",
	Long: `Answer a natural language question using retrieval-augmented generation.

This command:
1. Extracts an act/scene filter from the question, if any
2. Retrieves the most relevant passages
3. Assembles an expert prompt from them
4. Generates the answer with the configured LLM

Examples:
  gonzago ask "What happens in Act 1 Scene 1?"
  gonzago ask "Who is Yorick?" --style shake --topk 8
  gonzago ask "Why does Hamlet delay?" --show-passages`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().IntVar(&askTopK, "topk", 0, "Number of passages to retrieve (default from config)")
	askCmd.Flags().StringVar(&askStyle, "style", "", "Answer style: shake or plain (default from config)")
	askCmd.Flags().IntVar(&askMaxTokens, "max-tokens", 0, "Maximum new tokens to generate (default from config)")
	askCmd.Flags().Float32Var(&askTemperature, "temperature", 0, "Sampling temperature (default from config)")
	askCmd.Flags().BoolVar(&askShowPassages, "show-passages", false, "Print the retrieved passages")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	ctx := cmd.Context()

	opts := orchestrator.AnswerOptions{TopK: askTopK}
	if askStyle != "" {
		style, err := narrative.ParseStyle(askStyle)
		if err != nil {
			return err
		}
		opts.Style = style
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Question:"))
	fmt.Println(questionStyle.Render(question))
	fmt.Println()

	pipeline, err := orchestrator.NewPipelineFromConfig(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Close()

	if cmd.Flags().Changed("max-tokens") || cmd.Flags().Changed("temperature") {
		params := pipeline.Config().LLMConfig.Params()
		if cmd.Flags().Changed("max-tokens") {
			params.MaxNewTokens = askMaxTokens
		}
		if cmd.Flags().Changed("temperature") {
			params.Temperature = askTemperature
		}
		opts.Params = &params
	}

	resp, err := pipeline.AnswerWithOptions(ctx, question, opts)
	if errors.Is(err, orchestrator.ErrNoCandidates) {
		fmt.Println(contextStyle.Render(err.Error()))
		return nil
	}
	if err != nil {
		return err
	}

	if askShowPassages {
		printPassages(resp.Retrieval)
	}

	fmt.Println(headerStyle.Render("Answer:"))
	fmt.Println()
	fmt.Println(answerStyle.Render(resp.Answer.Text))
	fmt.Println()
	fmt.Println(contextStyle.Render(fmt.Sprintf("%s · %d passages · %s",
		resp.Answer.Model, len(resp.Retrieval.Results), resp.Elapsed.Round(time.Millisecond))))
	return nil
}

func printPassages(r *rag.Retrieval) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("Passages (%s, %s):", r.Path, r.ScoreKind)))
	passageStyle := lipgloss.NewStyle().
		Foreground(answerColor).
		PaddingLeft(2).
		Width(100)
	for i, res := range r.Results {
		fmt.Println(lipgloss.NewStyle().Foreground(idColor).Render(
			fmt.Sprintf("[%d] %s  %s  score=%.4f", i+1, res.ID, actScene(res.Metadata), res.Score)))
		fmt.Println(passageStyle.Render(res.Text))
	}
	fmt.Println()
}

// actScene renders the act/scene tags of a passage.
func actScene(m rag.Metadata) string {
	act, ok := m.Act()
	if !ok {
		act = "-"
	}
	scene, ok := m.Scene()
	if !ok {
		scene = "-"
	}
	return act + "." + scene
}
