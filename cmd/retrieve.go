package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hasanmiraz/shakespeareChatBot/internal/orchestrator"
	"github.com/hasanmiraz/shakespeareChatBot/internal/rag"
)

var (
	retrieveTopK int
	exportFile   string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [question]",
	Short: "Show the passages a question retrieves",
	Long: `Run retrieval only and display the ranked passages.

Each row shows:
- Rank and position in the corpus
- Document ID
- Act.scene tags
- Score (cosine for act/scene questions, index distance otherwise)

Examples:
  gonzago retrieve "What happens in Act 3 Scene 1?"
  gonzago retrieve "Who is Ophelia?" --topk 10
  gonzago retrieve "Who is Ophelia?" --export passages.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetrieve,
}

func init() {
	rootCmd.AddCommand(retrieveCmd)
	retrieveCmd.Flags().IntVar(&retrieveTopK, "topk", 0, "Number of passages to retrieve (default from config)")
	retrieveCmd.Flags().StringVar(&exportFile, "export", "", "Export the retrieval to JSON file: --export <filename>")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	ctx := cmd.Context()

	pipeline, err := orchestrator.NewPipelineFromConfig(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Close()

	retrieval, err := pipeline.Retrieve(ctx, question, retrieveTopK)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if exportFile != "" {
		return handleExport(retrieval, exportFile)
	}

	if retrieval.NoCandidates() {
		fmt.Println(contextStyle.Render(fmt.Sprintf("%s (%s)", retrieval.Error, retrieval.Filter)))
		return nil
	}
	return outputTable(retrieval)
}

func handleExport(retrieval *rag.Retrieval, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(retrieval); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Exported %d passages to %s", len(retrieval.Results), filename)))
	return nil
}

func outputTable(retrieval *rag.Retrieval) error {
	// Column widths
	const (
		rankWidth  = 6
		posWidth   = 8
		idWidth    = 12
		sceneWidth = 9
		scoreWidth = 10
		textWidth  = 60
	)

	cellHeader := headerStyle.Padding(0, 1)
	headers := []string{
		cellHeader.Width(rankWidth).Render("RANK"),
		cellHeader.Width(posWidth).Render("POS"),
		cellHeader.Width(idWidth).Render("ID"),
		cellHeader.Width(sceneWidth).Render("ACT.SC"),
		cellHeader.Width(scoreWidth).Render("SCORE"),
		cellHeader.Width(textWidth).Render("TEXT"),
	}
	fmt.Println(strings.Join(headers, borderStyle.Render("│")))

	separatorParts := []string{
		strings.Repeat("─", rankWidth),
		strings.Repeat("─", posWidth),
		strings.Repeat("─", idWidth),
		strings.Repeat("─", sceneWidth),
		strings.Repeat("─", scoreWidth),
		strings.Repeat("─", textWidth),
	}
	fmt.Println(borderStyle.Render(strings.Join(separatorParts, "┼")))

	numStyle := lipgloss.NewStyle().Foreground(numberColor).Padding(0, 1).Align(lipgloss.Right)
	idStyle := lipgloss.NewStyle().Foreground(idColor).Padding(0, 1)
	textStyle := lipgloss.NewStyle().Foreground(answerColor).Padding(0, 1).Width(textWidth).MaxHeight(1)

	for i, res := range retrieval.Results {
		cells := []string{
			numStyle.Width(rankWidth).Render(fmt.Sprintf("%d", i+1)),
			numStyle.Width(posWidth).Render(fmt.Sprintf("%d", res.Position)),
			idStyle.Width(idWidth).Render(res.ID),
			idStyle.Width(sceneWidth).Render(actScene(res.Metadata)),
			numStyle.Width(scoreWidth).Render(fmt.Sprintf("%.4f", res.Score)),
			textStyle.Render(oneLine(res.Text, textWidth-2)),
		}
		fmt.Println(strings.Join(cells, borderStyle.Render("│")))
	}

	fmt.Println()
	summary := fmt.Sprintf("Total: %d passages via %s (%s), filter %s",
		len(retrieval.Results), retrieval.Path, retrieval.ScoreKind, retrieval.Filter)
	fmt.Println(lipgloss.NewStyle().Foreground(questionColor).Italic(true).Render(summary))
	return nil
}

// oneLine collapses whitespace and cuts s to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
