package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hasanmiraz/shakespeareChatBot/internal/orchestrator"
	"github.com/hasanmiraz/shakespeareChatBot/internal/rag"
)

var (
	pushBatchSize int
	pushDrop      bool
	buildMetric   string
	buildOut      string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the nearest-neighbor index",
}

var indexPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the passage vectors into the configured Milvus collection",
	Long: `Read the .npy vectors from the artifact source and insert them into
Milvus. Row i is stored under primary key i so search hits map back to
passages by position.

Examples:
  gonzago index push
  gonzago index push --drop --batch-size 1024`,
	Args: cobra.NoArgs,
	RunE: runIndexPush,
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the Milvus collection statistics",
	Args:  cobra.NoArgs,
	RunE:  runIndexStats,
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Write a faiss flat index file from the passage vectors",
	Long: `Rebuild the exact (flat) index artifact from the .npy vectors. The
file is readable by faiss.read_index and by gonzago.

Examples:
  gonzago index build
  gonzago index build --metric IP --out artifacts/shakespeare_index_ip.faiss`,
	Args: cobra.NoArgs,
	RunE: runIndexBuild,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexPushCmd, indexStatsCmd, indexBuildCmd)

	indexPushCmd.Flags().IntVar(&pushBatchSize, "batch-size", rag.DefaultPushOptions().BatchSize, "Vectors per insert request")
	indexPushCmd.Flags().BoolVar(&pushDrop, "drop", false, "Drop and recreate the collection first")

	indexBuildCmd.Flags().StringVar(&buildMetric, "metric", "L2", "Index metric: L2 or IP")
	indexBuildCmd.Flags().StringVar(&buildOut, "out", "", "Output file (default: artifacts dir / index name)")
}

func loadVectors(cmd *cobra.Command) (*rag.Matrix, error) {
	src, err := orchestrator.OpenSource(cmd.Context(), cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifacts: %w", err)
	}
	defer src.Close()

	vectors, err := rag.LoadVectors(cmd.Context(), src, cfg.Artifacts.Vectors)
	if err != nil {
		return nil, err
	}
	fmt.Println(contextStyle.Render(fmt.Sprintf("→ Loaded %d vectors of dimension %d from %s",
		vectors.Rows, vectors.Dim, src.Describe())))
	return vectors, nil
}

func openMilvus(cmd *cobra.Command, dim int) (*rag.MilvusIndex, error) {
	mc, err := orchestrator.MilvusConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	if dim > 0 {
		mc.Dimension = dim
	}
	return rag.NewMilvusIndex(cmd.Context(), mc)
}

func runIndexPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	vectors, err := loadVectors(cmd)
	if err != nil {
		return err
	}

	idx, err := openMilvus(cmd, vectors.Dim)
	if err != nil {
		return err
	}
	defer func() {
		if idx != nil {
			idx.Close()
		}
	}()

	if pushDrop {
		if err := idx.Drop(ctx); err != nil {
			return err
		}
		idx.Close()
		if idx, err = openMilvus(cmd, vectors.Dim); err != nil {
			return err
		}
		fmt.Println(contextStyle.Render("→ Recreated collection"))
	}

	err = rag.PushVectors(ctx, vectors, idx, rag.PushOptions{
		BatchSize: pushBatchSize,
		Progress: func(done, total int) {
			fmt.Printf("\r%s", contextStyle.Render(fmt.Sprintf("→ Inserted %d/%d", done, total)))
		},
	})
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Pushed %d vectors to %s", vectors.Rows, cfg.Index.Milvus.Collection)))
	return nil
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	idx, err := openMilvus(cmd, 0)
	if err != nil {
		return err
	}
	defer idx.Close()

	stats, err := idx.GetStats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render("Collection:"), stats.Collection)
	fmt.Println(headerStyle.Render("Rows:      "), stats.RowCount)
	fmt.Println(headerStyle.Render("Dimension: "), stats.Dimension)
	fmt.Println(headerStyle.Render("Metric:    "), stats.Metric)
	return nil
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	metric, err := rag.ParseMetric(buildMetric)
	if err != nil {
		return err
	}

	vectors, err := loadVectors(cmd)
	if err != nil {
		return err
	}
	idx, err := rag.NewFlatIndex(vectors, metric)
	if err != nil {
		return err
	}

	out := buildOut
	if out == "" {
		if cfg.Artifacts.Source != "dir" {
			return fmt.Errorf("--out is required for a %s artifact source", cfg.Artifacts.Source)
		}
		out = filepath.Join(cfg.Artifacts.Dir, cfg.Artifacts.Index)
	}

	file, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := rag.WriteFlatIndex(file, idx); err != nil {
		file.Close()
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Wrote %s index of %d vectors to %s", metric, idx.Size(), out)))
	return nil
}
