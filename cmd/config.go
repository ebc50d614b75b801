package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hasanmiraz/shakespeareChatBot/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the gonzago config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config to --config",
	Long: `Write the built-in defaults as YAML to the path given by --config,
ready to be edited. An existing file is kept unless --force is set.

Examples:
  gonzago config init
  gonzago config init --config deploy/gonzago.yaml --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if !configForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if err := config.Save(configPath, config.Defaults()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	logger.Debug("wrote default config", zap.String("path", configPath))
	fmt.Println(successStyle.Render("Wrote " + configPath))
	return nil
}
