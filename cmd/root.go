package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/config"
)

var cfg *config.Config

var (
	flagPolicy string
	flagJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "underwrite-cli",
	Short: "BOE underwriting workspace client",
	Long: "Lists deals, reviews Back of Envelope runs against the BOE gate, compares runs, " +
		"applies gate overrides and manages workspace settings against the underwriting API.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if flagPolicy != "" {
			c.Source.Policy = flagPolicy
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagPolicy, "source", "", "run source policy: remote, local or prefer-remote (default from config)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print JSON instead of tables")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
