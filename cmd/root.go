package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/condition-eval/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "condition-eval",
	Short: "Threshold classification and tuning for physical-condition scores",
	Long: `Maps per-side condition scores to categories through configurable score
ranges, aggregates them into a final verdict per unit, measures agreement
with reviewed answers, and searches the range boundaries for better
agreement.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyGlobalOverrides(cmd, c)
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
	f := rootCmd.PersistentFlags()
	f.String("thresholds", "", "threshold document, JSON or YAML (overrides config)")
	f.String("records", "", "record table, CSV or XLSX (overrides config)")
	f.String("question", "", "question to evaluate (overrides config)")
	f.String("model", "", "score source: old (deployed) or new (overrides config)")
}

// applyGlobalOverrides copies explicitly set persistent flags over the
// loaded configuration.
func applyGlobalOverrides(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("thresholds") {
		c.Thresholds.Path, _ = f.GetString("thresholds")
	}
	if f.Changed("records") {
		c.Records.Path, _ = f.GetString("records")
	}
	if f.Changed("question") {
		c.Thresholds.Question, _ = f.GetString("question")
	}
	if f.Changed("model") {
		c.Thresholds.Model, _ = f.GetString("model")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
