package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags shared by every subcommand
	logLevel        string // Log verbosity level
	configPath      string // Engine and model YAML config
	modelName       string // HuggingFace repo resolved to a config.json
	hfConfigPath    string // HuggingFace config.json overriding the model section
	profilePath     string // Profile result path overriding the engine section
	numGPUBlocks    int    // GPU KV blocks; 0 keeps the configured value
	numSubBatches   int    // Sub-batches per iteration; 0 keeps the configured value
	alwaysUseGPU    bool   // Never place KV on CPU
	disableOffload  bool   // Place every new request's KV on CPU
	monitorPerfFlag bool   // Log estimated times of every finalized sub-batch
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "hybrid-sched",
	Short: "Batch composer for GPU/CPU hybrid LLM decoding",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to engine/model YAML config (defaults built in)")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "HuggingFace model repo whose config.json sets the model shape (cached under ~/.hybrid-sched)")
	rootCmd.PersistentFlags().StringVar(&hfConfigPath, "model-config", "", "Path to a HuggingFace config.json for the model shape")
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "Path to profile results; empty keeps the config's profile_result_path")
	rootCmd.PersistentFlags().IntVar(&numGPUBlocks, "num-gpu-blocks", 0, "GPU KV blocks (0 keeps the configured value)")
	rootCmd.PersistentFlags().IntVar(&numSubBatches, "num-sub-batches", 0, "Sub-batches per iteration (0 keeps the configured value)")
	rootCmd.PersistentFlags().BoolVar(&alwaysUseGPU, "always-use-gpu", false, "Never place KV caches on CPU")
	rootCmd.PersistentFlags().BoolVar(&disableOffload, "disable-partial-offl", false, "Place every new request's KV cache on CPU")
	rootCmd.PersistentFlags().BoolVar(&monitorPerfFlag, "monitor-performance", false, "Log estimated times of every finalized sub-batch")
}
