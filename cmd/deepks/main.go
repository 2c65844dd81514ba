package main

import (
	"fmt"
	"os"

	"github.com/mfkiwl/abacus-develop/config"
	"github.com/mfkiwl/abacus-develop/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string
	deckPath   string
	modelPath  string
	ranks      int
	workers    int

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "deepks",
	Short: "DeePKS descriptors, gradients and energy corrections",
	Long: `deepks evaluates the DeePKS stages of one geometry step from an input deck.

The deck holds the projector layout (nat, inl_l), the projected density
matrix blocks and, optionally, their position derivatives and the orbital
overlap inputs. A correction model file (.yaml or .cbor) turns the
descriptors into an energy correction.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("deck") {
			cfg.Deck = deckPath
		}
		if flags.Changed("model") {
			cfg.Model = modelPath
		}
		if flags.Changed("ranks") {
			cfg.Ranks = ranks
		}
		if flags.Changed("workers") {
			cfg.Workers = workers
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger, err = utils.NewLogger(cfg.LogLevel)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "deepks.yaml", "Run configuration file")
	rootCmd.PersistentFlags().StringVarP(&deckPath, "deck", "d", "", "Input deck (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&modelPath, "model", "m", "", "Correction model file (overrides config)")
	rootCmd.PersistentFlags().IntVar(&ranks, "ranks", 1, "In-process ranks for the overlap accumulation")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 4, "Concurrent block decompositions")

	rootCmd.AddCommand(descriptorsCmd)
	rootCmd.AddCommand(correctCmd)
	rootCmd.AddCommand(gvxCmd)
	rootCmd.AddCommand(precalcCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
