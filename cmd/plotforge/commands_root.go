package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plotforge/plotforge/internal/config"
	"github.com/plotforge/plotforge/internal/loader"
)

var (
	configFile string
	recipesDir string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "plotforge",
	Short: "Recipe build orchestrator: DAG → sandboxed builds → cached bundles",
	Long:  "plotforge compiles a directory of recipes into a dependency DAG and executes it inside throwaway sandboxes, caching every output bundle by fingerprint.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		if recipesDir != "" {
			cfg.RecipesDir = recipesDir
		}
		slog.SetDefault(newLogger(cfg))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file path (default: ./plotforge.yaml if present)")
	rootCmd.PersistentFlags().StringVarP(&recipesDir, "recipes", "r", "", "Recipes directory (overrides config)")

	registerBuildCommand(rootCmd)
	registerValidateCommand(rootCmd)
	registerGraphCommand(rootCmd)
	registerCleanCommand(rootCmd)
	registerImageCommand(rootCmd)
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func printWarnings(warnings []loader.Warning) {
	for _, w := range warnings {
		fmt.Printf("! skipping %s: %s\n", w.Recipe, w.Reason)
	}
}
