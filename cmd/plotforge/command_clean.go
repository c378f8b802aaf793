package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plotforge/plotforge/internal/cache"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every cached bundle and staging leftovers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClean()
	},
}

func registerCleanCommand(root *cobra.Command) {
	root.AddCommand(cleanCmd)
}

func runClean() error {
	store, err := cache.NewStore(cfg.CacheDir())
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	if err := os.RemoveAll(cfg.StagingDir()); err != nil {
		return fmt.Errorf("removing staging dir: %w", err)
	}

	fmt.Printf("✓ Cache cleared: %s\n", cfg.CacheDir())
	return nil
}
