package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the recipe set and its dependency graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate()
	},
}

func registerValidateCommand(root *cobra.Command) {
	root.AddCommand(validateCmd)
}

func runValidate() error {
	g, err := loadGraph(context.Background())
	if err != nil {
		return err
	}

	layers := g.Layers()
	fmt.Printf("✓ Graph is valid: %d nodes across %d layers\n", g.Len(), len(layers))
	return nil
}
