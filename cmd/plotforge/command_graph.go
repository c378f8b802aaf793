package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plotforge/plotforge/internal/report"
)

var graphView string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the dependency graph",
	Long:  "Print the validated recipe graph, either layer by layer (dag) or as a per-node dependency list (dependencies).",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph()
	},
}

func registerGraphCommand(root *cobra.Command) {
	root.AddCommand(graphCmd)

	graphCmd.Flags().StringVarP(&graphView, "view", "v", "dag", "View mode (dag/dependencies)")
}

func runGraph() error {
	g, err := loadGraph(context.Background())
	if err != nil {
		return err
	}

	viewer := report.NewGraphViewer(g)
	switch graphView {
	case "dependencies":
		fmt.Println(viewer.ViewDependencies())
	default:
		fmt.Println(viewer.ViewDAG())
	}
	return nil
}
