package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/plotforge/plotforge/internal/graph"
)

// GraphViewer provides human-readable visualization of a build graph,
// independent of any run.
type GraphViewer struct {
	graph *graph.Graph
}

// NewGraphViewer creates a viewer over a validated graph.
func NewGraphViewer(g *graph.Graph) *GraphViewer {
	return &GraphViewer{graph: g}
}

// ViewDAG returns a layer-by-layer tree view of the graph.
func (gv *GraphViewer) ViewDAG() string {
	layers := gv.graph.Layers()
	if len(layers) == 0 {
		return "No recipes in graph"
	}

	var sb strings.Builder
	for i, layer := range layers {
		isLastLayer := i == len(layers)-1

		layerPrefix := "├─ "
		connector := "│  "
		if isLastLayer {
			layerPrefix = "└─ "
			connector = "   "
		}
		sb.WriteString(fmt.Sprintf("%slayer %d (%d nodes)\n", layerPrefix, i, len(layer)))

		for j, node := range layer {
			isLastNode := j == len(layer)-1

			nodePrefix := connector + "├─ "
			nodeConnector := connector + "│"
			if isLastNode {
				nodePrefix = connector + "└─ "
				nodeConnector = connector + " "
			}
			sb.WriteString(fmt.Sprintf("%s%s\n", nodePrefix, node.ID()))

			deps := make([]string, 0, len(node.Deps))
			for _, dep := range node.Deps {
				deps = append(deps, dep.ID())
			}
			sort.Strings(deps)
			for k, dep := range deps {
				depPrefix := nodeConnector + "  ├─ "
				if k == len(deps)-1 {
					depPrefix = nodeConnector + "  └─ "
				}
				sb.WriteString(fmt.Sprintf("%s(depends on) %s\n", depPrefix, dep))
			}
		}
	}

	sb.WriteString("═══════════════════════════════════════════════════════════\n")
	sb.WriteString(fmt.Sprintf("Summary: %d nodes, %d layers\n", gv.graph.Len(), len(layers)))
	return sb.String()
}

// ViewDependencies lists every node with its direct dependencies.
func (gv *GraphViewer) ViewDependencies() string {
	nodes := gv.graph.Nodes()
	if len(nodes) == 0 {
		return "No recipes in graph"
	}

	var sb strings.Builder
	sb.WriteString("Recipe Dependencies\n")
	sb.WriteString("═══════════════════════════════════════════════════════════\n\n")

	for i, node := range nodes {
		prefix := "├─ "
		if i == len(nodes)-1 {
			prefix = "└─ "
		}
		sb.WriteString(fmt.Sprintf("%s%s (layer %d)\n", prefix, node.ID(), node.Layer))

		if len(node.Deps) == 0 {
			sb.WriteString("   (no dependencies)\n")
			continue
		}
		deps := make([]string, 0, len(node.Deps))
		for _, dep := range node.Deps {
			deps = append(deps, dep.ID())
		}
		sort.Strings(deps)
		for j, dep := range deps {
			depPrefix := "  ├─ "
			if j == len(deps)-1 {
				depPrefix = "  └─ "
			}
			sb.WriteString(fmt.Sprintf("%s(depends on) %s\n", depPrefix, dep))
		}
	}
	return sb.String()
}
