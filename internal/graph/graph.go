// Package graph assembles recipe descriptors into a validated dependency
// DAG, computes execution layers and per-node fingerprints.
package graph

import (
	"sort"

	"github.com/plotforge/plotforge/internal/model"
)

// Node is one vertex of the built graph. Deps and Dependents are resolved
// pointers; the Descriptor is a reference to the loader-owned record.
type Node struct {
	Descriptor *model.Descriptor
	Deps       []*Node
	Dependents []*Node

	// Layer is the node's execution layer: 0 for leaves, otherwise one
	// past the highest layer among its dependencies.
	Layer int
	// Fingerprint is the node's cache key, computed bottom-up over the
	// descriptor content and all dependency fingerprints.
	Fingerprint model.Fingerprint
}

// ID is the node's identity string, used as the map key everywhere.
func (n *Node) ID() string { return n.Descriptor.Identity.String() }

// Graph is the validated DAG over one build run's descriptor set. It is
// built once per run and read-only afterwards.
type Graph struct {
	nodes map[string]*Node
}

// Build validates the descriptor set and assembles the graph. It rejects
// duplicate identities, dependencies on absent nodes, and cycles; on success
// every node carries its layer and fingerprint.
func Build(descriptors []*model.Descriptor) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*Node, len(descriptors))}

	for _, desc := range descriptors {
		id := desc.Identity.String()
		if _, exists := g.nodes[id]; exists {
			return nil, &Error{Kind: KindDuplicateIdentity, Identity: desc.Identity}
		}
		g.nodes[id] = &Node{Descriptor: desc}
	}

	// Resolve declared dependencies into edges.
	for _, node := range g.nodes {
		for _, depID := range node.Descriptor.DependencyIdentities() {
			dep, exists := g.nodes[depID.String()]
			if !exists {
				return nil, &Error{
					Kind:     KindUnresolvedDependency,
					Identity: node.Descriptor.Identity,
					Missing:  depID,
				}
			}
			node.Deps = append(node.Deps, dep)
			dep.Dependents = append(dep.Dependents, node)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &Error{Kind: KindCycleDetected, Cycle: cycle}
	}

	g.computeLayers()
	g.computeFingerprints()
	return g, nil
}

// Node looks up a node by identity.
func (g *Graph) Node(id model.Identity) (*Node, bool) {
	n, ok := g.nodes[id.String()]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns all nodes sorted by identity for deterministic iteration.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	return nodes
}

// Layers partitions the nodes into ordered execution layers: every node in
// layer k has all its dependencies in layers < k, so the nodes within one
// layer are mutually independent.
func (g *Graph) Layers() [][]*Node {
	maxLayer := -1
	for _, n := range g.nodes {
		if n.Layer > maxLayer {
			maxLayer = n.Layer
		}
	}

	layers := make([][]*Node, maxLayer+1)
	for _, n := range g.Nodes() {
		layers[n.Layer] = append(layers[n.Layer], n)
	}
	return layers
}

// findCycle runs a depth-first search tracking the in-progress stack and
// returns the full cycle path (first element repeated at the end) when a
// back-edge is found, nil otherwise.
func (g *Graph) findCycle() []model.Identity {
	visited := make(map[string]bool, len(g.nodes))
	inStack := make(map[string]bool, len(g.nodes))
	var stack []*Node

	var visit func(n *Node) []model.Identity
	visit = func(n *Node) []model.Identity {
		visited[n.ID()] = true
		inStack[n.ID()] = true
		stack = append(stack, n)

		for _, dep := range n.Deps {
			if inStack[dep.ID()] {
				// Back-edge: slice the stack from the first occurrence
				// of dep to get the whole cycle.
				var cycle []model.Identity
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append([]model.Identity{stack[i].Descriptor.Identity}, cycle...)
					if stack[i] == dep {
						break
					}
				}
				return append(cycle, dep.Descriptor.Identity)
			}
			if !visited[dep.ID()] {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		inStack[n.ID()] = false
		return nil
	}

	// Iterate in sorted order so the reported cycle is deterministic.
	for _, n := range g.Nodes() {
		if !visited[n.ID()] {
			if cycle := visit(n); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// computeLayers assigns the longest-path-from-leaves layer to every node
// using Kahn's algorithm over dependency counts. Assumes an acyclic graph.
func (g *Graph) computeLayers() {
	remaining := make(map[string]int, len(g.nodes))
	queue := make([]*Node, 0)

	for id, n := range g.nodes {
		remaining[id] = len(n.Deps)
		if len(n.Deps) == 0 {
			n.Layer = 0
			queue = append(queue, n)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependent := range current.Dependents {
			if current.Layer+1 > dependent.Layer {
				dependent.Layer = current.Layer + 1
			}
			remaining[dependent.ID()]--
			if remaining[dependent.ID()] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
}
