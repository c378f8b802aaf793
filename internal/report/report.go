// Package report materializes the outcome of one build run into a
// serializable document plus human-readable views of it.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/plotforge/plotforge/internal/graph"
	"github.com/plotforge/plotforge/internal/model"
)

// Report is the full record of one build run: one entry per graph node, all
// terminal, plus run-level counters.
type Report struct {
	RunID      string    `json:"runId" yaml:"runId"`
	StartedAt  time.Time `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time `json:"finishedAt" yaml:"finishedAt"`

	// Success is true only when every node succeeded, from cache or by
	// execution.
	Success bool `json:"success" yaml:"success"`

	Succeeded int `json:"succeeded" yaml:"succeeded"`
	CacheHits int `json:"cacheHits" yaml:"cacheHits"`
	Failed    int `json:"failed" yaml:"failed"`
	Skipped   int `json:"skipped" yaml:"skipped"`

	Nodes []NodeReport `json:"nodes" yaml:"nodes"`

	// Layers is the execution layering the run was scheduled from, kept so
	// viewers need not recompute it.
	Layers [][]string `json:"layers" yaml:"layers"`
}

// NodeReport is one node's terminal outcome.
type NodeReport struct {
	Identity    string            `json:"identity" yaml:"identity"`
	Kind        model.Kind        `json:"kind" yaml:"kind"`
	Fingerprint model.Fingerprint `json:"fingerprint" yaml:"fingerprint"`
	Layer       int               `json:"layer" yaml:"layer"`

	State    model.NodeState `json:"state" yaml:"state"`
	CacheHit bool            `json:"cacheHit" yaml:"cacheHit"`
	Duration time.Duration   `json:"duration" yaml:"duration"`

	ErrorKind  model.ErrorKind `json:"errorKind,omitempty" yaml:"errorKind,omitempty"`
	Diagnostic string          `json:"diagnostic,omitempty" yaml:"diagnostic,omitempty"`

	DependsOn []string `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
}

// Build assembles the report for one finished run.
func Build(g *graph.Graph, results []*model.ExecutionResult, started, finished time.Time) *Report {
	r := &Report{
		RunID:      uuid.NewString(),
		StartedAt:  started,
		FinishedAt: finished,
	}

	for _, layer := range g.Layers() {
		ids := make([]string, 0, len(layer))
		for _, n := range layer {
			ids = append(ids, n.ID())
		}
		r.Layers = append(r.Layers, ids)
	}

	for _, res := range results {
		nr := NodeReport{
			Identity:    res.Identity.String(),
			Kind:        res.Identity.Kind,
			Fingerprint: res.Fingerprint,
			State:       res.State,
			CacheHit:    res.CacheHit,
			Duration:    res.Duration(),
			ErrorKind:   res.ErrKind,
			Diagnostic:  res.Diagnostic,
		}
		if node, ok := g.Node(res.Identity); ok {
			nr.Layer = node.Layer
			for _, dep := range node.Deps {
				nr.DependsOn = append(nr.DependsOn, dep.ID())
			}
		}
		r.Nodes = append(r.Nodes, nr)

		switch res.State {
		case model.StateSucceeded:
			r.Succeeded++
			if res.CacheHit {
				r.CacheHits++
			}
		case model.StateFailed:
			r.Failed++
		case model.StateSkipped:
			r.Skipped++
		}
	}

	r.Success = r.Failed == 0 && r.Skipped == 0 && r.Succeeded == len(results)
	return r
}
