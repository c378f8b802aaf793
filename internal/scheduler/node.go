package scheduler

import (
	"sync/atomic"

	"github.com/plotforge/plotforge/internal/graph"
	"github.com/plotforge/plotforge/internal/model"
)

// phase is the atomic claim state of a run node. A node is claimed exactly
// once, either by a worker (running) or by the skip cascade (terminal).
type phase int32

const (
	phasePending phase = iota
	phaseRunning
	phaseTerminal
)

// runNode wraps one graph node with the mutable per-run state the workers
// share. The result must only be read after the node reaches phaseTerminal.
type runNode struct {
	*graph.Node

	state    atomic.Int32
	waitDeps atomic.Int32

	result model.ExecutionResult

	deps       []*runNode
	dependents []*runNode
}

// claim attempts the pending → to transition and reports whether this
// caller won it.
func (n *runNode) claim(to phase) bool {
	return n.state.CompareAndSwap(int32(phasePending), int32(to))
}

// finish moves a running node to terminal with the given final state.
func (n *runNode) finish(state model.NodeState) {
	n.result.State = state
	n.state.Store(int32(phaseTerminal))
}
