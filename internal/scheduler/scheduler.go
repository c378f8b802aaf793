// Package scheduler drives one build run over a validated graph: a fixed
// worker pool consumes a ready queue, consults the cache before executing,
// commits successful output before marking a node done, and cascades skips
// to everything downstream of a failure.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plotforge/plotforge/internal/cache"
	"github.com/plotforge/plotforge/internal/ctxlog"
	"github.com/plotforge/plotforge/internal/graph"
	"github.com/plotforge/plotforge/internal/model"
	"github.com/plotforge/plotforge/internal/sandbox"
)

// Options tune one build run.
type Options struct {
	// Concurrency caps how many nodes execute at once. Zero means one
	// worker per CPU.
	Concurrency int
}

// CacheStore is the slice of the cache the scheduler needs. *cache.Store
// satisfies it.
type CacheStore interface {
	Lookup(fp model.Fingerprint) (*model.OutputBundle, error)
	Commit(fp model.Fingerprint, bundle *model.OutputBundle) error
}

// Scheduler executes a graph against a cache store and an execution
// gateway. It is single-use: build one per run.
type Scheduler struct {
	graph   *graph.Graph
	store   CacheStore
	gateway sandbox.Gateway
	opts    Options

	fatalOnce sync.Once
	fatalErr  error
	cancelRun context.CancelFunc
}

// New builds a scheduler for one run.
func New(g *graph.Graph, store CacheStore, gateway sandbox.Gateway, opts Options) *Scheduler {
	return &Scheduler{graph: g, store: store, gateway: gateway, opts: opts}
}

// Run executes every node and returns one terminal result per node, sorted
// by identity. It never returns early on ordinary node failures; the error
// is non-nil only for run-fatal conditions such as a fingerprint collision,
// and even then every node carries a terminal state.
func (s *Scheduler) Run(ctx context.Context) ([]*model.ExecutionResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelRun = cancel

	nodes := s.wireNodes()

	ready := make(chan *runNode, len(nodes))
	var pending sync.WaitGroup
	pending.Add(len(nodes))
	for _, n := range nodes {
		if len(n.deps) == 0 {
			ready <- n
		}
	}
	go func() {
		pending.Wait()
		close(ready)
	}()

	workers := s.opts.Concurrency
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var pool errgroup.Group
	for i := 0; i < workers; i++ {
		pool.Go(func() error {
			for n := range ready {
				s.dispatch(ctx, n, ready, &pending)
			}
			return nil
		})
	}
	// Workers only stop when the queue drains; they never return errors.
	_ = pool.Wait()

	results := make([]*model.ExecutionResult, 0, len(nodes))
	for _, n := range nodes {
		if !n.result.State.Terminal() {
			// Unreachable if the bookkeeping is right; never hand out a
			// non-terminal result regardless.
			n.result.State = model.StateSkipped
			n.result.ErrKind = model.ErrKindCancelled
		}
		results = append(results, &n.result)
	}
	return results, s.fatalErr
}

// wireNodes builds the per-run node wrappers over the graph, in the graph's
// deterministic node order.
func (s *Scheduler) wireNodes() []*runNode {
	byID := make(map[string]*runNode, s.graph.Len())
	nodes := make([]*runNode, 0, s.graph.Len())
	for _, gn := range s.graph.Nodes() {
		rn := &runNode{Node: gn}
		rn.result.Identity = gn.Descriptor.Identity
		rn.result.Fingerprint = gn.Fingerprint
		rn.result.State = model.StatePending
		rn.waitDeps.Store(int32(len(gn.Deps)))
		byID[gn.ID()] = rn
		nodes = append(nodes, rn)
	}
	for _, rn := range nodes {
		for _, dep := range rn.Node.Deps {
			rn.deps = append(rn.deps, byID[dep.ID()])
		}
		for _, dependent := range rn.Node.Dependents {
			rn.dependents = append(rn.dependents, byID[dependent.ID()])
		}
	}
	return nodes
}

// dispatch handles one dequeued node: cache probe, execution, commit, and
// the resulting ready-queue or skip-cascade bookkeeping.
func (s *Scheduler) dispatch(ctx context.Context, n *runNode, ready chan<- *runNode, pending *sync.WaitGroup) {
	if ctx.Err() != nil {
		if n.claim(phaseTerminal) {
			n.result.State = model.StateSkipped
			n.result.ErrKind = model.ErrKindCancelled
			n.result.Diagnostic = "build cancelled before execution"
			pending.Done()
			s.skipDependents(n, model.ErrKindCancelled, "build cancelled", pending)
		}
		return
	}
	if !n.claim(phaseRunning) {
		return
	}

	log := ctxlog.FromContext(ctx).With("node", n.ID())
	n.result.Started = time.Now()

	bundle, err := s.store.Lookup(n.Fingerprint)
	if err != nil {
		// A damaged cache entry costs a rebuild, not the run.
		log.Warn("cache lookup failed, rebuilding", "error", err)
		bundle = nil
	}
	if bundle != nil {
		n.result.CacheHit = true
		n.result.Bundle = bundle
		n.result.Finished = time.Now()
		log.Info("cache hit", "fingerprint", n.Fingerprint)
		s.succeed(n, ready, pending)
		return
	}

	inputs := make(map[model.Identity]*model.OutputBundle, len(n.deps))
	for _, dep := range n.deps {
		inputs[dep.Descriptor.Identity] = dep.result.Bundle
	}

	log.Info("executing", "layer", n.Layer, "fingerprint", n.Fingerprint)
	out, err := s.gateway.Execute(ctx, n.Descriptor, inputs)
	if err != nil {
		kind, diag := classifyExecError(err)
		s.fail(n, kind, diag, pending)
		log.Warn("execution failed", "kind", kind, "error", err)
		return
	}
	// The staged output is disposable once the commit attempt is over;
	// dependents only ever mount the committed cache entry.
	defer func() {
		if err := os.RemoveAll(out.Root); err != nil {
			log.Warn("failed to remove staging dir", "dir", out.Root, "error", err)
		}
	}()

	if err := s.store.Commit(n.Fingerprint, out); err != nil {
		if errors.Is(err, cache.ErrFingerprintCollision) {
			s.abort(fmt.Errorf("node %s: %w", n.ID(), err))
			s.fail(n, model.ErrKindCachePersist, err.Error(), pending)
			log.Error("fingerprint collision, aborting run", "error", err)
			return
		}
		s.fail(n, model.ErrKindCachePersist, err.Error(), pending)
		log.Warn("cache commit failed", "error", err)
		return
	}

	// Hand dependents the committed entry, never the staging output.
	committed, err := s.store.Lookup(n.Fingerprint)
	if err != nil || committed == nil {
		s.fail(n, model.ErrKindCachePersist, fmt.Sprintf("committed entry unreadable: %v", err), pending)
		return
	}
	n.result.Bundle = committed
	n.result.Finished = time.Now()
	log.Info("succeeded", "duration", n.result.Duration())
	s.succeed(n, ready, pending)
}

// succeed terminalizes a node as succeeded and releases any dependent whose
// last dependency this was.
func (s *Scheduler) succeed(n *runNode, ready chan<- *runNode, pending *sync.WaitGroup) {
	if n.result.Finished.IsZero() {
		n.result.Finished = time.Now()
	}
	n.finish(model.StateSucceeded)
	// Release dependents before Done: the ready channel closes once the
	// pending count drains, so the sends must come first.
	for _, dependent := range n.dependents {
		if dependent.waitDeps.Add(-1) == 0 {
			ready <- dependent
		}
	}
	pending.Done()
}

// fail terminalizes a node as failed and skips everything downstream.
func (s *Scheduler) fail(n *runNode, kind model.ErrorKind, diagnostic string, pending *sync.WaitGroup) {
	n.result.ErrKind = kind
	n.result.Diagnostic = diagnostic
	n.result.Finished = time.Now()
	n.finish(model.StateFailed)
	pending.Done()
	s.skipDependents(n, model.ErrKindDependencyFailed, fmt.Sprintf("dependency %s did not succeed", n.ID()), pending)
}

// skipDependents walks the dependent closure of n and terminalizes every
// still-pending node as skipped. Nodes a worker already claimed are left to
// finish on their own.
func (s *Scheduler) skipDependents(n *runNode, kind model.ErrorKind, reason string, pending *sync.WaitGroup) {
	for _, dependent := range n.dependents {
		if !dependent.claim(phaseTerminal) {
			continue
		}
		dependent.result.State = model.StateSkipped
		dependent.result.ErrKind = kind
		dependent.result.Diagnostic = reason
		pending.Done()
		s.skipDependents(dependent, kind, reason, pending)
	}
}

// abort records the first run-fatal error and cancels everything in flight.
func (s *Scheduler) abort(err error) {
	s.fatalOnce.Do(func() {
		s.fatalErr = err
		s.cancelRun()
	})
}

// classifyExecError maps a gateway failure onto the error taxonomy.
func classifyExecError(err error) (model.ErrorKind, string) {
	var execErr *sandbox.ExecError
	if errors.As(err, &execErr) {
		diag := execErr.Detail
		if diag == "" {
			diag = execErr.Error()
		}
		return execErr.Kind, diag
	}
	return model.ErrKindSandboxFailure, err.Error()
}
