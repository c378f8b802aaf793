package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plotforge/plotforge/internal/cache"
	"github.com/plotforge/plotforge/internal/graph"
	"github.com/plotforge/plotforge/internal/model"
	"github.com/plotforge/plotforge/internal/sandbox"
)

func desc(name, version string, deps ...model.Identity) *model.Descriptor {
	d := &model.Descriptor{
		Identity:     model.RecipeIdentity(name, version),
		Command:      []string{"python", "recipe/generate.py"},
		SourceDigest: "digest-" + name + "-" + version,
	}
	for _, dep := range deps {
		d.Dependencies = append(d.Dependencies, model.DependencyRef{
			Identity: dep,
			Mount:    "recipes/" + dep.Name + "/" + dep.Version + "/data",
		})
	}
	return d
}

// fakeGateway produces a one-file bundle per node and records every call.
type fakeGateway struct {
	t *testing.T

	mu       sync.Mutex
	calls    []string
	inFlight int
	maxBusy  int

	fail        map[string]model.ErrorKind
	blockOnCtx  map[string]bool
	wantInputOK bool

	// staging, when set, is where bundles are staged instead of throwaway
	// per-test dirs, so tests can observe cleanup.
	staging string
}

func newFakeGateway(t *testing.T) *fakeGateway {
	return &fakeGateway{
		t:           t,
		fail:        make(map[string]model.ErrorKind),
		blockOnCtx:  make(map[string]bool),
		wantInputOK: true,
	}
}

func (f *fakeGateway) Execute(ctx context.Context, desc *model.Descriptor, inputs map[model.Identity]*model.OutputBundle) (*model.OutputBundle, error) {
	id := desc.Identity.String()

	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.inFlight++
	if f.inFlight > f.maxBusy {
		f.maxBusy = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.wantInputOK {
		for _, dep := range desc.Dependencies {
			bundle := inputs[dep.Identity]
			if assert.NotNil(f.t, bundle, "node %s: missing input %s", id, dep.Identity) {
				assert.NotEmpty(f.t, bundle.Root, "node %s: input %s has no root", id, dep.Identity)
			}
		}
	}

	if f.blockOnCtx[id] {
		<-ctx.Done()
		return nil, &sandbox.ExecError{Kind: model.ErrKindCancelled, Err: ctx.Err()}
	}
	if kind, ok := f.fail[id]; ok {
		return nil, &sandbox.ExecError{Kind: kind, Detail: "boom: " + id}
	}

	dir := f.t.TempDir()
	if f.staging != "" {
		var err error
		dir, err = os.MkdirTemp(f.staging, "exec-")
		require.NoError(f.t, err)
	}
	err := os.WriteFile(filepath.Join(dir, "out.txt"), []byte("output of "+id), 0o644)
	require.NoError(f.t, err)
	return cache.ScanBundle(dir)
}

func (f *fakeGateway) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newStore(t *testing.T) *cache.Store {
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func buildGraph(t *testing.T, descriptors ...*model.Descriptor) *graph.Graph {
	g, err := graph.Build(descriptors)
	require.NoError(t, err)
	return g
}

func resultFor(t *testing.T, results []*model.ExecutionResult, id model.Identity) *model.ExecutionResult {
	for _, r := range results {
		if r.Identity == id {
			return r
		}
	}
	t.Fatalf("no result for %s", id)
	return nil
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestRunDiamondSucceeds(t *testing.T) {
	a := desc("a", "1.0")
	b := desc("b", "1.0", a.Identity)
	c := desc("c", "1.0", a.Identity)
	d := desc("d", "1.0", b.Identity, c.Identity)
	g := buildGraph(t, a, b, c, d)
	store := newStore(t)
	gw := newFakeGateway(t)

	results, err := New(g, store, gw, Options{Concurrency: 4}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, model.StateSucceeded, r.State, r.Identity)
		assert.False(t, r.CacheHit, r.Identity)
		require.NotNil(t, r.Bundle, r.Identity)

		// Dependents must see the committed entry, not execution staging.
		committed, lerr := store.Lookup(r.Fingerprint)
		require.NoError(t, lerr)
		require.NotNil(t, committed, r.Identity)
		assert.Equal(t, committed.Root, r.Bundle.Root, r.Identity)
	}

	order := gw.callOrder()
	require.Len(t, order, 4)
	assert.Less(t, indexOf(order, a.Identity.String()), indexOf(order, b.Identity.String()))
	assert.Less(t, indexOf(order, a.Identity.String()), indexOf(order, c.Identity.String()))
	assert.Less(t, indexOf(order, b.Identity.String()), indexOf(order, d.Identity.String()))
	assert.Less(t, indexOf(order, c.Identity.String()), indexOf(order, d.Identity.String()))
}

func TestRunSecondRunHitsCache(t *testing.T) {
	a := desc("a", "1.0")
	b := desc("b", "1.0", a.Identity)
	store := newStore(t)

	_, err := New(buildGraph(t, a, b), store, newFakeGateway(t), Options{}).Run(context.Background())
	require.NoError(t, err)

	gw := newFakeGateway(t)
	results, err := New(buildGraph(t, desc("a", "1.0"), desc("b", "1.0", a.Identity)), store, gw, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, gw.callOrder(), "nothing should execute on a warm cache")
	for _, r := range results {
		assert.Equal(t, model.StateSucceeded, r.State, r.Identity)
		assert.True(t, r.CacheHit, r.Identity)
	}
}

func TestRunChangedNodeRebuildsDependents(t *testing.T) {
	a := desc("a", "1.0")
	b := desc("b", "1.0", a.Identity)
	store := newStore(t)

	_, err := New(buildGraph(t, a, b), store, newFakeGateway(t), Options{}).Run(context.Background())
	require.NoError(t, err)

	// Touch a's source; both fingerprints move, so both rebuild.
	a2 := desc("a", "1.0")
	a2.SourceDigest = "digest-a-1.0-edited"
	b2 := desc("b", "1.0", a2.Identity)
	gw := newFakeGateway(t)
	results, err := New(buildGraph(t, a2, b2), store, gw, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, gw.callOrder(), 2)
	assert.False(t, resultFor(t, results, a2.Identity).CacheHit)
	assert.False(t, resultFor(t, results, b2.Identity).CacheHit)
}

func TestRunFailureSkipsDependentsOnly(t *testing.T) {
	a := desc("a", "1.0")
	b := desc("b", "1.0", a.Identity)
	c := desc("c", "1.0", b.Identity)
	other := desc("other", "1.0")
	g := buildGraph(t, a, b, c, other)
	store := newStore(t)
	gw := newFakeGateway(t)
	gw.fail[b.Identity.String()] = model.ErrKindRecipeFailed

	results, err := New(g, store, gw, Options{Concurrency: 2}).Run(context.Background())
	require.NoError(t, err, "node failures are reported, not returned")

	assert.Equal(t, model.StateSucceeded, resultFor(t, results, a.Identity).State)
	assert.Equal(t, model.StateSucceeded, resultFor(t, results, other.Identity).State)

	failed := resultFor(t, results, b.Identity)
	assert.Equal(t, model.StateFailed, failed.State)
	assert.Equal(t, model.ErrKindRecipeFailed, failed.ErrKind)
	assert.Contains(t, failed.Diagnostic, "boom")

	skipped := resultFor(t, results, c.Identity)
	assert.Equal(t, model.StateSkipped, skipped.State)
	assert.Equal(t, model.ErrKindDependencyFailed, skipped.ErrKind)
	assert.Contains(t, skipped.Diagnostic, b.Identity.String())

	// The skipped node never reached the gateway and nothing was committed
	// for the failed one.
	assert.Equal(t, -1, indexOf(gw.callOrder(), c.Identity.String()))
	entry, lerr := store.Lookup(failed.Fingerprint)
	require.NoError(t, lerr)
	assert.Nil(t, entry)
}

// collidingStore forces a collision on commit for one fingerprint.
type collidingStore struct {
	*cache.Store
	collideOn model.Fingerprint
}

func (c *collidingStore) Commit(fp model.Fingerprint, bundle *model.OutputBundle) error {
	if fp == c.collideOn {
		return cache.ErrFingerprintCollision
	}
	return c.Store.Commit(fp, bundle)
}

func TestRunFingerprintCollisionAbortsRun(t *testing.T) {
	a := desc("a", "1.0")
	b := desc("b", "1.0", a.Identity)
	g := buildGraph(t, a, b)
	aNode, ok := g.Node(a.Identity)
	require.True(t, ok)

	store := &collidingStore{Store: newStore(t), collideOn: aNode.Fingerprint}
	results, err := New(g, store, newFakeGateway(t), Options{}).Run(context.Background())

	require.ErrorIs(t, err, cache.ErrFingerprintCollision)
	failed := resultFor(t, results, a.Identity)
	assert.Equal(t, model.StateFailed, failed.State)
	assert.Equal(t, model.ErrKindCachePersist, failed.ErrKind)
	assert.Equal(t, model.StateSkipped, resultFor(t, results, b.Identity).State)
}

func TestRunCancellation(t *testing.T) {
	a := desc("a", "1.0")
	b := desc("b", "1.0", a.Identity)
	g := buildGraph(t, a, b)
	gw := newFakeGateway(t)
	gw.blockOnCtx[a.Identity.String()] = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	results, err := New(g, newStore(t), gw, Options{}).Run(ctx)
	require.NoError(t, err)

	for _, r := range results {
		assert.True(t, r.State.Terminal(), r.Identity)
	}

	interrupted := resultFor(t, results, a.Identity)
	assert.Equal(t, model.StateFailed, interrupted.State)
	assert.Equal(t, model.ErrKindCancelled, interrupted.ErrKind)

	pending := resultFor(t, results, b.Identity)
	assert.Equal(t, model.StateSkipped, pending.State)
	assert.True(t, pending.ErrKind == model.ErrKindCancelled || pending.ErrKind == model.ErrKindDependencyFailed)
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
}

func TestRunHonorsConcurrencyCeiling(t *testing.T) {
	descriptors := []*model.Descriptor{
		desc("a", "1.0"), desc("b", "1.0"), desc("c", "1.0"), desc("d", "1.0"),
	}
	gw := newFakeGateway(t)

	_, err := New(buildGraph(t, descriptors...), newStore(t), gw, Options{Concurrency: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, gw.maxBusy)
	assert.Len(t, gw.callOrder(), 4)
}

func TestRunRemovesStagingAfterCommit(t *testing.T) {
	a := desc("a", "1.0")
	b := desc("b", "1.0", a.Identity)
	store := newStore(t)
	gw := newFakeGateway(t)
	gw.staging = t.TempDir()

	results, err := New(buildGraph(t, a, b), store, gw, Options{}).Run(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(gw.staging)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging dirs must not outlive the commit")

	// The committed bundles stay readable from the cache.
	for _, r := range results {
		require.Equal(t, model.StateSucceeded, r.State, r.Identity)
		committed, lerr := store.Lookup(r.Fingerprint)
		require.NoError(t, lerr)
		require.NotNil(t, committed, r.Identity)
	}
}

func TestRunEmptyGraph(t *testing.T) {
	results, err := New(buildGraph(t), newStore(t), newFakeGateway(t), Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}
