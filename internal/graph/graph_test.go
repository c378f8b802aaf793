package graph

import (
	"testing"

	"github.com/plotforge/plotforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestBuildDiamond(t *testing.T) {
	a := desc("a", "1.0")
	b := desc("b", "1.0", a.Identity)
	c := desc("c", "1.0", a.Identity)
	d := desc("d", "1.0", b.Identity, c.Identity)

	g, err := Build([]*model.Descriptor{d, c, b, a})
	require.NoError(t, err)
	require.Equal(t, 4, g.Len())

	layers := g.Layers()
	require.Len(t, layers, 3)
	assert.Len(t, layers[0], 1)
	assert.Len(t, layers[1], 2)
	assert.Len(t, layers[2], 1)
	assert.Equal(t, "recipe:a/1.0", layers[0][0].ID())
	assert.Equal(t, "recipe:d/1.0", layers[2][0].ID())

	// Every node appears in exactly one layer.
	seen := make(map[string]int)
	for _, layer := range layers {
		for _, n := range layer {
			seen[n.ID()]++
		}
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "node %s", id)
	}
}

func TestBuildRejectsDuplicateIdentity(t *testing.T) {
	a1 := desc("a", "1.0")
	a2 := desc("a", "1.0")

	_, err := Build([]*model.Descriptor{a1, a2})
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindDuplicateIdentity, gerr.Kind)
	assert.Equal(t, a1.Identity, gerr.Identity)
}

func TestBuildRejectsUnresolvedDependency(t *testing.T) {
	missing := model.RecipeIdentity("ghost", "2.0")
	b := desc("b", "1.0", missing)

	_, err := Build([]*model.Descriptor{b})
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindUnresolvedDependency, gerr.Kind)
	assert.Equal(t, missing, gerr.Missing)
}

func TestBuildReportsFullCyclePath(t *testing.T) {
	a := desc("a", "1.0")
	b := desc("b", "1.0", a.Identity)
	// Close the loop: a depends on b.
	a.Dependencies = append(a.Dependencies, model.DependencyRef{Identity: b.Identity})

	_, err := Build([]*model.Descriptor{a, b})
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, KindCycleDetected, gerr.Kind)

	// The path must be a real cycle in the input: first == last and every
	// consecutive pair an edge.
	require.GreaterOrEqual(t, len(gerr.Cycle), 3)
	assert.Equal(t, gerr.Cycle[0], gerr.Cycle[len(gerr.Cycle)-1])
	members := map[string]bool{}
	for _, id := range gerr.Cycle {
		members[id.String()] = true
	}
	assert.True(t, members["recipe:a/1.0"])
	assert.True(t, members["recipe:b/1.0"])
}

func TestBuildSelfCycle(t *testing.T) {
	a := desc("a", "1.0")
	a.Dependencies = append(a.Dependencies, model.DependencyRef{Identity: a.Identity})

	_, err := Build([]*model.Descriptor{a})
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindCycleDetected, gerr.Kind)
}

func TestFingerprintIgnoresDependencyOrder(t *testing.T) {
	a := desc("a", "1.0")
	b := desc("b", "1.0")

	c1 := desc("c", "1.0", a.Identity, b.Identity)
	c2 := desc("c", "1.0", b.Identity, a.Identity)

	g1, err := Build([]*model.Descriptor{a, b, c1})
	require.NoError(t, err)
	g2, err := Build([]*model.Descriptor{a, b, c2})
	require.NoError(t, err)

	n1, _ := g1.Node(c1.Identity)
	n2, _ := g2.Node(c2.Identity)
	assert.Equal(t, n1.Fingerprint, n2.Fingerprint)
}

func TestFingerprintChangesWithInputs(t *testing.T) {
	base := func() []*model.Descriptor {
		a := desc("a", "1.0")
		b := desc("b", "1.0", a.Identity)
		return []*model.Descriptor{a, b}
	}

	g, err := Build(base())
	require.NoError(t, err)
	original, _ := g.Node(model.RecipeIdentity("b", "1.0"))

	// Changing b's command changes b.
	ds := base()
	ds[1].Command = []string{"python", "other.py"}
	g2, err := Build(ds)
	require.NoError(t, err)
	changed, _ := g2.Node(ds[1].Identity)
	assert.NotEqual(t, original.Fingerprint, changed.Fingerprint)

	// Changing b's limits changes b.
	ds = base()
	ds[1].Limits.Memory = "2g"
	g3, err := Build(ds)
	require.NoError(t, err)
	changed, _ = g3.Node(ds[1].Identity)
	assert.NotEqual(t, original.Fingerprint, changed.Fingerprint)

	// Changing a's source digest propagates into b's fingerprint.
	ds = base()
	ds[0].SourceDigest = "something-else"
	g4, err := Build(ds)
	require.NoError(t, err)
	changed, _ = g4.Node(ds[1].Identity)
	assert.NotEqual(t, original.Fingerprint, changed.Fingerprint)

	// An untouched set reproduces the same fingerprint.
	g5, err := Build(base())
	require.NoError(t, err)
	same, _ := g5.Node(model.RecipeIdentity("b", "1.0"))
	assert.Equal(t, original.Fingerprint, same.Fingerprint)
}

func TestBuildEmptySet(t *testing.T) {
	g, err := Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, g.Len())
	assert.Empty(t, g.Layers())
}
