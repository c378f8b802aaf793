package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/plotforge/plotforge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	called bool
}

func (f *fakeGateway) Execute(ctx context.Context, desc *model.Descriptor, inputs map[model.Identity]*model.OutputBundle) (*model.OutputBundle, error) {
	f.called = true
	return &model.OutputBundle{}, nil
}

func TestRouterDispatchesByKind(t *testing.T) {
	fetchGW := &fakeGateway{}
	router := NewRouter(map[model.Kind]Gateway{model.KindFetch: fetchGW})

	desc := &model.Descriptor{Identity: model.FetchIdentity("https://example.com/data.csv")}
	_, err := router.Execute(context.Background(), desc, nil)
	require.NoError(t, err)
	assert.True(t, fetchGW.called)
}

func TestRouterUnknownKind(t *testing.T) {
	router := NewRouter(map[model.Kind]Gateway{})

	desc := &model.Descriptor{Identity: model.RecipeIdentity("a", "1.0")}
	_, err := router.Execute(context.Background(), desc, nil)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, model.ErrKindSandboxFailure, execErr.Kind)
}

func TestResolveLimitsDefaults(t *testing.T) {
	d := &Docker{opts: DockerOptions{
		DefaultMemory:  "1g",
		DefaultCPUs:    2,
		DefaultTimeout: 10 * time.Minute,
	}}

	limits, err := d.resolveLimits(model.ResourceLimits{})
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024*1024), limits.MemoryBytes)
	assert.Equal(t, int64(2e9), limits.NanoCPUs)
	assert.Equal(t, 10*time.Minute, limits.Timeout)
	assert.Equal(t, "none", string(limits.networkMode))
}

func TestResolveLimitsDeclared(t *testing.T) {
	d := &Docker{opts: DockerOptions{DefaultMemory: "1g", DefaultTimeout: time.Minute}}

	limits, err := d.resolveLimits(model.ResourceLimits{
		Memory:       "512m",
		CPUs:         0.5,
		Timeout:      30 * time.Second,
		Network:      model.NetworkAllowList,
		AllowedHosts: []string{"data.example.org"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(512*1024*1024), limits.MemoryBytes)
	assert.Equal(t, int64(5e8), limits.NanoCPUs)
	assert.Equal(t, 30*time.Second, limits.Timeout)
	assert.Equal(t, "bridge", string(limits.networkMode))
}

func TestResolveLimitsAllowListIsValidNetworkMode(t *testing.T) {
	d := &Docker{opts: DockerOptions{DefaultMemory: "1g", DefaultTimeout: time.Minute}}

	// Bare hostnames must never leak into create-request fields that
	// expect another format; the allow-list only selects the network mode.
	limits, err := d.resolveLimits(model.ResourceLimits{
		Network:      model.NetworkAllowList,
		AllowedHosts: []string{"data.example.org", "mirror.example.org"},
	})
	require.NoError(t, err)
	assert.True(t, limits.networkMode.IsBridge())
}

func TestResolveLimitsRejectsEmptyAllowList(t *testing.T) {
	d := &Docker{opts: DockerOptions{DefaultMemory: "1g", DefaultTimeout: time.Minute}}

	_, err := d.resolveLimits(model.ResourceLimits{Network: model.NetworkAllowList})
	assert.Error(t, err)
}

func TestCheckDeclaredOutputs(t *testing.T) {
	desc := &model.Descriptor{
		Identity: model.RecipeIdentity("a", "1.0"),
		Outputs:  []string{"plot.json", "table.csv"},
	}

	complete := &model.OutputBundle{Artifacts: []model.Artifact{
		{Name: "plot.json"}, {Name: "table.csv"}, {Name: "extra.txt"},
	}}
	assert.NoError(t, checkDeclaredOutputs(desc, complete))

	partial := &model.OutputBundle{Artifacts: []model.Artifact{{Name: "plot.json"}}}
	err := checkDeclaredOutputs(desc, partial)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table.csv")
}
