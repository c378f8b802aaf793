package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"

	"github.com/plotforge/plotforge/internal/cache"
	"github.com/plotforge/plotforge/internal/ctxlog"
	"github.com/plotforge/plotforge/internal/model"
)

const (
	recipeMountPath = "/app/recipe"
	dataMountPath   = "/app/data"
	depsMountPath   = "/app/dependencies"

	// Exit code the kernel OOM killer produces; maps to ResourceExceeded.
	oomExitCode = 137
)

// DockerOptions configure the Docker-backed gateway.
type DockerOptions struct {
	// Image is the sandbox image tag recipes run in.
	Image string
	// StagingDir is where per-execution data directories are created.
	StagingDir string
	// Defaults applied when a descriptor declares no explicit limit.
	DefaultMemory  string
	DefaultCPUs    float64
	DefaultTimeout time.Duration
}

// Docker executes recipe nodes in throwaway containers. Exactly one
// container is created and removed per invocation; nothing persists in the
// sandbox between runs.
type Docker struct {
	client *client.Client
	opts   DockerOptions
}

// NewDocker connects to the Docker daemon from the environment.
func NewDocker(opts DockerOptions) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if opts.DefaultMemory == "" {
		opts.DefaultMemory = "1g"
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 15 * time.Minute
	}
	return &Docker{client: cli, opts: opts}, nil
}

// Execute runs the descriptor's command in a fresh container with the recipe
// source and every dependency bundle mounted read-only and a writable data
// directory that becomes the output bundle.
func (d *Docker) Execute(ctx context.Context, desc *model.Descriptor, inputs map[model.Identity]*model.OutputBundle) (*model.OutputBundle, error) {
	logger := ctxlog.FromContext(ctx).With("node", desc.Identity.String())

	limits, err := d.resolveLimits(desc.Limits)
	if err != nil {
		return nil, &ExecError{Kind: model.ErrKindSandboxFailure, Err: err}
	}

	dataDir, err := os.MkdirTemp(d.opts.StagingDir, "exec-")
	if err != nil {
		return nil, execErrorf(model.ErrKindSandboxFailure, "creating staging dir: %w", err)
	}
	if err := os.Chmod(dataDir, 0o777); err != nil {
		return nil, execErrorf(model.ErrKindSandboxFailure, "preparing data dir: %w", err)
	}
	// The staging dir lives exactly as long as it is needed: removed here
	// on failure, by the caller once the bundle is committed otherwise.
	keepStaging := false
	defer func() {
		if !keepStaging {
			_ = os.RemoveAll(dataDir)
		}
	}()

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: desc.SourcePath, Target: recipeMountPath, ReadOnly: true},
		{Type: mount.TypeBind, Source: dataDir, Target: dataMountPath},
	}
	for _, dep := range desc.Dependencies {
		bundle, ok := inputs[dep.Identity]
		if !ok {
			return nil, execErrorf(model.ErrKindSandboxFailure, "missing resolved input for %s", dep.Identity)
		}
		source := bundle.Root
		if dep.Identity.Kind == model.KindFetch {
			// A fetch bundle holds exactly one file; bind the file itself so
			// the recipe sees it under its declared name.
			if len(bundle.Artifacts) != 1 {
				return nil, execErrorf(model.ErrKindSandboxFailure, "fetch bundle for %s holds %d artifacts", dep.Identity, len(bundle.Artifacts))
			}
			source = filepath.Join(bundle.Root, bundle.Artifacts[0].Name)
		}
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   source,
			Target:   depsMountPath + "/" + dep.Mount,
			ReadOnly: true,
		})
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	resp, err := d.client.ContainerCreate(runCtx,
		&container.Config{
			Image: d.opts.Image,
			// Override the image entrypoint so the descriptor command is
			// what actually runs.
			Entrypoint: desc.Command,
		},
		&container.HostConfig{
			Mounts:      mounts,
			NetworkMode: limits.networkMode,
			Resources: container.Resources{
				Memory:   limits.MemoryBytes,
				NanoCPUs: limits.NanoCPUs,
			},
		},
		&network.NetworkingConfig{},
		nil,
		"",
	)
	if err != nil {
		return nil, execErrorf(model.ErrKindSandboxFailure, "creating container: %w", err)
	}
	// Teardown always runs, including on cancellation: force-remove kills
	// any still-running process and discards the sandbox filesystem.
	defer func() {
		removeCtx, removeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer removeCancel()
		if err := d.client.ContainerRemove(removeCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			logger.Warn("failed to remove sandbox container", "container", resp.ID, "error", err)
		}
	}()

	if err := d.client.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return nil, execErrorf(model.ErrKindSandboxFailure, "starting container: %w", err)
	}
	logger.Debug("sandbox started", "container", resp.ID, "memory", limits.MemoryBytes, "timeout", limits.Timeout)

	statusCh, errCh := d.client.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, execErrorf(model.ErrKindTimeout, "execution exceeded %s", limits.Timeout)
		}
		if ctx.Err() != nil {
			return nil, &ExecError{Kind: model.ErrKindCancelled, Err: ctx.Err()}
		}
		return nil, execErrorf(model.ErrKindSandboxFailure, "waiting for container: %w", err)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			diag := d.captureLogs(resp.ID)
			if status.StatusCode == oomExitCode {
				return nil, &ExecError{
					Kind:   model.ErrKindResourceExceeded,
					Detail: diag,
					Err:    fmt.Errorf("container exceeded memory limit (%s)", limits.Memory),
				}
			}
			return nil, &ExecError{
				Kind:   model.ErrKindRecipeFailed,
				Detail: diag,
				Err:    fmt.Errorf("recipe exited with status %d", status.StatusCode),
			}
		}
	}

	bundle, err := cache.ScanBundle(dataDir)
	if err != nil {
		return nil, execErrorf(model.ErrKindSandboxFailure, "collecting outputs: %w", err)
	}
	if err := checkDeclaredOutputs(desc, bundle); err != nil {
		return nil, &ExecError{Kind: model.ErrKindRecipeFailed, Err: err}
	}
	keepStaging = true
	return bundle, nil
}

// captureLogs reads the container's combined output for diagnostics. Errors
// here only degrade the diagnostic, never the result.
func (d *Docker) captureLogs(containerID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logs, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return ""
	}
	defer logs.Close()

	var buf bytes.Buffer
	_, _ = stdcopy.StdCopy(&buf, &buf, io.LimitReader(logs, 64*1024))
	return buf.String()
}

// checkDeclaredOutputs verifies that every declared output name was actually
// produced.
func checkDeclaredOutputs(desc *model.Descriptor, bundle *model.OutputBundle) error {
	if len(desc.Outputs) == 0 {
		return nil
	}
	produced := make(map[string]bool, len(bundle.Artifacts))
	for _, a := range bundle.Artifacts {
		produced[a.Name] = true
	}
	var missing []string
	for _, name := range desc.Outputs {
		if !produced[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("declared outputs not produced: %s", strings.Join(missing, ", "))
	}
	return nil
}

// resolvedLimits are descriptor limits with defaults applied and values
// converted to what the runtime expects.
type resolvedLimits struct {
	Memory      string
	MemoryBytes int64
	NanoCPUs    int64
	Timeout     time.Duration

	networkMode container.NetworkMode
}

func (d *Docker) resolveLimits(declared model.ResourceLimits) (resolvedLimits, error) {
	limits := resolvedLimits{
		Memory:  declared.Memory,
		Timeout: declared.Timeout,
	}
	if limits.Memory == "" {
		limits.Memory = d.opts.DefaultMemory
	}
	if limits.Timeout == 0 {
		limits.Timeout = d.opts.DefaultTimeout
	}

	memBytes, err := units.RAMInBytes(limits.Memory)
	if err != nil {
		return limits, fmt.Errorf("invalid memory limit %q: %w", limits.Memory, err)
	}
	limits.MemoryBytes = memBytes

	cpus := declared.CPUs
	if cpus == 0 {
		cpus = d.opts.DefaultCPUs
	}
	if cpus > 0 {
		limits.NanoCPUs = int64(cpus * 1e9)
	}

	switch declared.Network {
	case model.NetworkAllowList:
		if len(declared.AllowedHosts) == 0 {
			return limits, fmt.Errorf("network mode %q declared with no allowed hosts", declared.Network)
		}
		// Bridge networking is all the runtime can grant here: it has no
		// per-host egress filter, so the allow-list stays a declaration.
		// It is enforced where violations are observable (the fetch
		// gateway) and is part of the node fingerprint either way.
		limits.networkMode = container.NetworkMode("bridge")
	default:
		limits.networkMode = container.NetworkMode("none")
	}

	return limits, nil
}
