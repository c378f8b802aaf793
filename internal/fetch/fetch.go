// Package fetch downloads upstream source files as graph nodes. A fetch
// node's identity is its normalized URL, so two recipes naming the same
// resource share one download and one cache entry.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/plotforge/plotforge/internal/cache"
	"github.com/plotforge/plotforge/internal/ctxlog"
	"github.com/plotforge/plotforge/internal/model"
	"github.com/plotforge/plotforge/internal/sandbox"
)

// HTTP is the sandbox.Gateway implementation for fetch descriptors.
type HTTP struct {
	client     *http.Client
	stagingDir string
	timeout    time.Duration
}

// NewHTTP builds a fetch gateway staging downloads under dir.
func NewHTTP(stagingDir string, timeout time.Duration) *HTTP {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &HTTP{
		client:     &http.Client{},
		stagingDir: stagingDir,
		timeout:    timeout,
	}
}

// Execute downloads the descriptor's URL into a single-artifact bundle.
func (h *HTTP) Execute(ctx context.Context, desc *model.Descriptor, _ map[model.Identity]*model.OutputBundle) (*model.OutputBundle, error) {
	logger := ctxlog.FromContext(ctx).With("node", desc.Identity.String())

	if err := checkNetworkPolicy(desc); err != nil {
		return nil, err
	}

	timeout := desc.Limits.Timeout
	if timeout == 0 {
		timeout = h.timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, desc.FetchURL, nil)
	if err != nil {
		return nil, &sandbox.ExecError{Kind: model.ErrKindRecipeFailed, Err: fmt.Errorf("building request: %w", err)}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, &sandbox.ExecError{Kind: model.ErrKindTimeout, Err: fmt.Errorf("download exceeded %s", timeout)}
		}
		if ctx.Err() != nil {
			return nil, &sandbox.ExecError{Kind: model.ErrKindCancelled, Err: ctx.Err()}
		}
		return nil, &sandbox.ExecError{Kind: model.ErrKindRecipeFailed, Err: fmt.Errorf("downloading %s: %w", desc.FetchURL, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &sandbox.ExecError{
			Kind: model.ErrKindRecipeFailed,
			Err:  fmt.Errorf("downloading %s: unexpected status %s", desc.FetchURL, resp.Status),
		}
	}

	staging, err := os.MkdirTemp(h.stagingDir, "fetch-")
	if err != nil {
		return nil, &sandbox.ExecError{Kind: model.ErrKindSandboxFailure, Err: fmt.Errorf("creating staging dir: %w", err)}
	}
	// A partial download must not look like a finished one: the staging
	// dir survives only when a complete bundle is returned, and the caller
	// removes it after committing.
	keepStaging := false
	defer func() {
		if !keepStaging {
			_ = os.RemoveAll(staging)
		}
	}()

	target := filepath.Join(staging, desc.FetchFileName)
	f, err := os.Create(target)
	if err != nil {
		return nil, &sandbox.ExecError{Kind: model.ErrKindSandboxFailure, Err: fmt.Errorf("creating %s: %w", target, err)}
	}
	written, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, &sandbox.ExecError{Kind: model.ErrKindRecipeFailed, Err: fmt.Errorf("writing %s: %w", desc.FetchFileName, err)}
	}

	logger.Debug("fetched", "url", desc.FetchURL, "bytes", written)
	bundle, err := cache.ScanBundle(staging)
	if err != nil {
		return nil, &sandbox.ExecError{Kind: model.ErrKindSandboxFailure, Err: err}
	}
	keepStaging = true
	return bundle, nil
}

// checkNetworkPolicy enforces an allow-list declared on a fetch node: the
// target host must be named by it.
func checkNetworkPolicy(desc *model.Descriptor) error {
	if desc.Limits.Network != model.NetworkAllowList {
		return nil
	}
	host, err := URLHost(desc.FetchURL)
	if err != nil {
		return &sandbox.ExecError{Kind: model.ErrKindRecipeFailed, Err: err}
	}
	for _, allowed := range desc.Limits.AllowedHosts {
		if allowed == host {
			return nil
		}
	}
	return &sandbox.ExecError{
		Kind: model.ErrKindNetworkPolicy,
		Err:  fmt.Errorf("host %q is not in the declared allow-list", host),
	}
}
