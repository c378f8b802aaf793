// Package sandbox defines the execution boundary between the build
// orchestrator and the isolation runtime, plus the Docker-backed
// implementation of it.
package sandbox

import (
	"context"
	"fmt"

	"github.com/plotforge/plotforge/internal/model"
)

// Gateway runs one node inside an isolated environment and returns the
// bundle it produced. The builder never inspects the command it hands over;
// the gateway must guarantee that inputs are presented read-only, that the
// declared limits are enforced, and that no sandbox state survives between
// invocations.
type Gateway interface {
	Execute(ctx context.Context, desc *model.Descriptor, inputs map[model.Identity]*model.OutputBundle) (*model.OutputBundle, error)
}

// ExecError is the typed failure of one execution attempt. Kind maps
// directly onto the build-level error taxonomy; Detail carries captured
// diagnostic output when there is any.
type ExecError struct {
	Kind   model.ErrorKind
	Detail string
	Err    error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *ExecError) Unwrap() error { return e.Err }

// execErrorf builds an ExecError with a formatted underlying error.
func execErrorf(kind model.ErrorKind, format string, args ...any) *ExecError {
	return &ExecError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Router dispatches executions to the gateway registered for each
// descriptor kind, so fetch nodes and sandboxed recipes can use different
// runtimes behind one interface.
type Router struct {
	gateways map[model.Kind]Gateway
}

// NewRouter builds a router over the given kind→gateway table.
func NewRouter(gateways map[model.Kind]Gateway) *Router {
	return &Router{gateways: gateways}
}

// Execute forwards to the gateway owning the descriptor's kind.
func (r *Router) Execute(ctx context.Context, desc *model.Descriptor, inputs map[model.Identity]*model.OutputBundle) (*model.OutputBundle, error) {
	gw, ok := r.gateways[desc.Identity.Kind]
	if !ok {
		return nil, execErrorf(model.ErrKindSandboxFailure, "no gateway registered for kind %q", desc.Identity.Kind)
	}
	return gw.Execute(ctx, desc, inputs)
}
