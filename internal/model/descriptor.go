package model

import "time"

// NetworkMode declares what network access a recipe is granted inside the
// sandbox.
type NetworkMode string

const (
	// NetworkNone disables networking entirely. This is the default for
	// recipes: all upstream data arrives through fetch dependencies.
	NetworkNone NetworkMode = "none"
	// NetworkAllowList grants access only to the hosts named in
	// ResourceLimits.AllowedHosts.
	NetworkAllowList NetworkMode = "allowlist"
)

// ResourceLimits are the declared ceilings a recipe execution must stay
// under. Zero values fall back to the configured defaults.
type ResourceLimits struct {
	// Memory is a human-readable size such as "1g" or "512m".
	Memory string `json:"memory,omitempty"`
	// CPUs limits the number of CPU cores the sandbox may use.
	CPUs float64 `json:"cpus,omitempty"`
	// Timeout is the wall-clock ceiling for one execution attempt.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Network is the access mode; AllowedHosts only applies to
	// NetworkAllowList.
	Network      NetworkMode `json:"network,omitempty"`
	AllowedHosts []string    `json:"allowedHosts,omitempty"`
}

// DependencyRef names one dependency of a descriptor together with the path
// it is mounted under inside the consumer's sandbox (relative to the
// dependencies root).
type DependencyRef struct {
	Identity Identity `json:"identity"`
	Mount    string   `json:"mount"`
}

// Descriptor is the validated, immutable record of one graph node. It is
// owned by the loader; the graph and scheduler hold references, never
// copies.
type Descriptor struct {
	Identity     Identity
	Dependencies []DependencyRef
	// Outputs are the artifact names the node declares it will produce.
	// Empty means "whatever appears in the data directory".
	Outputs []string
	// Command is the entrypoint handed verbatim to the execution gateway.
	// The builder never inspects it.
	Command []string
	Limits  ResourceLimits

	// SourcePath is the on-disk folder holding the recipe's code.
	SourcePath string
	// SourceDigest is the content digest of the source tree, computed by
	// the loader so that fingerprints change when recipe code changes.
	SourceDigest string

	// FetchURL and FetchFileName are set only for KindFetch descriptors.
	FetchURL      string
	FetchFileName string
}

// DependencyIdentities returns the identities of all declared dependencies
// in declaration order.
func (d *Descriptor) DependencyIdentities() []Identity {
	ids := make([]Identity, len(d.Dependencies))
	for i, dep := range d.Dependencies {
		ids[i] = dep.Identity
	}
	return ids
}
