package model

import "time"

// NodeState is a node's observable outcome in a build run. Every node moves
// from Pending to exactly one terminal state; a cache hit surfaces as
// Succeeded with the CacheHit flag set.
type NodeState string

const (
	StatePending   NodeState = "pending"
	StateSucceeded NodeState = "succeeded"
	StateFailed    NodeState = "failed"
	StateSkipped   NodeState = "skipped"
)

// Terminal reports whether the state is final for a build run.
func (s NodeState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// ErrorKind classifies why a node did not succeed.
type ErrorKind string

const (
	ErrKindNone             ErrorKind = ""
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindResourceExceeded ErrorKind = "resource-exceeded"
	ErrKindNetworkPolicy    ErrorKind = "network-policy-violation"
	ErrKindRecipeFailed     ErrorKind = "recipe-failed"
	ErrKindSandboxFailure   ErrorKind = "sandbox-failure"
	ErrKindCachePersist     ErrorKind = "cache-persist"
	// ErrKindDependencyFailed marks nodes skipped because something
	// upstream failed.
	ErrKindDependencyFailed ErrorKind = "dependency-failed"
	ErrKindCancelled        ErrorKind = "cancelled"
)

// ExecutionResult is the outcome of one node in one build run.
type ExecutionResult struct {
	Identity    Identity    `json:"identity"`
	Fingerprint Fingerprint `json:"fingerprint"`
	State       NodeState   `json:"state"`
	// CacheHit is true when the node's bundle came from the cache and no
	// execution happened.
	CacheHit bool      `json:"cacheHit"`
	Started  time.Time `json:"started,omitempty"`
	Finished time.Time `json:"finished,omitempty"`

	ErrKind    ErrorKind `json:"errorKind,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`

	// Bundle is set for succeeded nodes; it points at the committed cache
	// entry, never at in-flight execution output.
	Bundle *OutputBundle `json:"-"`
}

// Duration returns how long the node spent between start and finish, zero
// for nodes that never ran.
func (r *ExecutionResult) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}
