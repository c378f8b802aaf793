package graph

import (
	"fmt"
	"strings"

	"github.com/plotforge/plotforge/internal/model"
)

// ErrorKind classifies why a descriptor set could not be assembled into a
// valid graph. All graph errors are fatal: nothing executes when the graph
// itself is malformed.
type ErrorKind string

const (
	KindDuplicateIdentity    ErrorKind = "duplicate-identity"
	KindUnresolvedDependency ErrorKind = "unresolved-dependency"
	KindCycleDetected        ErrorKind = "cycle-detected"
)

// Error is the typed validation failure returned by Build.
type Error struct {
	Kind ErrorKind
	// Identity names the offending node for duplicate/unresolved errors.
	Identity model.Identity
	// Missing names the dependency that could not be resolved.
	Missing model.Identity
	// Cycle holds the full cycle path for KindCycleDetected, first and
	// last elements equal.
	Cycle []model.Identity
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDuplicateIdentity:
		return fmt.Sprintf("duplicate identity %s", e.Identity)
	case KindUnresolvedDependency:
		return fmt.Sprintf("%s depends on unknown node %s", e.Identity, e.Missing)
	case KindCycleDetected:
		names := make([]string, len(e.Cycle))
		for i, id := range e.Cycle {
			names[i] = id.String()
		}
		return fmt.Sprintf("dependency cycle: %s", strings.Join(names, " -> "))
	}
	return string(e.Kind)
}
