package graph

import (
	"fmt"
	"strings"
)

// CyclicDependencyError reports a dependency cycle discovered during
// recursive target resolution. Chain lists the output paths along the
// cycle, ending at the path that closed it.
type CyclicDependencyError struct {
	Chain []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Chain, " -> ")
}

// ResolveError wraps a rule-resolution failure with the target path whose
// resolution triggered it and the chain of paths leading there.
type ResolveError struct {
	Path  string
	Chain []string
	Err   error
}

func (e *ResolveError) Error() string {
	if len(e.Chain) > 1 {
		return fmt.Sprintf("resolving %s (via %s): %v", e.Path, strings.Join(e.Chain, " -> "), e.Err)
	}
	return fmt.Sprintf("resolving %s: %v", e.Path, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }
