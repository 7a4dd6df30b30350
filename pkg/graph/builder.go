package graph

import (
	"errors"
	"fmt"
	"os"

	"github.com/weftlabs/weft/pkg/rules"
)

// Builder expands rule templates against target paths into a JobGraph.
//
// A Builder is safe for single use per Build call but carries no state
// between builds.
type Builder struct {
	registry *rules.Registry

	// Exists reports whether a path is present on disk. Overridable for
	// tests; defaults to os.Stat.
	Exists func(path string) bool
}

// NewBuilder creates a builder over the given registry.
func NewBuilder(reg *rules.Registry) *Builder {
	return &Builder{
		registry: reg,
		Exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// Build resolves the target paths into a concrete job graph.
//
// Resolution is recursive: each target is matched against rule output
// patterns, the matched rule is instantiated with the bound wildcards, and
// its inputs are resolved in turn. Inputs that exist on disk and are not
// themselves declared targets are leaves. Jobs are memoized by
// (rule, bindings), so shared inputs never create duplicate jobs.
//
// Failure modes:
//   - NoRuleError for a path that neither matches a rule nor exists
//   - AmbiguousRuleError when several rules match one path
//   - CyclicDependencyError naming the path chain of the cycle
func (b *Builder) Build(targets []string) (*JobGraph, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets requested")
	}

	g := newJobGraph(targets)
	st := &buildState{
		builder:   b,
		graph:     g,
		targetSet: make(map[string]bool, len(targets)),
		memo:      make(map[string]*Job),
		visiting:  make(map[string]bool),
	}
	for _, t := range targets {
		st.targetSet[t] = true
	}

	for _, target := range targets {
		if _, err := st.resolve(target, nil); err != nil {
			return nil, err
		}
	}

	// Construction-order acyclicity holds by the visiting check; this
	// revalidates and caches nothing, it is a cheap structural assertion.
	if _, err := g.TopoOrder(); err != nil {
		return nil, err
	}

	return g, nil
}

type buildState struct {
	builder   *Builder
	graph     *JobGraph
	targetSet map[string]bool
	memo      map[string]*Job
	visiting  map[string]bool
	arrival   int
}

// resolve returns the job producing path, or nil if path is a leaf file.
func (st *buildState) resolve(path string, chain []string) (*Job, error) {
	rt, bindings, err := st.builder.registry.LookupByOutput(path)
	if err != nil {
		var noRule *rules.NoRuleError
		if errors.As(err, &noRule) && st.builder.Exists(path) {
			return nil, nil // pre-existing leaf
		}
		return nil, &ResolveError{Path: path, Chain: chain, Err: err}
	}

	id := jobIdentity(rt, bindings)
	if j, done := st.memo[id]; done {
		return j, nil
	}
	if st.visiting[id] {
		return nil, &CyclicDependencyError{Chain: append(append([]string(nil), chain...), path)}
	}
	st.visiting[id] = true
	defer delete(st.visiting, id)

	j, err := instantiate(rt, bindings, st.arrival)
	if err != nil {
		return nil, &ResolveError{Path: path, Chain: chain, Err: err}
	}
	st.arrival++

	childChain := append(append([]string(nil), chain...), path)
	for _, input := range j.Inputs {
		// Existing, non-target inputs without a cycle concern are leaves;
		// anything else must resolve to a producing job.
		if st.builder.Exists(input) && !st.targetSet[input] {
			if producer := st.graph.Producer(input); producer != nil {
				st.graph.addEdge(producer, j)
			}
			continue
		}
		child, err := st.resolve(input, childChain)
		if err != nil {
			return nil, err
		}
		if child != nil {
			st.graph.addEdge(child, j)
		}
	}

	st.memo[id] = j
	st.graph.addJob(j)
	return j, nil
}

func jobIdentity(rt *rules.RuleTemplate, b rules.Bindings) string {
	key := b.Key()
	if key == "" {
		return rt.Name
	}
	return rt.Name + "|" + key
}
