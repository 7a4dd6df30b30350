// Package graph builds the concrete job graph for a weft run.
//
// The builder expands rule templates against requested target paths:
// matching a target against a rule's output pattern binds the rule's
// wildcards, instantiating a Job; the job's inputs are resolved and
// recursed into, memoizing jobs by (rule, bindings) so shared inputs
// produce a single job. The result is a DAG whose edges run from producer
// jobs to the jobs consuming their outputs.
package graph

import (
	"fmt"

	"github.com/weftlabs/weft/pkg/rules"
)

// Job is a concrete instantiation of a rule template.
//
// Identity is (rule name, wildcard bindings); the builder guarantees at
// most one Job per identity in a graph.
type Job struct {
	Rule     *rules.RuleTemplate
	Bindings rules.Bindings

	Inputs    []string
	Outputs   []string
	Log       string
	Benchmark string
	Shell     string
	Params    map[string]string

	Threads   int
	Resources map[string]int
	Priority  int

	// Arrival is the creation index within the graph; it is the final
	// tie-break for scheduling order and is stable for a given target set.
	Arrival int
}

// ID returns the canonical job identity string.
func (j *Job) ID() string {
	key := j.Bindings.Key()
	if key == "" {
		return j.Rule.Name
	}
	return j.Rule.Name + "|" + key
}

// String returns a short human-readable description for logs and reports.
func (j *Job) String() string {
	if len(j.Bindings) == 0 {
		return j.Rule.Name
	}
	return fmt.Sprintf("%s [%s]", j.Rule.Name, j.Bindings.Key())
}

// instantiate expands a rule template with concrete bindings.
func instantiate(rt *rules.RuleTemplate, b rules.Bindings, arrival int) (*Job, error) {
	j := &Job{
		Rule:      rt,
		Bindings:  b,
		Threads:   rt.Threads,
		Resources: rt.Resources,
		Priority:  rt.Priority,
		Arrival:   arrival,
	}

	for _, p := range rt.Outputs {
		out, err := p.Expand(b)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rt.Name, err)
		}
		j.Outputs = append(j.Outputs, out)
	}

	for _, in := range rt.Inputs {
		switch {
		case in.Pattern != nil:
			path, err := in.Pattern.Expand(b)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", rt.Name, err)
			}
			j.Inputs = append(j.Inputs, path)
		case in.Func != nil:
			paths, err := in.Func(b)
			if err != nil {
				return nil, fmt.Errorf("rule %s: input function: %w", rt.Name, err)
			}
			j.Inputs = append(j.Inputs, paths...)
		}
	}

	if rt.Log != nil {
		path, err := rt.Log.Expand(b)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rt.Name, err)
		}
		j.Log = path
	}
	if rt.Benchmark != nil {
		path, err := rt.Benchmark.Expand(b)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rt.Name, err)
		}
		j.Benchmark = path
	}

	if len(rt.Params) > 0 {
		j.Params = make(map[string]string, len(rt.Params))
		for key, value := range rt.Params {
			p, err := rules.CompilePattern(value, nil)
			if err != nil {
				return nil, fmt.Errorf("rule %s: param %s: %w", rt.Name, key, err)
			}
			resolved, err := p.Expand(b)
			if err != nil {
				return nil, fmt.Errorf("rule %s: param %s: %w", rt.Name, key, err)
			}
			j.Params[key] = resolved
		}
	}

	if rt.Shell != "" {
		// Render once with the declared thread count to surface template
		// errors at graph-build time; the runner re-renders with the
		// effective (possibly clamped) thread count.
		rendered, err := j.RenderCommand(j.Threads)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rt.Name, err)
		}
		j.Shell = rendered
	}

	return j, nil
}

// RenderCommand renders the rule's shell template with the given effective
// thread count. Returns "" for rules without a shell action.
func (j *Job) RenderCommand(threads int) (string, error) {
	if j.Rule.Shell == "" {
		return "", nil
	}
	return rules.RenderShell(j.Rule.Shell, rules.ShellContext{
		Inputs:    j.Inputs,
		Outputs:   j.Outputs,
		Log:       j.Log,
		Threads:   threads,
		Params:    j.Params,
		Wildcards: j.Bindings,
	})
}
