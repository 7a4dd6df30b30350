package rules

import (
	"fmt"
	"sort"
	"strings"
)

// DuplicateRuleError is returned when registering a rule whose name is
// already taken.
type DuplicateRuleError struct {
	Name string
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("duplicate rule %q", e.Name)
}

// AmbiguousRuleError is returned when more than one rule's output pattern
// matches a path and no wildcard constraint disambiguates them.
type AmbiguousRuleError struct {
	Path  string
	Rules []string
}

func (e *AmbiguousRuleError) Error() string {
	return fmt.Sprintf("ambiguous rules for %q: %s (add wildcard constraints to disambiguate)",
		e.Path, strings.Join(e.Rules, ", "))
}

// NoRuleError is returned when no rule's output pattern matches a path.
type NoRuleError struct {
	Path string
}

func (e *NoRuleError) Error() string {
	return fmt.Sprintf("no rule produces %q", e.Path)
}

// Registry holds rule templates and resolves which rule produces a path.
//
// Registration order is preserved; it defines the arrival order used by
// the scheduler's deterministic tie-break.
type Registry struct {
	rules  []*RuleTemplate
	byName map[string]*RuleTemplate
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*RuleTemplate)}
}

// Add registers a rule template.
//
// Fails with DuplicateRuleError if the name is already registered.
func (reg *Registry) Add(rt *RuleTemplate) error {
	if rt == nil {
		return fmt.Errorf("rule template is nil")
	}
	if _, exists := reg.byName[rt.Name]; exists {
		return &DuplicateRuleError{Name: rt.Name}
	}
	reg.byName[rt.Name] = rt
	reg.rules = append(reg.rules, rt)
	return nil
}

// Get returns the rule with the given name, or nil.
func (reg *Registry) Get(name string) *RuleTemplate {
	return reg.byName[name]
}

// Rules returns the registered rules in registration order.
func (reg *Registry) Rules() []*RuleTemplate {
	out := make([]*RuleTemplate, len(reg.rules))
	copy(out, reg.rules)
	return out
}

// Len returns the number of registered rules.
func (reg *Registry) Len() int { return len(reg.rules) }

// LookupByOutput returns the unique rule whose output pattern matches path,
// together with the wildcard bindings from the match.
//
// Fails with AmbiguousRuleError if more than one rule matches after
// wildcard constraints are applied, or NoRuleError if none matches.
// Callers decide how to treat NoRuleError for paths that already exist on
// disk (those are graph leaves, not errors).
func (reg *Registry) LookupByOutput(path string) (*RuleTemplate, Bindings, error) {
	var (
		matched  *RuleTemplate
		bindings Bindings
		names    []string
	)

	for _, rt := range reg.rules {
		for _, p := range rt.Outputs {
			b, ok := p.Match(path)
			if !ok {
				continue
			}
			if matched == nil || matched == rt {
				matched = rt
				bindings = b
			}
			names = append(names, rt.Name)
			break // one match per rule is enough
		}
	}

	switch {
	case matched == nil:
		return nil, nil, &NoRuleError{Path: path}
	case len(names) > 1:
		sort.Strings(names)
		return nil, nil, &AmbiguousRuleError{Path: path, Rules: names}
	default:
		return matched, bindings, nil
	}
}
