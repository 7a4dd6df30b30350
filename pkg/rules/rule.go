// Package rules provides rule templates for the weft build graph: named
// production specifications mapping input path patterns to output path
// patterns, plus the registry used to resolve which rule produces a given
// target path.
//
// Path patterns contain named wildcards ("mapped/{sample}.sam"). Matching a
// concrete path against an output pattern binds the wildcards; the bindings
// then instantiate the rule's inputs, params, log path, and shell command.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// InputFunc produces input paths from bound wildcards.
//
// Input functions are evaluated during graph construction, after the
// target path has bound the rule's wildcards. They allow inputs that
// cannot be expressed as a static pattern (e.g. sample sheets).
type InputFunc func(b Bindings) ([]string, error)

// InputSpec is a single input declaration: either a compiled pattern or a
// deferred function, never both.
type InputSpec struct {
	Pattern *Pattern
	Func    InputFunc
}

// Config is the raw, uncompiled form of a rule as declared in a workflow
// file or constructed programmatically.
type Config struct {
	Name       string
	Inputs     []string
	InputFuncs []InputFunc
	Outputs    []string
	Shell      string
	Params     map[string]string
	Threads    int
	Resources  map[string]int
	Priority   int
	Log        string
	Benchmark  string
	Temp       bool
	Protected  bool

	// Wildcards constrains individual wildcards to a regular expression
	// instead of the default non-separator rule.
	Wildcards map[string]string
}

// RuleTemplate is a compiled, validated rule.
//
// Immutable after compilation; safe for concurrent use.
type RuleTemplate struct {
	Name      string
	Inputs    []InputSpec
	Outputs   []*Pattern
	Shell     string
	Params    map[string]string
	Threads   int
	Resources map[string]int
	Priority  int
	Log       *Pattern
	Benchmark *Pattern
	Temp      bool
	Protected bool

	fingerprint string
}

// Compile validates a rule config and compiles its patterns.
//
// Enforced invariants:
//   - at least one output pattern
//   - every wildcard used in inputs, params, log, and benchmark appears in
//     at least one output pattern (otherwise it could never be bound from
//     a target path)
func Compile(cfg Config) (*RuleTemplate, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if len(cfg.Outputs) == 0 {
		return nil, fmt.Errorf("rule %s: at least one output is required", name)
	}
	if cfg.Threads < 0 {
		return nil, fmt.Errorf("rule %s: threads must be >= 0", name)
	}

	rt := &RuleTemplate{
		Name:      name,
		Shell:     cfg.Shell,
		Params:    cfg.Params,
		Threads:   cfg.Threads,
		Resources: cfg.Resources,
		Priority:  cfg.Priority,
		Temp:      cfg.Temp,
		Protected: cfg.Protected,
	}
	if rt.Threads == 0 {
		rt.Threads = 1
	}

	outputWildcards := make(map[string]bool)
	for _, raw := range cfg.Outputs {
		p, err := CompilePattern(raw, cfg.Wildcards)
		if err != nil {
			return nil, fmt.Errorf("rule %s: output %w", name, err)
		}
		for _, w := range p.Wildcards() {
			outputWildcards[w] = true
		}
		rt.Outputs = append(rt.Outputs, p)
	}

	// All outputs must carry the full wildcard set: matching any one output
	// against a target must bind enough to expand every sibling output.
	for _, p := range rt.Outputs {
		have := make(map[string]bool, len(p.Wildcards()))
		for _, w := range p.Wildcards() {
			have[w] = true
		}
		for w := range outputWildcards {
			if !have[w] {
				return nil, fmt.Errorf("rule %s: output %q is missing wildcard {%s} present in a sibling output", name, p.String(), w)
			}
		}
	}

	checkSubset := func(kind string, p *Pattern) error {
		for _, w := range p.Wildcards() {
			if !outputWildcards[w] {
				return fmt.Errorf("rule %s: %s wildcard {%s} does not appear in any output", name, kind, w)
			}
		}
		return nil
	}

	for _, raw := range cfg.Inputs {
		p, err := CompilePattern(raw, cfg.Wildcards)
		if err != nil {
			return nil, fmt.Errorf("rule %s: input %w", name, err)
		}
		if err := checkSubset("input", p); err != nil {
			return nil, err
		}
		rt.Inputs = append(rt.Inputs, InputSpec{Pattern: p})
	}
	for _, fn := range cfg.InputFuncs {
		if fn == nil {
			return nil, fmt.Errorf("rule %s: nil input function", name)
		}
		rt.Inputs = append(rt.Inputs, InputSpec{Func: fn})
	}

	for key, value := range cfg.Params {
		p, err := CompilePattern(value, cfg.Wildcards)
		if err != nil {
			return nil, fmt.Errorf("rule %s: param %s: %w", name, key, err)
		}
		if err := checkSubset("param", p); err != nil {
			return nil, err
		}
	}

	if cfg.Log != "" {
		p, err := CompilePattern(cfg.Log, cfg.Wildcards)
		if err != nil {
			return nil, fmt.Errorf("rule %s: log %w", name, err)
		}
		if err := checkSubset("log", p); err != nil {
			return nil, err
		}
		rt.Log = p
	}
	if cfg.Benchmark != "" {
		p, err := CompilePattern(cfg.Benchmark, cfg.Wildcards)
		if err != nil {
			return nil, fmt.Errorf("rule %s: benchmark %w", name, err)
		}
		if err := checkSubset("benchmark", p); err != nil {
			return nil, err
		}
		rt.Benchmark = p
	}

	fp, err := fingerprintRule(cfg, rt)
	if err != nil {
		return nil, fmt.Errorf("rule %s: fingerprint: %w", name, err)
	}
	rt.fingerprint = fp

	return rt, nil
}

// Fingerprint returns a stable hash of the rule's semantic fields.
//
// Any change to the fingerprint marks previously built outputs of this
// rule as stale.
func (r *RuleTemplate) Fingerprint() string { return r.fingerprint }

// OutputPatterns returns the raw output pattern strings.
func (r *RuleTemplate) OutputPatterns() []string {
	out := make([]string, len(r.Outputs))
	for i, p := range r.Outputs {
		out[i] = p.String()
	}
	return out
}

// ruleHashPayload is the canonical serialization used for fingerprinting.
// Field order and sorted keys keep the hash stable across runs.
type ruleHashPayload struct {
	Name      string            `json:"name"`
	Inputs    []string          `json:"inputs,omitempty"`
	InputFns  int               `json:"input_fns,omitempty"`
	Outputs   []string          `json:"outputs"`
	Shell     string            `json:"shell,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Threads   int               `json:"threads"`
	Resources map[string]int    `json:"resources,omitempty"`
	Log       string            `json:"log,omitempty"`
	Benchmark string            `json:"benchmark,omitempty"`
	Temp      bool              `json:"temp,omitempty"`
	Protected bool              `json:"protected,omitempty"`
	Wildcards map[string]string `json:"wildcards,omitempty"`
}

func fingerprintRule(cfg Config, rt *RuleTemplate) (string, error) {
	payload := ruleHashPayload{
		Name:      rt.Name,
		InputFns:  len(cfg.InputFuncs),
		Outputs:   append([]string(nil), cfg.Outputs...),
		Shell:     rt.Shell,
		Params:    rt.Params,
		Threads:   rt.Threads,
		Resources: rt.Resources,
		Log:       cfg.Log,
		Benchmark: cfg.Benchmark,
		Temp:      rt.Temp,
		Protected: rt.Protected,
		Wildcards: cfg.Wildcards,
	}
	payload.Inputs = append([]string(nil), cfg.Inputs...)
	sort.Strings(payload.Outputs)
	sort.Strings(payload.Inputs)

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sha := sha256.Sum256(b)
	return hex.EncodeToString(sha[:]), nil
}
