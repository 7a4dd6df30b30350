// Package workflow provides loading and validation of weft workflow files.
//
// A workflow file is a YAML or JSON document that declares the build rules
// of a project: their output patterns, inputs, shell actions, and resource
// requirements, plus run configuration and named resource pools.
//
// Workflow files are validated against a JSON Schema before execution. The
// schema enforces strict typing and disallows unknown properties.
//
// Example workflow (YAML):
//
//	version: "1.0"
//	config:
//	  cores: 4
//	resources:
//	  mem_mb: 16000
//	rules:
//	  align:
//	    input: "reads/{sample}.fastq"
//	    output: "mapped/{sample}.sam"
//	    shell: "bwa mem -t {threads} ref.fa {input} > {output}"
//	    threads: 4
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/weftlabs/weft/pkg/rules"
)

// Workflow represents a validated workflow file.
//
// Required fields are Version and Rules. Config and Resources are optional
// with sensible defaults.
type Workflow struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the workflow schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Config holds run configuration defaults (optional).
	Config RunConfig `json:"config,omitempty" yaml:"config,omitempty"`

	// Resources declares named resource pool capacities (optional).
	// Example: mem_mb: 16000, gpus: 2.
	Resources map[string]int `json:"resources,omitempty" yaml:"resources,omitempty"`

	// Rules maps rule names to their declarations.
	Rules map[string]RuleSpec `json:"rules" yaml:"rules"`
}

// RunConfig holds workflow-level run defaults. CLI flags override these.
type RunConfig struct {
	// Cores is the default core budget for runs (0 = unlimited).
	Cores int `json:"cores,omitempty" yaml:"cores,omitempty"`

	// StateDir is the directory for the sidecar store, logs, and
	// generated scripts. Default: ".weft".
	StateDir string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`

	// Events is a JSONL file path receiving run events (optional).
	Events string `json:"events,omitempty" yaml:"events,omitempty"`
}

// RuleSpec is one rule declaration in the workflow file.
type RuleSpec struct {
	// Output is the rule's output path pattern(s). Required.
	// Patterns may contain {wildcard} placeholders.
	Output StringList `json:"output" yaml:"output"`

	// Input is the rule's input path pattern(s). Optional.
	Input StringList `json:"input,omitempty" yaml:"input,omitempty"`

	// Shell is the action template. Optional: rules without an action
	// only aggregate their inputs.
	Shell string `json:"shell,omitempty" yaml:"shell,omitempty"`

	// Params are named string parameters referenced as {params.name}.
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`

	// Threads is the declared CPU request. Default: 1.
	Threads int `json:"threads,omitempty" yaml:"threads,omitempty"`

	// Resources are named resource requests (e.g. mem_mb: 4000).
	Resources map[string]int `json:"resources,omitempty" yaml:"resources,omitempty"`

	// Priority breaks admission ties; higher runs first. Default: 0.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Log is a path pattern for the action's captured output. Optional.
	Log string `json:"log,omitempty" yaml:"log,omitempty"`

	// Benchmark is a path pattern for a JSON timing record. Optional.
	Benchmark string `json:"benchmark,omitempty" yaml:"benchmark,omitempty"`

	// Temp marks outputs for deletion once all consumers succeed.
	Temp bool `json:"temp,omitempty" yaml:"temp,omitempty"`

	// Protected marks outputs read-only after a successful build.
	Protected bool `json:"protected,omitempty" yaml:"protected,omitempty"`

	// Wildcards constrains wildcard values with regular expressions.
	// Example: sample: "[A-Za-z0-9]+".
	Wildcards map[string]string `json:"wildcards,omitempty" yaml:"wildcards,omitempty"`
}

// StringList accepts either a single string or a list of strings in the
// workflow file and normalizes both to a slice.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = StringList(list)
		return nil
	default:
		return fmt.Errorf("expected string or list of strings, got %s", value.Tag)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*s = StringList(list)
	return nil
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current workflow schema version.
	DefaultVersion = "1.0"

	// DefaultStateDir is the default directory for run state.
	DefaultStateDir = ".weft"
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the workflow so that
// callers do not need to reason about empty strings.
func (w *Workflow) ApplyDefaults() {
	if w.Version == "" {
		w.Version = DefaultVersion
	}
	if w.Config.StateDir == "" {
		w.Config.StateDir = DefaultStateDir
	}
}

// RuleNames returns the rule names in sorted order.
func (w *Workflow) RuleNames() []string {
	names := make([]string, 0, len(w.Rules))
	for name := range w.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CompileRules compiles every rule declaration into a registry.
//
// Rules are compiled in name order so registration errors are
// deterministic.
func (w *Workflow) CompileRules() (*rules.Registry, error) {
	reg := rules.NewRegistry()
	for _, name := range w.RuleNames() {
		spec := w.Rules[name]
		rt, err := rules.Compile(rules.Config{
			Name:      name,
			Inputs:    []string(spec.Input),
			Outputs:   []string(spec.Output),
			Shell:     spec.Shell,
			Params:    spec.Params,
			Threads:   spec.Threads,
			Resources: spec.Resources,
			Priority:  spec.Priority,
			Log:       spec.Log,
			Benchmark: spec.Benchmark,
			Temp:      spec.Temp,
			Protected: spec.Protected,
			Wildcards: spec.Wildcards,
		})
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		if err := reg.Add(rt); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
