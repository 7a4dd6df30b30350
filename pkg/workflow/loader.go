package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a workflow file from the given path.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json
// for JSON. If the extension is unrecognized, YAML is attempted first,
// then JSON.
//
// After loading, the workflow is validated against the JSON schema, and
// defaults are applied to optional fields.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workflow file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading workflow: %s", path)
		}
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a workflow from raw bytes.
//
// The path parameter is used for error messages and format detection.
// If path is empty, format detection falls back to trying YAML first.
//
// Validation is performed on the raw data (converted to JSON) before
// parsing into the typed struct. This ensures strict validation including
// rejection of unknown fields (additionalProperties: false in the schema).
func LoadFromBytes(data []byte, path string) (*Workflow, error) {
	if len(data) == 0 {
		return nil, errors.New("workflow file is empty")
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}

	// Validate raw JSON against the schema BEFORE parsing into the struct
	// so unknown fields are rejected rather than silently dropped.
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	wf, err := parseWorkflow(data, path)
	if err != nil {
		return nil, err
	}

	wf.ApplyDefaults()
	return wf, nil
}

// LoadFromReader reads and validates a workflow from an io.Reader.
func LoadFromReader(r io.Reader, path string) (*Workflow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	return LoadFromBytes(data, path)
}

// parseWorkflow parses the workflow data based on file extension.
func parseWorkflow(data []byte, path string) (*Workflow, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		return parseJSON(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		// Unknown extension: try YAML first (more permissive), then JSON.
		wf, yamlErr := parseYAML(data)
		if yamlErr == nil {
			return wf, nil
		}
		wf, jsonErr := parseJSON(data)
		if jsonErr == nil {
			return wf, nil
		}
		return nil, fmt.Errorf("failed to parse workflow (tried YAML and JSON): %w", yamlErr)
	}
}

func parseJSON(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("invalid JSON in workflow: %w", err)
	}
	return &wf, nil
}

func parseYAML(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("invalid YAML in workflow: %w", err)
	}
	return &wf, nil
}

// toJSON converts the input data to JSON for schema validation.
func toJSON(data []byte, path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in workflow: %w", err)
		}
		return data, nil

	case ".yaml", ".yml":
		return yamlToJSON(data)

	default:
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse workflow (tried YAML and JSON): %w", err)
	}
}

// yamlToJSON converts YAML data to JSON.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in workflow: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert workflow to JSON: %w", err)
	}
	return jsonData, nil
}
