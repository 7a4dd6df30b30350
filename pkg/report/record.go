// Package report provides JSONL output for weft runs.
//
// Run events are structured as typed record envelopes: planned jobs,
// job state changes, skips, errors, and the final summary. Each line is a
// self-contained JSON object that can be parsed independently.
package report

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: weft.<type>.v<version>
const (
	// TypePlan identifies dry-run plan records (one per job that would run).
	TypePlan = "weft.plan.v1"

	// TypeJob identifies job state-change records.
	TypeJob = "weft.job.v1"

	// TypeSkip identifies records for jobs skipped due to failed dependencies.
	TypeSkip = "weft.skip.v1"

	// TypeError identifies error records.
	TypeError = "weft.error.v1"

	// TypeSummary identifies the final run summary record.
	TypeSummary = "weft.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "weft.job.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this run.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// PlanRecord is the data payload for one planned job in a dry run.
type PlanRecord struct {
	// Rule is the producing rule name.
	Rule string `json:"rule"`

	// Job is the canonical job identity (rule plus wildcard bindings).
	Job string `json:"job"`

	// Reason is the one-line staleness reason (missing output, stale
	// input, rule changed, forced).
	Reason string `json:"reason"`

	// Outputs lists the job's concrete output paths.
	Outputs []string `json:"outputs"`
}

// JobRecord is the data payload for a job state change.
type JobRecord struct {
	Rule    string   `json:"rule"`
	Job     string   `json:"job"`
	State   string   `json:"state"`
	Outputs []string `json:"outputs,omitempty"`
	Log     string   `json:"log,omitempty"`

	// Duration is set on terminal states, in nanoseconds.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// SkipRecord is the data payload for a job skipped because a dependency
// failed.
type SkipRecord struct {
	Rule   string `json:"rule"`
	Job    string `json:"job"`
	Reason string `json:"reason"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Rule and Job identify the failing job, when applicable.
	Rule string `json:"rule,omitempty"`
	Job  string `json:"job,omitempty"`

	// Path is the output path related to this error, if applicable.
	Path string `json:"path,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeExecution indicates a nonzero exit from a job action.
	ErrCodeExecution = "EXECUTION"

	// ErrCodeMissingOutput indicates a declared output was not produced.
	ErrCodeMissingOutput = "MISSING_OUTPUT"

	// ErrCodeProtected indicates a refusal to overwrite a protected output.
	ErrCodeProtected = "PROTECTED_OUTPUT"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for the final run summary.
type SummaryRecord struct {
	Jobs      int `json:"jobs"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cached    int `json:"cached"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "report: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
