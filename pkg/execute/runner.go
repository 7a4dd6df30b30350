// Package execute runs the shell actions of weft jobs.
//
// Runners do not inspect job internals beyond the rendered command; the
// scheduler observes only start/completion events and the returned error.
package execute

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/pkg/graph"
)

// Runner executes a single job's action to completion.
//
// threads is the effective (possibly clamped) thread count granted by the
// scheduler. Implementations must honor context cancellation.
type Runner interface {
	Run(ctx context.Context, j *graph.Job, threads int) error
}

// ExecutionError reports a nonzero exit (or spawn failure) of a job's
// underlying action.
type ExecutionError struct {
	Job      string
	ExitCode int
	LogPath  string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("job %s failed (exit %d)", e.Job, e.ExitCode)
	if e.LogPath != "" {
		msg += ", see " + e.LogPath
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// MissingOutputError reports a declared output the action did not produce.
type MissingOutputError struct {
	Job  string
	Path string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("job %s exited successfully but did not produce declared output %q", e.Job, e.Path)
}
