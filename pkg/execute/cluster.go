package execute

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/graph"
)

// Cluster submits job actions through an external submission command
// (e.g. "sbatch --wait" or "qsub -sync y") instead of running them as
// local children. The submission command must block until the job
// finishes and propagate its exit status.
//
// The job's rendered action is written to a per-job script under
// ScriptDir; the submit command line is the SubmitCmd split on
// whitespace with the script path appended.
type Cluster struct {
	// SubmitCmd is the blocking submission command, e.g. "sbatch --wait".
	SubmitCmd string

	// ScriptDir receives generated job scripts. Default: .weft/scripts.
	ScriptDir string

	// Local executes the submission command itself and handles logs,
	// benchmarks, and output verification.
	Local Local
}

// Run writes the job script and submits it.
func (c *Cluster) Run(ctx context.Context, j *graph.Job, threads int) error {
	submit := strings.Fields(strings.TrimSpace(c.SubmitCmd))
	if len(submit) == 0 {
		return fmt.Errorf("cluster executor requires a submit command")
	}

	command, err := j.RenderCommand(threads)
	if err != nil {
		return &ExecutionError{Job: j.String(), ExitCode: -1, Err: err}
	}
	if command == "" {
		return c.Local.verifyOutputs(j)
	}

	scriptPath, err := c.writeScript(j, command, threads)
	if err != nil {
		return &ExecutionError{Job: j.String(), ExitCode: -1, Err: err}
	}
	defer func() { _ = os.Remove(scriptPath) }()

	// Delegate to the local runner with the submit line as the action so
	// log capture and exit handling stay in one place.
	submission := strings.Join(append(submit, scriptPath), " ")
	return c.Local.runRaw(ctx, j, submission, threads)
}

// writeScript emits a self-contained shell script for the job.
func (c *Cluster) writeScript(j *graph.Job, command string, threads int) (string, error) {
	dir := c.ScriptDir
	if dir == "" {
		dir = ".weft/scripts"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create script directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	sb.WriteString("# generated by weft for job " + j.ID() + "\n")
	sb.WriteString("WEFT_THREADS=" + strconv.Itoa(threads) + "\n")
	sb.WriteString("export WEFT_THREADS\n")
	sb.WriteString(command + "\n")

	name := fmt.Sprintf("weft-%s-%s.sh", sanitizeLogName(j.Rule.Name), uuid.New().String()[:8])
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(sb.String()), 0o755); err != nil { // #nosec G306 -- job scripts must be executable
		return "", fmt.Errorf("write job script: %w", err)
	}
	return path, nil
}
