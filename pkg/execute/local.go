package execute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/weftlabs/weft/pkg/graph"
)

// Local runs job actions as /bin/sh child processes on the local machine.
//
// Stdout and stderr are captured to the job's log path (rule log pattern,
// or a per-run file under LogDir when the rule declares none).
type Local struct {
	// Shell is the interpreter used for job actions. Default: /bin/sh.
	Shell string

	// LogDir receives logs for jobs whose rule declares no log pattern.
	LogDir string

	// KillOnCancel terminates the child process on context cancellation
	// instead of letting it finish.
	KillOnCancel bool
}

// Run executes the job's shell action and verifies its declared outputs.
func (l *Local) Run(ctx context.Context, j *graph.Job, threads int) error {
	command, err := j.RenderCommand(threads)
	if err != nil {
		return &ExecutionError{Job: j.String(), ExitCode: -1, Err: err}
	}
	if command == "" {
		// Rules without an action (aggregation targets) only group inputs.
		return l.verifyOutputs(j)
	}
	return l.runRaw(ctx, j, command, threads)
}

// runRaw executes an arbitrary command on behalf of j with the usual log
// capture, benchmark, and output verification. The cluster runner reuses
// it with the submission command line as the action.
func (l *Local) runRaw(ctx context.Context, j *graph.Job, command string, threads int) error {
	if err := l.prepareDirs(j); err != nil {
		return &ExecutionError{Job: j.String(), ExitCode: -1, Err: err}
	}

	logPath, logFile, err := l.openLog(j)
	if err != nil {
		return &ExecutionError{Job: j.String(), ExitCode: -1, Err: err}
	}
	defer func() { _ = logFile.Close() }()

	shell := l.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	runCtx := ctx
	if !l.KillOnCancel {
		// Detach the child from cancellation: an abort stops admission of
		// new jobs but lets running actions finish.
		runCtx = context.Background()
	}

	cmd := exec.CommandContext(runCtx, shell, "-c", command)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"WEFT_THREADS="+strconv.Itoa(threads),
		"WEFT_JOB="+j.ID(),
	)

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	if j.Benchmark != "" {
		if err := l.writeBenchmark(j, started, elapsed, exitCode(runErr)); err != nil {
			return &ExecutionError{Job: j.String(), ExitCode: -1, LogPath: logPath, Err: err}
		}
	}

	if runErr != nil {
		return &ExecutionError{
			Job:      j.String(),
			ExitCode: exitCode(runErr),
			LogPath:  logPath,
			Err:      runErr,
		}
	}

	return l.verifyOutputs(j)
}

func (l *Local) prepareDirs(j *graph.Job) error {
	for _, out := range j.Outputs {
		if dir := filepath.Dir(out); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
		}
	}
	return nil
}

func (l *Local) openLog(j *graph.Job) (string, *os.File, error) {
	logPath := j.Log
	if logPath == "" {
		dir := l.LogDir
		if dir == "" {
			dir = ".weft/logs"
		}
		logPath = filepath.Join(dir, sanitizeLogName(j.ID())+".log")
	}
	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.Create(logPath)
	if err != nil {
		return "", nil, fmt.Errorf("create log file: %w", err)
	}
	return logPath, f, nil
}

func (l *Local) verifyOutputs(j *graph.Job) error {
	for _, out := range j.Outputs {
		if _, err := os.Stat(out); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return &MissingOutputError{Job: j.String(), Path: out}
			}
			return fmt.Errorf("stat output %s: %w", out, err)
		}
	}
	return nil
}

// benchmarkRecord is the JSON payload written to a rule's benchmark path.
type benchmarkRecord struct {
	Rule      string  `json:"rule"`
	Job       string  `json:"job"`
	StartedAt string  `json:"started_at"`
	Seconds   float64 `json:"seconds"`
	ExitCode  int     `json:"exit_code"`
}

// writeBenchmark writes the benchmark JSON atomically (temp + rename) so a
// crash never leaves a truncated record.
func (l *Local) writeBenchmark(j *graph.Job, started time.Time, elapsed time.Duration, exit int) error {
	rec := benchmarkRecord{
		Rule:      j.Rule.Name,
		Job:       j.ID(),
		StartedAt: started.UTC().Format(time.RFC3339Nano),
		Seconds:   elapsed.Seconds(),
		ExitCode:  exit,
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal benchmark: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(j.Benchmark)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create benchmark directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".benchmark.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp benchmark: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write benchmark: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close benchmark: %w", err)
	}
	if err := os.Rename(tmpName, j.Benchmark); err != nil {
		return fmt.Errorf("rename benchmark: %w", err)
	}
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func sanitizeLogName(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
