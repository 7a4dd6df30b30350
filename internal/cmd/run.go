package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/observability"
	"github.com/weftlabs/weft/internal/server"
	"github.com/weftlabs/weft/pkg/artifact"
	"github.com/weftlabs/weft/pkg/execute"
	"github.com/weftlabs/weft/pkg/graph"
	"github.com/weftlabs/weft/pkg/report"
	"github.com/weftlabs/weft/pkg/scheduler"
	"github.com/weftlabs/weft/pkg/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build targets from a workflow file",
	Long: `Build the requested targets, running only the jobs whose outputs
are missing or stale.

Targets are concrete paths; each is matched against the output patterns
of the workflow's rules to instantiate jobs, recursively resolving
inputs. Glob targets expand against existing files.

Example:
  weft run --target mapped/a.sam
  weft run --target "mapped/*.sam" --cores 8
  weft run --target report.html --dry-run
  weft run --target all.done --resources mem_mb=16000 --keep-going=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeRun(cmd, runFlags)
	},
}

// runOptions collects the run/plan flag values.
type runOptions struct {
	file            string
	targets         []string
	cores           string
	resources       []string
	dryRun          bool
	forceAll        bool
	keepGoing       bool
	touch           bool
	maxStartsPerSec float64
	killOnAbort     bool
	monitorAddr     string
	eventsPath      string
	executor        string
	submitCmd       string
}

var runFlags runOptions

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd, &runFlags, false)
}

// addRunFlags registers the shared run/plan flag set. planOnly omits the
// execution-side flags that a dry run never uses.
func addRunFlags(cmd *cobra.Command, opts *runOptions, planOnly bool) {
	cmd.Flags().StringVarP(&opts.file, "file", "f", "weftfile.yaml", "Path to workflow file")
	cmd.Flags().StringSliceVarP(&opts.targets, "target", "t", nil, "Target path to build (repeatable; required)")
	cmd.Flags().StringVar(&opts.cores, "cores", "", "Core budget: a number or \"unlimited\"")
	cmd.Flags().StringSliceVar(&opts.resources, "resources", nil, "Named resource capacities as name=qty (repeatable)")
	cmd.Flags().BoolVar(&opts.forceAll, "force-all", false, "Rerun every job regardless of staleness")
	cmd.Flags().StringVar(&opts.eventsPath, "events", "", "Write JSONL run events to this file")

	_ = cmd.MarkFlagRequired("target")

	if planOnly {
		opts.dryRun = true
		return
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Plan and report without executing")
	cmd.Flags().BoolVar(&opts.keepGoing, "keep-going", true, "Continue independent branches after a failure")
	cmd.Flags().BoolVar(&opts.touch, "touch", false, "Refresh output timestamps instead of running actions")
	cmd.Flags().Float64Var(&opts.maxStartsPerSec, "max-starts-per-sec", 0, "Throttle job starts (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.killOnAbort, "kill-on-abort", false, "Kill running jobs on interrupt instead of letting them finish")
	cmd.Flags().StringVar(&opts.monitorAddr, "monitor", "", "Serve run status over HTTP at this address")
	cmd.Flags().StringVar(&opts.executor, "executor", "", "Job executor: local or cluster")
	cmd.Flags().StringVar(&opts.submitCmd, "submit-cmd", "", "Blocking cluster submission command (e.g. \"sbatch --wait\")")
}

func executeRun(cmd *cobra.Command, opts runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitErr(ExitConfigError, err)
	}

	env, err := prepareRun(ctx, cfg, opts)
	if err != nil {
		return exitErr(ExitConfigError, err)
	}
	defer env.close()

	if env.monitor != nil {
		if err := env.monitor.Start(); err != nil {
			return exitErr(ExitConfigError, fmt.Errorf("failed to start monitor: %w", err))
		}
	}

	observability.CLILogger.Info("Starting run",
		zap.String("run_id", env.sched.RunID()),
		zap.Strings("targets", env.graph.Targets()),
		zap.Int("jobs", env.graph.Len()),
		zap.Bool("dry_run", opts.dryRun))

	res, err := env.sched.Run(ctx)
	if err != nil {
		observability.CLILogger.Error("Run could not start", zap.Error(err))
		return exitErr(ExitConfigError, err)
	}

	printSummary(cmd.OutOrStdout(), res, opts.dryRun)

	if res.Failed > 0 || res.Aborted {
		return exitErr(ExitJobFailure,
			fmt.Errorf("%d of %d jobs failed", res.Failed, res.Jobs-res.Cached))
	}
	return nil
}

// runEnv holds the assembled components of one run.
type runEnv struct {
	graph   *graph.JobGraph
	store   *artifact.Store
	sched   *scheduler.Scheduler
	monitor *server.Server

	closers []func()
}

func (e *runEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// loadWorkflow reads and validates the workflow file with logging.
func loadWorkflow(path string) (*workflow.Workflow, error) {
	wf, err := workflow.Load(path)
	if err != nil {
		observability.CLILogger.Error("Failed to load workflow",
			zap.String("path", path),
			zap.Error(err))
		return nil, err
	}
	observability.CLILogger.Debug("Loaded workflow",
		zap.String("path", path),
		zap.Int("rules", len(wf.Rules)))
	return wf, nil
}

// prepareRun loads the workflow and assembles graph, store, runner,
// writer, and scheduler.
func prepareRun(ctx context.Context, cfg *config.Config, opts runOptions) (*runEnv, error) {
	wf, err := loadWorkflow(opts.file)
	if err != nil {
		return nil, err
	}

	reg, err := wf.CompileRules()
	if err != nil {
		return nil, err
	}

	targets := expandTargets(opts.targets)
	g, err := graph.NewBuilder(reg).Build(targets)
	if err != nil {
		return nil, err
	}

	cores := wf.Config.Cores
	if cores == 0 {
		cores = cfg.Run.Cores
	}
	if opts.cores != "" {
		cores, err = parseCores(opts.cores)
		if err != nil {
			return nil, err
		}
	}

	resources, err := mergeResources(wf.Resources, opts.resources)
	if err != nil {
		return nil, err
	}

	stateDir := wf.Config.StateDir
	env := &runEnv{graph: g}

	store, err := artifact.Open(ctx, artifact.Config{Path: filepath.Join(stateDir, "state.db")})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	env.store = store
	env.closers = append(env.closers, func() { _ = store.Close() })

	runID := uuid.New().String()
	writer, err := buildWriter(opts, wf.Config.Events, cfg.Run.Events, runID)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, func() { _ = writer.Close() })

	runner, err := buildRunner(cfg, opts, stateDir)
	if err != nil {
		return nil, err
	}

	keepGoing := opts.keepGoing
	if opts.dryRun {
		keepGoing = true
	}

	maxStarts := opts.maxStartsPerSec
	if maxStarts == 0 {
		maxStarts = cfg.Run.MaxStartsPerSec
	}

	sched, err := scheduler.New(scheduler.Config{
		Graph:   g,
		Tracker: artifact.NewTracker(store),
		Runner:  runner,
		Writer:  writer,
		Logger:  observability.CLILogger,
		RunID:   runID,
		Options: scheduler.Options{
			Cores:           cores,
			Resources:       resources,
			KeepGoing:       keepGoing,
			ForceAll:        opts.forceAll,
			DryRun:          opts.dryRun,
			Touch:           opts.touch,
			MaxStartsPerSec: maxStarts,
		},
	})
	if err != nil {
		return nil, err
	}
	env.sched = sched

	monitorAddr := opts.monitorAddr
	if monitorAddr == "" {
		monitorAddr = cfg.Monitor.Addr
	}
	if monitorAddr != "" && !opts.dryRun {
		env.monitor = server.New(monitorAddr, sched, observability.CLILogger, server.Options{
			ReadTimeout:  cfg.Monitor.ReadTimeout,
			WriteTimeout: cfg.Monitor.WriteTimeout,
		})
		env.closers = append(env.closers, func() {
			shCtx, cancel := context.WithTimeout(context.Background(), cfg.Monitor.ShutdownTimeout)
			defer cancel()
			_ = env.monitor.Shutdown(shCtx)
		})
	}

	return env, nil
}

// buildRunner selects the local or cluster executor.
func buildRunner(cfg *config.Config, opts runOptions, stateDir string) (execute.Runner, error) {
	executor := opts.executor
	if executor == "" {
		executor = cfg.Run.Executor
	}
	submitCmd := opts.submitCmd
	if submitCmd == "" {
		submitCmd = cfg.Run.SubmitCmd
	}

	local := execute.Local{
		LogDir:       filepath.Join(stateDir, "logs"),
		KillOnCancel: opts.killOnAbort,
	}

	switch executor {
	case "", "local":
		return &local, nil
	case "cluster":
		if submitCmd == "" {
			return nil, fmt.Errorf("--executor cluster requires --submit-cmd")
		}
		return &execute.Cluster{
			SubmitCmd: submitCmd,
			ScriptDir: filepath.Join(stateDir, "scripts"),
			Local:     local,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported executor: %s", executor)
	}
}

// buildWriter assembles the run event writer. Dry runs print plan lines
// to stdout; an events path additionally (or instead) captures JSONL.
func buildWriter(opts runOptions, wfEvents, cfgEvents, runID string) (report.Writer, error) {
	eventsPath := opts.eventsPath
	if eventsPath == "" {
		eventsPath = wfEvents
	}
	if eventsPath == "" {
		eventsPath = cfgEvents
	}

	var jsonl report.Writer = report.Discard{}
	var cleanup func()
	if eventsPath != "" {
		f, err := os.Create(eventsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create events file %s: %w", eventsPath, err)
		}
		w := report.NewJSONLWriter(f, runID)
		jsonl = w
		cleanup = func() { _ = w.Close(); _ = f.Close() }
	}

	if opts.dryRun {
		return &planPrinter{out: os.Stdout, next: jsonl, cleanup: cleanup}, nil
	}
	if cleanup != nil {
		return &closingWriter{Writer: jsonl, cleanup: cleanup}, nil
	}
	return jsonl, nil
}

// closingWriter closes the underlying file with the writer.
type closingWriter struct {
	report.Writer
	cleanup func()
}

func (c *closingWriter) Close() error {
	err := c.Writer.Close()
	c.cleanup()
	return err
}

// planPrinter renders plan and summary records as human-readable dry-run
// output, forwarding everything to the JSONL writer when one is set.
type planPrinter struct {
	out     io.Writer
	next    report.Writer
	cleanup func()
}

func (p *planPrinter) WritePlan(ctx context.Context, plan *report.PlanRecord) error {
	fmt.Fprintf(p.out, "job %s: %s\n", plan.Job, plan.Reason)
	for _, out := range plan.Outputs {
		fmt.Fprintf(p.out, "    output: %s\n", out)
	}
	return p.next.WritePlan(ctx, plan)
}

func (p *planPrinter) WriteJob(ctx context.Context, job *report.JobRecord) error {
	return p.next.WriteJob(ctx, job)
}

func (p *planPrinter) WriteSkip(ctx context.Context, skip *report.SkipRecord) error {
	return p.next.WriteSkip(ctx, skip)
}

func (p *planPrinter) WriteError(ctx context.Context, rec *report.ErrorRecord) error {
	return p.next.WriteError(ctx, rec)
}

func (p *planPrinter) WriteSummary(ctx context.Context, sum *report.SummaryRecord) error {
	toRun := sum.Jobs - sum.Cached
	fmt.Fprintf(p.out, "%d of %d jobs to run, %d up to date\n", toRun, sum.Jobs, sum.Cached)
	return p.next.WriteSummary(ctx, sum)
}

func (p *planPrinter) Close() error {
	err := p.next.Close()
	if p.cleanup != nil {
		p.cleanup()
	}
	return err
}

// printSummary writes the human run summary.
func printSummary(w io.Writer, res *scheduler.Result, dryRun bool) {
	if dryRun {
		return
	}
	fmt.Fprintf(w, "Run %s finished in %s: %d succeeded, %d cached, %d failed, %d skipped\n",
		res.RunID, res.Duration.Round(time.Millisecond), res.Succeeded, res.Cached, res.Failed, res.Skipped)
	if len(res.FailedJobs) > 0 {
		sort.Strings(res.FailedJobs)
		for _, j := range res.FailedJobs {
			fmt.Fprintf(w, "  failed: %s\n", j)
		}
	}
}

// expandTargets normalizes requested targets, expanding glob patterns
// against existing files. Patterns that match nothing pass through
// unchanged so rule lookup can report them.
func expandTargets(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = filepath.ToSlash(filepath.Clean(t))
		if !strings.ContainsAny(t, "*?[{") {
			out = append(out, t)
			continue
		}
		matches, err := doublestar.FilepathGlob(t)
		if err != nil || len(matches) == 0 {
			out = append(out, t)
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			out = append(out, filepath.ToSlash(m))
		}
	}
	return out
}

// parseCores parses the --cores value: a positive integer or "unlimited".
func parseCores(s string) (int, error) {
	if strings.EqualFold(s, "unlimited") {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid --cores value %q: expected a positive number or \"unlimited\"", s)
	}
	return n, nil
}

// mergeResources overlays name=qty flag values onto the workflow's
// declared pool capacities.
func mergeResources(base map[string]int, flags []string) (map[string]int, error) {
	merged := make(map[string]int, len(base)+len(flags))
	for name, qty := range base {
		merged[name] = qty
	}
	for _, f := range flags {
		name, val, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --resources value %q: expected name=qty", f)
		}
		qty, err := strconv.Atoi(val)
		if err != nil || qty < 0 {
			return nil, fmt.Errorf("invalid --resources quantity in %q", f)
		}
		merged[name] = qty
	}
	return merged, nil
}
