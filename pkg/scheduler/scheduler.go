package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weftlabs/weft/pkg/artifact"
	"github.com/weftlabs/weft/pkg/execute"
	"github.com/weftlabs/weft/pkg/graph"
	"github.com/weftlabs/weft/pkg/report"
)

// Staleness reasons produced by planning in addition to the tracker's.
const (
	reasonUpstream = "upstream job scheduled"
	reasonAborted  = "run aborted"
)

// Options configure a single run.
type Options struct {
	// Cores is the total CPU core budget. <= 0 means unlimited.
	Cores int

	// Resources are named pool capacities (e.g. mem_mb, gpus).
	Resources map[string]int

	// KeepGoing continues independent branches after a failure. When
	// false, the first failure stops admission of new jobs.
	KeepGoing bool

	// ForceAll reruns every job regardless of staleness and lifts
	// output protection before rebuilding.
	ForceAll bool

	// DryRun plans and reports without executing anything or touching
	// the sidecar store.
	DryRun bool

	// Touch updates output modification times instead of running
	// actions, recording the jobs as successful.
	Touch bool

	// MaxStartsPerSec throttles job starts. 0 means unlimited.
	MaxStartsPerSec float64
}

// Config wires a scheduler's collaborators.
type Config struct {
	Graph   *graph.JobGraph
	Tracker *artifact.Tracker
	Runner  execute.Runner

	// Writer receives run events. nil discards them.
	Writer report.Writer

	// Logger is used for operational logging. nil disables it.
	Logger *zap.Logger

	// RunID correlates events and provenance records. Empty generates one.
	RunID string

	Options Options
}

// PlanEntry is the planning decision for one job.
type PlanEntry struct {
	Job *graph.Job

	// Run reports whether the job must execute this run.
	Run bool

	// Reason is the staleness reason when Run is true.
	Reason string

	// Err is set when the job is stale but may not run, e.g. a
	// protected output would be overwritten. The job fails without
	// executing; its dependents are skipped and siblings continue.
	Err error
}

// Result summarizes a finished run.
type Result struct {
	RunID string

	Jobs      int
	Succeeded int
	Failed    int
	Skipped   int
	Cached    int

	FailedJobs []string
	Aborted    bool
	Duration   time.Duration
}

// OK reports whether every scheduled job succeeded.
func (r *Result) OK() bool {
	return r.Failed == 0 && !r.Aborted
}

// JobStatus is one job's state in a run snapshot.
type JobStatus struct {
	ID     string   `json:"id"`
	Rule   string   `json:"rule"`
	State  JobState `json:"state"`
	Reason string   `json:"reason,omitempty"`
}

// Snapshot is a point-in-time view of a run, served by the monitor.
type Snapshot struct {
	RunID     string           `json:"run_id"`
	Targets   []string         `json:"targets"`
	StartedAt time.Time        `json:"started_at"`
	FreeCores int              `json:"free_cores"`
	Counts    map[JobState]int `json:"counts"`
	Jobs      []JobStatus      `json:"jobs"`
}

// Scheduler drives a job graph to completion over a bounded resource
// pool.
type Scheduler struct {
	graph   *graph.JobGraph
	tracker *artifact.Tracker
	runner  execute.Runner
	writer  report.Writer
	logger  *zap.Logger
	pool    *ResourcePool
	limiter *rate.Limiter
	opts    Options
	runID   string

	mu        sync.Mutex
	startedAt time.Time
	state     map[string]JobState
	reasons   map[string]string

	// tempLeft counts the not-yet-succeeded scheduled consumers of each
	// temporary output. A path reaching zero after its producer
	// succeeded is cleaned up.
	tempLeft map[string]int
}

// New creates a scheduler for one run of the given graph.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("scheduler requires a job graph")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("scheduler requires an artifact tracker")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("scheduler requires a runner")
	}
	if cfg.Writer == nil {
		cfg.Writer = report.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}

	s := &Scheduler{
		graph:   cfg.Graph,
		tracker: cfg.Tracker,
		runner:  cfg.Runner,
		writer:  cfg.Writer,
		logger:  cfg.Logger,
		pool:    NewResourcePool(cfg.Options.Cores, cfg.Options.Resources),
		opts:    cfg.Options,
		runID:   cfg.RunID,
		state:   make(map[string]JobState),
		reasons: make(map[string]string),
	}
	if cfg.Options.MaxStartsPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Options.MaxStartsPerSec), 1)
	}
	return s, nil
}

// RunID returns the run correlation ID.
func (s *Scheduler) RunID() string { return s.runID }

// Plan decides, in topological order, which jobs must run and why.
//
// A job runs when it is forced, when any upstream job is scheduled, or
// when any of its outputs is stale. Resource feasibility is checked
// here so impossible runs fail before any job starts. A stale protected
// output does not fail planning; the producing job carries the
// violation in Err and fails on its own during execution.
func (s *Scheduler) Plan(ctx context.Context) ([]PlanEntry, error) {
	order, err := s.graph.TopoOrder()
	if err != nil {
		return nil, err
	}

	entries := make([]PlanEntry, 0, len(order))
	willRun := make(map[string]bool, len(order))

	for _, j := range order {
		entry := PlanEntry{Job: j}

		switch {
		case s.opts.ForceAll:
			entry.Run = true
			entry.Reason = artifact.ReasonForced
		case s.upstreamScheduled(j, willRun):
			entry.Run = true
			entry.Reason = reasonUpstream
		default:
			for _, out := range j.Outputs {
				stale, reason, err := s.tracker.IsStale(ctx, out, j.Inputs, j.Rule.Fingerprint())
				if err != nil {
					return nil, err
				}
				if stale {
					entry.Run = true
					entry.Reason = reason
					break
				}
			}
		}

		if entry.Run {
			if err := s.pool.Check(j); err != nil {
				return nil, err
			}
			if !s.opts.ForceAll {
				for _, out := range j.Outputs {
					if err := s.tracker.CheckProtected(ctx, out); err != nil {
						var protErr *artifact.ProtectedOutputError
						if !errors.As(err, &protErr) {
							return nil, err
						}
						entry.Err = err
						break
					}
				}
			}
			willRun[j.ID()] = true
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *Scheduler) upstreamScheduled(j *graph.Job, willRun map[string]bool) bool {
	for _, dep := range s.graph.Dependencies(j) {
		if willRun[dep.ID()] {
			return true
		}
	}
	return false
}

// completion carries a finished job back to the admission loop.
type completion struct {
	job     *graph.Job
	threads int
	started time.Time
	err     error
}

// Run plans and executes the graph, returning the run summary.
//
// Cancelling ctx stops admission of new jobs; jobs already running are
// allowed to finish (or are killed, depending on the runner) and their
// outputs are marked suspect so the next run rebuilds them.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	entries, err := s.Plan(ctx)
	if err != nil {
		return nil, err
	}

	if s.opts.DryRun {
		return s.reportPlan(ctx, entries)
	}

	if s.opts.ForceAll {
		if err := s.liftProtection(ctx, entries); err != nil {
			return nil, err
		}
	}

	s.initState(entries)

	store := s.tracker.Store()
	if err := store.StartRun(ctx, s.runID, s.graph.Targets(), s.startedAt); err != nil {
		return nil, err
	}

	res := s.execute(ctx, entries)

	status := artifact.RunStatusSuccess
	switch {
	case res.Aborted:
		status = artifact.RunStatusAborted
	case res.Failed > 0:
		status = artifact.RunStatusFailed
	}
	// Use a fresh context: the run context may already be cancelled.
	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.FinishRun(finishCtx, s.runID, status, time.Now()); err != nil {
		s.logger.Warn("failed to finalize run record", zap.Error(err))
	}

	s.writeSummary(finishCtx, res)
	return res, nil
}

// reportPlan emits plan records for a dry run without executing anything.
func (s *Scheduler) reportPlan(ctx context.Context, entries []PlanEntry) (*Result, error) {
	res := &Result{RunID: s.runID, Jobs: len(entries)}
	for _, e := range entries {
		if !e.Run {
			res.Cached++
			continue
		}
		rec := &report.PlanRecord{
			Rule:    e.Job.Rule.Name,
			Job:     e.Job.ID(),
			Reason:  e.Reason,
			Outputs: e.Job.Outputs,
		}
		if err := s.writer.WritePlan(ctx, rec); err != nil {
			return nil, err
		}
		if e.Err != nil {
			_ = s.writer.WriteError(ctx, errorRecord(e.Job, e.Err))
		}
	}
	res.Duration = time.Since(s.startedAt)
	s.writeSummary(ctx, res)
	return res, nil
}

// liftProtection clears protection, on disk and in the store, from
// existing outputs whose producers are about to be forcibly rerun, so
// their actions can overwrite them. Successful rebuilds re-protect.
func (s *Scheduler) liftProtection(ctx context.Context, entries []PlanEntry) error {
	for _, e := range entries {
		if !e.Run {
			continue
		}
		for _, out := range e.Job.Outputs {
			rec, err := s.tracker.Store().Get(ctx, out)
			if err != nil {
				return err
			}
			if rec == nil || !rec.Protected {
				continue
			}
			if err := s.tracker.Unprotect(ctx, out); err != nil {
				return err
			}
			s.logger.Info("lifted output protection for forced rebuild",
				zap.String("path", out))
		}
	}
	return nil
}

func (s *Scheduler) initState(entries []PlanEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheduled := make(map[string]bool, len(entries))
	for _, e := range entries {
		id := e.Job.ID()
		if e.Run {
			s.state[id] = StatePending
			s.reasons[id] = e.Reason
			scheduled[id] = true
		} else {
			s.state[id] = StateCached
		}
	}

	s.tempLeft = make(map[string]int)
	for _, e := range entries {
		if !e.Run || !e.Job.Rule.Temp {
			continue
		}
		for _, out := range e.Job.Outputs {
			n := 0
			for _, c := range s.graph.Consumers(out) {
				if scheduled[c.ID()] {
					n++
				}
			}
			s.tempLeft[out] = n
		}
	}
}

// execute is the admission loop. It launches ready jobs while resources
// fit and handles completions until every job is terminal.
func (s *Scheduler) execute(ctx context.Context, entries []PlanEntry) *Result {
	res := &Result{RunID: s.runID, Jobs: len(entries)}
	aborted := false
	for _, e := range entries {
		if !e.Run {
			res.Cached++
			continue
		}
		if e.Err != nil {
			s.failPlanned(ctx, e, res)
			if !s.opts.KeepGoing {
				aborted = true
			}
		}
	}

	done := make(chan completion)
	running := 0

	for {
		if !aborted {
			n, err := s.admit(ctx, done)
			running += n
			if err != nil {
				aborted = true
				s.handleAbort(res)
			}
		}

		if running == 0 {
			if aborted || !s.anyPending() {
				break
			}
		}

		select {
		case c := <-done:
			running--
			s.handleCompletion(ctx, c, res, &aborted)
		case <-ctx.Done():
			if !aborted {
				aborted = true
				s.handleAbort(res)
			}
			// Keep draining completions; running jobs still report back.
			if running > 0 {
				c := <-done
				running--
				s.handleCompletion(ctx, c, res, &aborted)
			}
		}
	}

	s.finalizeSkips(res)
	res.Duration = time.Since(s.startedAt)
	return res
}

// admit launches as many ready jobs as the pool allows, in priority
// order, returning the number launched.
func (s *Scheduler) admit(ctx context.Context, done chan<- completion) (int, error) {
	ready := s.takeReady()
	launched := 0

	for _, j := range ready {
		threads, ok := s.pool.TryAcquire(j)
		if !ok {
			continue
		}
		if s.limiter != nil {
			// The job is still Ready at this point, so bailing out on a
			// cancelled context leaves the state machine consistent.
			if err := s.limiter.Wait(ctx); err != nil {
				s.pool.Release(j, threads)
				return launched, err
			}
		}

		s.mu.Lock()
		if err := transition(s.state, j.ID(), StateReady, StateRunning); err != nil {
			s.mu.Unlock()
			s.pool.Release(j, threads)
			return launched, err
		}
		s.mu.Unlock()

		s.logger.Info("starting job",
			zap.String("job", j.ID()),
			zap.String("rule", j.Rule.Name),
			zap.Int("threads", threads))

		go func(j *graph.Job, threads int) {
			started := time.Now()
			var err error
			if s.opts.Touch {
				err = touchOutputs(j)
			} else {
				err = s.runner.Run(ctx, j, threads)
			}
			done <- completion{job: j, threads: threads, started: started, err: err}
		}(j, threads)
		launched++
	}

	return launched, nil
}

// takeReady promotes pending jobs whose dependencies all succeeded and
// returns the ready set ordered by (priority desc, arrival asc).
func (s *Scheduler) takeReady() []*graph.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*graph.Job
	for _, j := range s.graph.Jobs() {
		id := j.ID()
		switch s.state[id] {
		case StatePending:
			ok := true
			for _, dep := range s.graph.Dependencies(j) {
				if !IsSuccessful(s.state[dep.ID()]) {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
			s.state[id] = StateReady
			ready = append(ready, j)
		case StateReady:
			ready = append(ready, j)
		}
	}

	sort.Slice(ready, func(a, b int) bool {
		if ready[a].Priority != ready[b].Priority {
			return ready[a].Priority > ready[b].Priority
		}
		return ready[a].Arrival < ready[b].Arrival
	})
	return ready
}

func (s *Scheduler) anyPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.state {
		if st == StatePending || st == StateReady {
			return true
		}
	}
	return false
}

func (s *Scheduler) handleCompletion(ctx context.Context, c completion, res *Result, aborted *bool) {
	s.pool.Release(c.job, c.threads)
	elapsed := time.Since(c.started)

	if c.err != nil {
		s.failJob(ctx, c, res, elapsed)
		if !s.opts.KeepGoing {
			*aborted = true
		}
		return
	}

	s.mu.Lock()
	terr := transition(s.state, c.job.ID(), StateRunning, StateSucceeded)
	s.mu.Unlock()
	if terr != nil {
		s.logger.Error("state machine violation", zap.Error(terr))
	}
	res.Succeeded++

	if err := s.recordSuccess(ctx, c.job); err != nil {
		s.logger.Warn("failed to record provenance",
			zap.String("job", c.job.ID()), zap.Error(err))
	}

	s.logger.Info("job succeeded",
		zap.String("job", c.job.ID()),
		zap.Duration("elapsed", elapsed))

	_ = s.writer.WriteJob(ctx, &report.JobRecord{
		Rule:     c.job.Rule.Name,
		Job:      c.job.ID(),
		State:    string(StateSucceeded),
		Outputs:  c.job.Outputs,
		Log:      c.job.Log,
		Duration: elapsed,
	})

	s.cleanupTemps(ctx, c.job)
}

// failJob marks a job failed and transitively skips its dependents.
func (s *Scheduler) failJob(ctx context.Context, c completion, res *Result, elapsed time.Duration) {
	id := c.job.ID()

	s.mu.Lock()
	if err := transition(s.state, id, StateRunning, StateFailed); err != nil {
		s.logger.Error("state machine violation", zap.Error(err))
	}
	skipped := s.skipDependentsLocked(c.job)
	s.mu.Unlock()

	res.Failed++
	res.FailedJobs = append(res.FailedJobs, id)
	res.Skipped += len(skipped)

	s.logger.Error("job failed",
		zap.String("job", id),
		zap.Duration("elapsed", elapsed),
		zap.Error(c.err))

	_ = s.writer.WriteError(ctx, errorRecord(c.job, c.err))
	_ = s.writer.WriteJob(ctx, &report.JobRecord{
		Rule:     c.job.Rule.Name,
		Job:      id,
		State:    string(StateFailed),
		Log:      c.job.Log,
		Duration: elapsed,
	})

	for _, sk := range skipped {
		_ = s.writer.WriteSkip(ctx, &report.SkipRecord{
			Rule:   sk.Rule.Name,
			Job:    sk.ID(),
			Reason: "dependency failed: " + id,
		})
	}
}

// failPlanned fails a job rejected at plan time, before its action ever
// starts, and transitively skips its dependents. Sibling branches are
// untouched.
func (s *Scheduler) failPlanned(ctx context.Context, e PlanEntry, res *Result) {
	id := e.Job.ID()

	s.mu.Lock()
	if err := transition(s.state, id, StatePending, StateFailed); err != nil {
		s.logger.Error("state machine violation", zap.Error(err))
	}
	skipped := s.skipDependentsLocked(e.Job)
	s.mu.Unlock()

	res.Failed++
	res.FailedJobs = append(res.FailedJobs, id)
	res.Skipped += len(skipped)

	s.logger.Error("job rejected",
		zap.String("job", id),
		zap.Error(e.Err))

	_ = s.writer.WriteError(ctx, errorRecord(e.Job, e.Err))
	_ = s.writer.WriteJob(ctx, &report.JobRecord{
		Rule:  e.Job.Rule.Name,
		Job:   id,
		State: string(StateFailed),
	})

	for _, sk := range skipped {
		_ = s.writer.WriteSkip(ctx, &report.SkipRecord{
			Rule:   sk.Rule.Name,
			Job:    sk.ID(),
			Reason: "dependency failed: " + id,
		})
	}
}

// skipDependentsLocked transitively marks every non-terminal dependent
// of j as skipped. The caller holds s.mu. Traversal follows graph edges
// so independent branches are never touched.
func (s *Scheduler) skipDependentsLocked(j *graph.Job) []*graph.Job {
	var skipped []*graph.Job
	queue := append([]*graph.Job(nil), s.graph.Dependents(j)...)
	seen := map[string]bool{j.ID(): true}

	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		id := d.ID()
		if seen[id] {
			continue
		}
		seen[id] = true

		switch s.state[id] {
		case StatePending, StateReady:
			s.state[id] = StateSkipped
			skipped = append(skipped, d)
		}
		queue = append(queue, s.graph.Dependents(d)...)
	}

	sort.Slice(skipped, func(a, b int) bool {
		return skipped[a].Arrival < skipped[b].Arrival
	})
	return skipped
}

// handleAbort stops admission and marks the outputs of running jobs
// suspect so the next run rebuilds them even if partial files exist.
func (s *Scheduler) handleAbort(res *Result) {
	res.Aborted = true

	s.mu.Lock()
	var suspect []string
	for _, j := range s.graph.Jobs() {
		if s.state[j.ID()] == StateRunning {
			suspect = append(suspect, j.Outputs...)
		}
	}
	s.mu.Unlock()

	if len(suspect) == 0 {
		return
	}
	sort.Strings(suspect)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tracker.Store().MarkSuspect(ctx, suspect); err != nil {
		s.logger.Warn("failed to mark suspect outputs", zap.Error(err))
	}
	s.logger.Warn("run aborted; in-flight outputs marked suspect",
		zap.Int("outputs", len(suspect)))
}

// finalizeSkips marks jobs never started (abort, or dependency skipped)
// as skipped and tallies them.
func (s *Scheduler) finalizeSkips(res *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.state {
		if st == StatePending || st == StateReady {
			s.state[id] = StateSkipped
			s.reasons[id] = reasonAborted
			res.Skipped++
		}
	}
}

// recordSuccess writes provenance for each output of a succeeded job and
// applies output protection.
func (s *Scheduler) recordSuccess(ctx context.Context, j *graph.Job) error {
	stamps := make([]artifact.InputStamp, 0, len(j.Inputs))
	for _, in := range j.Inputs {
		info, err := os.Stat(in)
		if err != nil {
			// Temporary inputs may already be cleaned up.
			continue
		}
		stamps = append(stamps, artifact.InputStamp{Path: in, MTime: info.ModTime()})
	}

	now := time.Now()
	recs := make([]artifact.Record, 0, len(j.Outputs))
	for _, out := range j.Outputs {
		recs = append(recs, artifact.Record{
			Path:        out,
			RuleName:    j.Rule.Name,
			JobID:       j.ID(),
			RunID:       s.runID,
			BuiltAt:     now,
			Fingerprint: j.Rule.Fingerprint(),
			Temp:        j.Rule.Temp,
			Protected:   j.Rule.Protected,
			Inputs:      stamps,
		})
	}
	if err := s.tracker.Store().RecordOutputs(ctx, recs); err != nil {
		return err
	}

	if j.Rule.Protected {
		for _, out := range j.Outputs {
			if err := s.tracker.Protect(ctx, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// cleanupTemps decrements the consumer counts of the succeeded job's
// temporary inputs and deletes any that are fully consumed, plus the
// job's own unconsumed temporary outputs.
func (s *Scheduler) cleanupTemps(ctx context.Context, j *graph.Job) {
	targets := make(map[string]bool)
	for _, t := range s.graph.Targets() {
		targets[t] = true
	}

	s.mu.Lock()
	var removable []string
	for _, in := range j.Inputs {
		if n, ok := s.tempLeft[in]; ok {
			n--
			s.tempLeft[in] = n
			if n <= 0 && !targets[in] && s.producerSucceededLocked(in) {
				removable = append(removable, in)
				delete(s.tempLeft, in)
			}
		}
	}
	if j.Rule.Temp {
		for _, out := range j.Outputs {
			if n, ok := s.tempLeft[out]; ok && n <= 0 && !targets[out] {
				removable = append(removable, out)
				delete(s.tempLeft, out)
			}
		}
	}
	s.mu.Unlock()

	sort.Strings(removable)
	for _, path := range removable {
		if err := s.tracker.Cleanup(ctx, path); err != nil {
			s.logger.Warn("failed to clean temporary output",
				zap.String("path", path), zap.Error(err))
			continue
		}
		s.logger.Debug("removed temporary output", zap.String("path", path))
	}
}

func (s *Scheduler) producerSucceededLocked(path string) bool {
	p := s.graph.Producer(path)
	if p == nil {
		return false
	}
	return s.state[p.ID()] == StateSucceeded
}

func (s *Scheduler) writeSummary(ctx context.Context, res *Result) {
	_ = s.writer.WriteSummary(ctx, &report.SummaryRecord{
		Jobs:          res.Jobs,
		Succeeded:     res.Succeeded,
		Failed:        res.Failed,
		Skipped:       res.Skipped,
		Cached:        res.Cached,
		Duration:      res.Duration,
		DurationHuman: res.Duration.Round(time.Millisecond).String(),
	})
}

// Status returns a point-in-time snapshot of the run for the monitor.
func (s *Scheduler) Status() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := append([]*graph.Job(nil), s.graph.Jobs()...)
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].Arrival < jobs[b].Arrival })

	snap := &Snapshot{
		RunID:     s.runID,
		Targets:   s.graph.Targets(),
		StartedAt: s.startedAt,
		FreeCores: s.pool.FreeCores(),
		Counts:    make(map[JobState]int),
		Jobs:      make([]JobStatus, 0, len(jobs)),
	}
	for _, j := range jobs {
		st := s.state[j.ID()]
		snap.Counts[st]++
		snap.Jobs = append(snap.Jobs, JobStatus{
			ID:     j.ID(),
			Rule:   j.Rule.Name,
			State:  st,
			Reason: s.reasons[j.ID()],
		})
	}
	return snap
}

// errorRecord classifies a job failure for the event stream.
func errorRecord(j *graph.Job, err error) *report.ErrorRecord {
	rec := &report.ErrorRecord{
		Code:    report.ErrCodeInternal,
		Message: err.Error(),
		Rule:    j.Rule.Name,
		Job:     j.ID(),
	}

	var execErr *execute.ExecutionError
	var missingErr *execute.MissingOutputError
	var protErr *artifact.ProtectedOutputError
	switch {
	case errors.As(err, &execErr):
		rec.Code = report.ErrCodeExecution
	case errors.As(err, &missingErr):
		rec.Code = report.ErrCodeMissingOutput
		rec.Path = missingErr.Path
	case errors.As(err, &protErr):
		rec.Code = report.ErrCodeProtected
		rec.Path = protErr.Path
	}
	return rec
}

// touchOutputs refreshes output modification times without running the
// action. Missing outputs are created empty.
func touchOutputs(j *graph.Job) error {
	now := time.Now()
	for _, out := range j.Outputs {
		if _, err := os.Stat(out); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("stat output %s: %w", out, err)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("touch output %s: %w", out, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			continue
		}
		if err := os.Chtimes(out, now, now); err != nil {
			return fmt.Errorf("touch output %s: %w", out, err)
		}
	}
	return nil
}
