// Package scheduler admits build jobs onto a bounded resource pool and
// drives them to completion.
//
// The scheduler owns the per-job state machine, the admission order, and
// failure propagation. It observes job execution only through the Runner
// interface and records provenance through the artifact tracker.
package scheduler

import "fmt"

// JobState is the lifecycle state of a job within a run.
type JobState string

const (
	// StatePending means one or more dependencies have not finished.
	StatePending JobState = "pending"

	// StateReady means all dependencies succeeded and the job is waiting
	// for resources.
	StateReady JobState = "ready"

	// StateRunning means the job's action has been started.
	StateRunning JobState = "running"

	// StateSucceeded means the action exited zero and all declared
	// outputs exist.
	StateSucceeded JobState = "succeeded"

	// StateFailed means the action failed, an output is missing, or the
	// job was rejected before it could start (e.g. a protected output).
	StateFailed JobState = "failed"

	// StateSkipped means a transitive dependency failed, or the run was
	// aborted before the job started.
	StateSkipped JobState = "skipped"

	// StateCached means every output was already up to date and the job
	// was never scheduled.
	StateCached JobState = "cached"
)

// IsTerminal reports whether the state is terminal (finished).
func IsTerminal(s JobState) bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped, StateCached:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s JobState) bool {
	switch s {
	case StateSucceeded, StateCached:
		return true
	default:
		return false
	}
}

// transition performs a validated state change for a single job.
//
// The caller supplies the expected prior state (from) to make races
// observable. The state map is mutated only when the transition is valid.
func transition(state map[string]JobState, jobID string, from, to JobState) error {
	cur, ok := state[jobID]
	if !ok {
		return fmt.Errorf("unknown job in state: %q", jobID)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", jobID, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", jobID, from, to)
	}
	state[jobID] = to
	return nil
}

func isAllowedTransition(from, to JobState) bool {
	switch from {
	case StatePending:
		return to == StateReady || to == StateCached || to == StateSkipped || to == StateFailed
	case StateReady:
		return to == StateRunning || to == StateSkipped
	case StateRunning:
		return to == StateSucceeded || to == StateFailed
	default:
		return false
	}
}
