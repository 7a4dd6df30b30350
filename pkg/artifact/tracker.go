package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"
)

// ProtectedOutputError is returned when a job would overwrite an existing
// output that was marked protected by a previous successful build.
type ProtectedOutputError struct {
	Path string
	Rule string
}

func (e *ProtectedOutputError) Error() string {
	return fmt.Sprintf("output %q is protected (produced by rule %s); refusing to overwrite without --force-all", e.Path, e.Rule)
}

// Staleness reasons reported by IsStale and shown in dry-run output.
const (
	ReasonMissingOutput = "missing output"
	ReasonStaleInput    = "input newer than output"
	ReasonInputSet      = "input set changed"
	ReasonNoRecord      = "no provenance record"
	ReasonRuleChanged   = "rule definition changed"
	ReasonSuspect       = "output marked suspect"
	ReasonForced        = "forced"
	ReasonFresh         = ""
)

// Tracker layers filesystem checks over the sidecar store to answer
// staleness, protection, and cleanup questions for a run.
type Tracker struct {
	store *Store

	// Stat is overridable for tests; defaults to os.Stat.
	Stat func(path string) (os.FileInfo, error)
}

// NewTracker creates a tracker over an open store.
func NewTracker(store *Store) *Tracker {
	return &Tracker{store: store, Stat: os.Stat}
}

// Store exposes the underlying sidecar store.
func (t *Tracker) Store() *Store { return t.store }

// IsStale reports whether the output at path must be rebuilt, and why.
//
// An output is fresh only when all of the following hold:
//   - the file exists
//   - a provenance record exists and is not suspect
//   - the producing rule's fingerprint is unchanged
//   - the recorded input set matches the job's current inputs
//   - no input's modification time is newer than the recorded build time
func (t *Tracker) IsStale(ctx context.Context, path string, inputs []string, fingerprint string) (bool, string, error) {
	if _, err := t.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return true, ReasonMissingOutput, nil
		}
		return false, "", fmt.Errorf("stat output %s: %w", path, err)
	}

	rec, err := t.store.Get(ctx, path)
	if err != nil {
		return false, "", err
	}
	if rec == nil {
		return true, ReasonNoRecord, nil
	}
	if rec.Suspect {
		return true, ReasonSuspect, nil
	}
	if rec.Fingerprint != fingerprint {
		return true, ReasonRuleChanged, nil
	}

	recorded := make(map[string]time.Time, len(rec.Inputs))
	for _, in := range rec.Inputs {
		recorded[in.Path] = in.MTime
	}
	if len(recorded) != len(inputs) {
		return true, ReasonInputSet, nil
	}

	sorted := append([]string(nil), inputs...)
	sort.Strings(sorted)
	for _, input := range sorted {
		recMTime, ok := recorded[input]
		if !ok {
			return true, ReasonInputSet, nil
		}
		info, err := t.Stat(input)
		if err != nil {
			if os.IsNotExist(err) {
				// Input vanished; the producer chain will rebuild it.
				return true, ReasonStaleInput, nil
			}
			return false, "", fmt.Errorf("stat input %s: %w", input, err)
		}
		if info.ModTime().After(rec.BuiltAt) || info.ModTime().After(recMTime) {
			return true, ReasonStaleInput, nil
		}
	}

	return false, ReasonFresh, nil
}

// CheckProtected fails with ProtectedOutputError if path exists and its
// record marks it protected. Called before (re)scheduling a producer.
func (t *Tracker) CheckProtected(ctx context.Context, path string) error {
	if _, err := t.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat output %s: %w", path, err)
	}
	rec, err := t.store.Get(ctx, path)
	if err != nil {
		return err
	}
	if rec != nil && rec.Protected {
		return &ProtectedOutputError{Path: path, Rule: rec.RuleName}
	}
	return nil
}

// Protect marks a successfully produced output read-only on disk and in
// the store.
func (t *Tracker) Protect(ctx context.Context, path string) error {
	if err := os.Chmod(path, 0o444); err != nil {
		return fmt.Errorf("protect %s: %w", path, err)
	}
	if _, err := t.store.db.ExecContext(ctx,
		`UPDATE artifacts SET protected = 1 WHERE path = ?`, path); err != nil {
		return fmt.Errorf("mark protected %s: %w", path, err)
	}
	return nil
}

// Unprotect restores write permission and clears the protected flag.
// Used by forced rebuilds of protected outputs.
func (t *Tracker) Unprotect(ctx context.Context, path string) error {
	if err := os.Chmod(path, 0o644); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unprotect %s: %w", path, err)
	}
	if _, err := t.store.db.ExecContext(ctx,
		`UPDATE artifacts SET protected = 0 WHERE path = ?`, path); err != nil {
		return fmt.Errorf("clear protected %s: %w", path, err)
	}
	return nil
}

// Cleanup deletes a temporary-flagged output and its record. Invoked by
// the scheduler once all consumers of the output have succeeded.
func (t *Tracker) Cleanup(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temporary output %s: %w", path, err)
	}
	return t.store.Delete(ctx, path)
}
