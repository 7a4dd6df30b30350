package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InputStamp is the recorded modification time of one input at build time.
type InputStamp struct {
	Path  string
	MTime time.Time
}

// Record is the provenance record for a single built output.
type Record struct {
	Path        string
	RuleName    string
	JobID       string
	RunID       string
	BuiltAt     time.Time
	Fingerprint string
	Temp        bool
	Protected   bool
	Suspect     bool
	Inputs      []InputStamp
}

// RecordOutputs stores one artifact record per output of a completed job,
// replacing any previous record for the same path, in one transaction.
func (s *Store) RecordOutputs(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert, err := tx.PrepareContext(ctx,
		`INSERT INTO artifacts
		 (path, rule_name, job_id, run_id, built_at, fingerprint, temp, protected, suspect)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(path) DO UPDATE SET
		   rule_name = excluded.rule_name,
		   job_id = excluded.job_id,
		   run_id = excluded.run_id,
		   built_at = excluded.built_at,
		   fingerprint = excluded.fingerprint,
		   temp = excluded.temp,
		   protected = excluded.protected,
		   suspect = 0`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = upsert.Close() }()

	for _, rec := range recs {
		if _, err := upsert.ExecContext(ctx,
			rec.Path, rec.RuleName, rec.JobID, rec.RunID,
			formatDBTime(rec.BuiltAt), rec.Fingerprint,
			boolToInt(rec.Temp), boolToInt(rec.Protected)); err != nil {
			return fmt.Errorf("upsert artifact %s: %w", rec.Path, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM artifact_inputs WHERE path = ?`, rec.Path); err != nil {
			return fmt.Errorf("clear inputs for %s: %w", rec.Path, err)
		}
		for _, in := range rec.Inputs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO artifact_inputs (path, input_path, mtime) VALUES (?, ?, ?)`,
				rec.Path, in.Path, formatDBTime(in.MTime)); err != nil {
				return fmt.Errorf("insert input %s for %s: %w", in.Path, rec.Path, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit artifact tx: %w", err)
	}
	return nil
}

// Get returns the record for path, or nil if none exists.
func (s *Store) Get(ctx context.Context, path string) (*Record, error) {
	var (
		rec          Record
		builtAtRaw   string
		temp         int
		protectedInt int
		suspect      int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT path, rule_name, job_id, run_id, built_at, fingerprint, temp, protected, suspect
		 FROM artifacts WHERE path = ?`, path).Scan(
		&rec.Path, &rec.RuleName, &rec.JobID, &rec.RunID,
		&builtAtRaw, &rec.Fingerprint, &temp, &protectedInt, &suspect)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", path, err)
	}

	rec.BuiltAt, err = parseDBTime(builtAtRaw)
	if err != nil {
		return nil, err
	}
	rec.Temp = temp != 0
	rec.Protected = protectedInt != 0
	rec.Suspect = suspect != 0

	rows, err := s.db.QueryContext(ctx,
		`SELECT input_path, mtime FROM artifact_inputs WHERE path = ? ORDER BY input_path`, path)
	if err != nil {
		return nil, fmt.Errorf("get artifact inputs %s: %w", path, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			stamp    InputStamp
			mtimeRaw string
		)
		if err := rows.Scan(&stamp.Path, &mtimeRaw); err != nil {
			return nil, fmt.Errorf("scan artifact input: %w", err)
		}
		stamp.MTime, err = parseDBTime(mtimeRaw)
		if err != nil {
			return nil, err
		}
		rec.Inputs = append(rec.Inputs, stamp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifact inputs: %w", err)
	}

	return &rec, nil
}

// Delete removes the record for path (cascades to its input stamps).
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifact_inputs WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete artifact inputs %s: %w", path, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete artifact %s: %w", path, err)
	}
	return nil
}

// MarkSuspect flags outputs whose producing job was interrupted. Suspect
// artifacts are always treated as stale and never trusted as fresh.
func (s *Store) MarkSuspect(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, path := range paths {
		if _, err := tx.ExecContext(ctx,
			`UPDATE artifacts SET suspect = 1 WHERE path = ?`, path); err != nil {
			return fmt.Errorf("mark suspect %s: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit suspect tx: %w", err)
	}
	return nil
}

// RunStatus values persisted in the runs table.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusAborted = "aborted"
)

// StartRun records the beginning of a run.
func (s *Store) StartRun(ctx context.Context, runID string, targets []string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, status, targets) VALUES (?, ?, ?, ?)`,
		runID, formatDBTime(startedAt), RunStatusRunning, strings.Join(targets, " "))
	if err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ? WHERE run_id = ?`,
		status, formatDBTime(endedAt), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// Stats summarizes the store contents for the status command.
type Stats struct {
	Artifacts int64
	Suspect   int64
	Protected int64
	Runs      int64
	LastRunID string
	LastRunAt *time.Time
}

// GetStats returns aggregate store statistics.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(suspect), 0),
		        COALESCE(SUM(protected), 0)
		 FROM artifacts`).Scan(&st.Artifacts, &st.Suspect, &st.Protected); err != nil {
		return nil, fmt.Errorf("count artifacts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&st.Runs); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	var (
		runID     sql.NullString
		startedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, started_at FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&runID, &startedAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("last run: %w", err)
	}
	if runID.Valid {
		st.LastRunID = runID.String
	}
	if startedAt.Valid {
		t, err := parseDBTime(startedAt.String)
		if err != nil {
			return nil, err
		}
		st.LastRunAt = &t
	}

	return &st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
