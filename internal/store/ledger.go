package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Step event outcomes.
const (
	OutcomeStarted = "started"
	OutcomePassed  = "passed"
	OutcomeFailed  = "failed"
)

// Run is one recorded scenario execution.
type Run struct {
	ID         string
	Scenario   string
	Strategy   string
	State      string
	StartedAt  time.Time
	FinishedAt time.Time

	// BaseURL is the deployment the run exercised.
	BaseURL string

	// FailedStep is the 1-based index of the failing step, 0 when none failed.
	FailedStep     int
	FailureKind    string
	FailureMessage string
	Artifact       string
}

// StepEvent is one step transition within a run.
type StepEvent struct {
	RunID       string
	Seq         int64
	Step        int
	Actor       string
	Description string
	Outcome     string
	Detail      string
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// BeginRun inserts a run record. Writing the same run ID twice is an error.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("begin run: id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, strategy, state, started_at, base_url)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Scenario,
		run.Strategy,
		run.State,
		formatTime(run.StartedAt),
		run.BaseURL,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun records the terminal state of a run along with its failure, if any.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET state = ?, finished_at = ?, failed_step = ?, failure_kind = ?, failure_message = ?, artifact = ?
		WHERE id = ?
	`,
		run.State,
		formatTime(run.FinishedAt),
		run.FailedStep,
		run.FailureKind,
		run.FailureMessage,
		run.Artifact,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// WriteStepEvent appends a step transition. Uses ON CONFLICT DO NOTHING so a
// retried write with the same (run_id, seq) is silently ignored.
func (s *Store) WriteStepEvent(ctx context.Context, ev StepEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_events (run_id, seq, step, actor, description, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		ev.RunID,
		ev.Seq,
		ev.Step,
		ev.Actor,
		ev.Description,
		ev.Outcome,
		ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("write step event: %w", err)
	}
	return nil
}

const runColumns = `id, scenario, strategy, state, started_at, finished_at, failed_step, failure_kind, failure_message, artifact, base_url`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var started, finished string
	err := row.Scan(
		&run.ID,
		&run.Scenario,
		&run.Strategy,
		&run.State,
		&started,
		&finished,
		&run.FailedStep,
		&run.FailureKind,
		&run.FailureMessage,
		&run.Artifact,
		&run.BaseURL,
	)
	if err != nil {
		return Run{}, err
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return run, nil
}

// ReadRun returns a single run by ID.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first. An empty scenario lists every scenario;
// limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, scenario string, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if scenario != "" {
		query += ` WHERE scenario = ?`
		args = append(args, scenario)
	}
	query += ` ORDER BY started_at DESC, id COLLATE BINARY DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ReadStepEvents returns a run's step events in seq order.
func (s *Store) ReadStepEvents(ctx context.Context, runID string) ([]StepEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, step, actor, description, outcome, detail
		FROM step_events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read step events: %w", err)
	}
	defer rows.Close()

	events := []StepEvent{}
	for rows.Next() {
		var ev StepEvent
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Step, &ev.Actor, &ev.Description, &ev.Outcome, &ev.Detail); err != nil {
			return nil, fmt.Errorf("read step events: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read step events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest seq recorded for a run, or 0 for none.
func (s *Store) LastSeq(ctx context.Context, runID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM step_events WHERE run_id = ?`, runID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}
