package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/jobharness/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Ledger string
	Limit  int
	RunID  string
}

// RunRecord is one ledger run as printed by history.
type RunRecord struct {
	ID         string    `json:"id"`
	Scenario   string    `json:"scenario"`
	Strategy   string    `json:"strategy"`
	State      string    `json:"state"`
	BaseURL    string    `json:"base_url,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Events     int64     `json:"events"`

	FailedStep     int    `json:"failed_step,omitempty"`
	FailureKind    string `json:"failure_kind,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
	Artifact       string `json:"artifact,omitempty"`
}

// StepRecord is one step event of a run.
type StepRecord struct {
	Seq         int64  `json:"seq"`
	Step        int    `json:"step"`
	Actor       string `json:"actor"`
	Description string `json:"description"`
	Outcome     string `json:"outcome"`
	Detail      string `json:"detail,omitempty"`
}

// RunDetail is a run with its step events.
type RunDetail struct {
	Run   RunRecord    `json:"run"`
	Steps []StepRecord `json:"steps"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [scenario]",
		Short: "Show recorded runs",
		Long: `Show runs recorded with "jobharness run --ledger".

Without --run, lists runs newest first, optionally for one scenario.
With --run, prints that run's step-by-step trace.

Examples:
  jobharness history --ledger runs.db
  jobharness history --ledger runs.db employer-chat --limit 5
  jobharness history --ledger runs.db --run 0192f1c4-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario := ""
			if len(args) == 1 {
				scenario = args[0]
			}
			return showHistory(opts, scenario, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "path to the SQLite ledger (required)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum runs to list (0 = all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show the step trace of one run")
	_ = cmd.MarkFlagRequired("ledger")

	return cmd
}

func showHistory(opts *HistoryOptions, scenario string, cmd *cobra.Command) error {
	// Opening would create an empty ledger; a typo should fail instead.
	if _, err := os.Stat(opts.Ledger); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("ledger not found: %s", opts.Ledger), err)
	}
	st, err := store.Open(opts.Ledger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.RunID != "" {
		run, err := st.ReadRun(ctx, opts.RunID)
		if errors.Is(err, store.ErrNotFound) {
			msg := fmt.Sprintf("run %q not found", opts.RunID)
			if out.JSON() {
				_ = out.Error(CodeNotFound, msg, nil)
			}
			return NewExitError(ExitCommandError, msg)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		events, err := st.ReadStepEvents(ctx, run.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		detail := RunDetail{Run: toRunRecord(run, int64(len(events))), Steps: make([]StepRecord, 0, len(events))}
		for _, ev := range events {
			detail.Steps = append(detail.Steps, StepRecord{
				Seq:         ev.Seq,
				Step:        ev.Step,
				Actor:       ev.Actor,
				Description: ev.Description,
				Outcome:     ev.Outcome,
				Detail:      ev.Detail,
			})
		}
		if out.JSON() {
			return out.Success(detail)
		}
		return writeRunDetail(cmd, detail)
	}

	runs, err := st.ListRuns(ctx, scenario, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	records := make([]RunRecord, 0, len(runs))
	for _, run := range runs {
		n, err := st.LastSeq(ctx, run.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		records = append(records, toRunRecord(run, n))
	}

	if out.JSON() {
		return out.Success(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSCENARIO\tSTATE\tSTARTED\tFAILURE")
	for _, r := range records {
		failure := ""
		if r.FailedStep > 0 {
			failure = fmt.Sprintf("step %d %s", r.FailedStep, r.FailureKind)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Scenario, r.State, r.StartedAt.Format(time.RFC3339), failure)
	}
	return tw.Flush()
}

func toRunRecord(run store.Run, events int64) RunRecord {
	return RunRecord{
		ID:             run.ID,
		Scenario:       run.Scenario,
		Strategy:       run.Strategy,
		State:          run.State,
		BaseURL:        run.BaseURL,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		Events:         events,
		FailedStep:     run.FailedStep,
		FailureKind:    run.FailureKind,
		FailureMessage: run.FailureMessage,
		Artifact:       run.Artifact,
	}
}

func writeRunDetail(cmd *cobra.Command, d RunDetail) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "run:      %s\n", d.Run.ID)
	fmt.Fprintf(w, "scenario: %s (%s)\n", d.Run.Scenario, d.Run.Strategy)
	fmt.Fprintf(w, "state:    %s\n", d.Run.State)
	if d.Run.BaseURL != "" {
		fmt.Fprintf(w, "target:   %s\n", d.Run.BaseURL)
	}
	if d.Run.FailedStep > 0 {
		fmt.Fprintf(w, "failure:  step %d %s: %s\n", d.Run.FailedStep, d.Run.FailureKind, d.Run.FailureMessage)
	}
	if d.Run.Artifact != "" {
		fmt.Fprintf(w, "artifact: %s\n", d.Run.Artifact)
	}
	fmt.Fprintln(w, "trace:")
	for _, s := range d.Steps {
		line := fmt.Sprintf("  %04d step=%02d actor=%s %s: %s", s.Seq, s.Step, s.Actor, s.Outcome, s.Description)
		if s.Detail != "" {
			line += " [" + s.Detail + "]"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
