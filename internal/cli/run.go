package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/jobharness/internal/artifact"
	"github.com/roach88/jobharness/internal/browser"
	"github.com/roach88/jobharness/internal/browser/cdp"
	"github.com/roach88/jobharness/internal/browser/playwright"
	"github.com/roach88/jobharness/internal/config"
	"github.com/roach88/jobharness/internal/harness"
	"github.com/roach88/jobharness/internal/identity"
	"github.com/roach88/jobharness/internal/journeys"
	"github.com/roach88/jobharness/internal/store"
)

// DriverFactory starts the browser backend cfg names.
type DriverFactory func(cfg config.Config, logger *slog.Logger) (browser.Driver, error)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	Files      []string

	// flags receives flag values; only flags the user set override the
	// config file.
	flags config.Config

	// NewDriver overrides browser startup (for testing).
	// If nil, defaults to LaunchDriver.
	NewDriver DriverFactory

	// RunIDs overrides the run ID generator (for testing).
	RunIDs harness.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "run [journey...]",
		Short: "Run journeys against the application",
		Long: `Run journeys against a live instance of the job marketplace.

With no arguments every bundled journey runs, in catalog order. Name
journeys to run a subset, or pass scenario files with --file.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (bad config, browser failed to start, etc.)

Examples:
  jobharness run
  jobharness run employer-happy-path access-control --base-url http://localhost:5173
  jobharness run --file ./scenarios/seeker-signup.yaml --driver chromedp
  jobharness run --config jobharness.yaml --ledger runs.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJourneys(opts, args, cmd)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	fl.StringArrayVarP(&opts.Files, "file", "f", nil, "scenario file to run (repeatable)")
	fl.StringVar(&opts.flags.BaseURL, "base-url", def.BaseURL, "application base URL")
	fl.StringVarP(&opts.flags.OutputDir, "out", "o", def.OutputDir, "artifact output directory")
	fl.StringVar(&opts.flags.Driver, "driver", def.Driver, "browser backend (playwright|chromedp)")
	fl.BoolVar(&opts.flags.Headless, "headless", def.Headless, "run the browser headless")
	fl.StringVar(&opts.flags.ExecPath, "exec-path", "", "browser executable (chromedp)")
	fl.BoolVar(&opts.flags.InstallBrowsers, "install-browsers", false, "install playwright browsers before running")
	fl.DurationVar(&opts.flags.Timeout, "timeout", def.Timeout, "maximum wait per action or assertion")
	fl.DurationVar(&opts.flags.Interval, "interval", def.Interval, "poll interval")
	fl.Uint64Var(&opts.flags.Seed, "seed", 0, "identity seed for reproducible runs (0 = random)")
	fl.StringVar(&opts.flags.Fixtures, "fixtures", "", "fixtures file replacing the embedded one")
	fl.StringVar(&opts.flags.Ledger, "ledger", "", "SQLite file recording run history")

	return cmd
}

// resolveConfig layers defaults, the config file and explicitly set flags.
func (o *RunOptions) resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	fl := cmd.Flags()
	set := func(name string, apply func()) {
		if fl.Changed(name) {
			apply()
		}
	}
	set("base-url", func() { cfg.BaseURL = o.flags.BaseURL })
	set("out", func() { cfg.OutputDir = o.flags.OutputDir })
	set("driver", func() { cfg.Driver = o.flags.Driver })
	set("headless", func() { cfg.Headless = o.flags.Headless })
	set("exec-path", func() { cfg.ExecPath = o.flags.ExecPath })
	set("install-browsers", func() { cfg.InstallBrowsers = o.flags.InstallBrowsers })
	set("timeout", func() { cfg.Timeout = o.flags.Timeout })
	set("interval", func() { cfg.Interval = o.flags.Interval })
	set("seed", func() { cfg.Seed = o.flags.Seed })
	set("fixtures", func() { cfg.Fixtures = o.flags.Fixtures })
	set("ledger", func() { cfg.Ledger = o.flags.Ledger })

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runJourneys(opts *RunOptions, names []string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := opts.resolveConfig(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	scenarios, err := selectScenarios(cfg, names, opts.Files)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}
	logger.Info("scenarios selected", "count", len(scenarios), "base_url", cfg.BaseURL)

	runnerOpts := []harness.Option{
		harness.WithBaseURL(cfg.BaseURL),
		harness.WithPolicy(cfg.Policy()),
		harness.WithCollector(artifact.NewCollector(cfg.OutputDir, logger)),
		harness.WithLogger(logger),
	}
	if cfg.Seed != 0 {
		runnerOpts = append(runnerOpts, harness.WithGenerator(identity.NewSeededGenerator(cfg.Seed)))
	}
	if opts.RunIDs != nil {
		runnerOpts = append(runnerOpts, harness.WithRunIDs(opts.RunIDs))
	}

	if cfg.Ledger != "" {
		st, err := store.Open(cfg.Ledger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open ledger", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing ledger", "error", closeErr)
			}
		}()
		runnerOpts = append(runnerOpts, harness.WithLedger(st))
	}

	newDriver := opts.NewDriver
	if newDriver == nil {
		newDriver = LaunchDriver
	}
	driver, err := newDriver(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start browser", err)
	}
	defer func() {
		if closeErr := driver.Close(); closeErr != nil {
			logger.Error("error closing browser", "error", closeErr)
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping after current step", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runner := harness.NewRunner(driver, runnerOpts...)
	report, runErr := runner.RunAll(ctx, scenarios...)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
	if err := writeReport(out, report); err != nil {
		return err
	}
	if runErr != nil {
		return WrapExitError(ExitCommandError, "run aborted", runErr)
	}
	if !report.Passed() {
		_, failed := report.Counts()
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", failed))
	}
	return nil
}

// LaunchDriver starts the configured browser backend.
func LaunchDriver(cfg config.Config, logger *slog.Logger) (browser.Driver, error) {
	switch cfg.Driver {
	case config.DriverChromedp:
		d, err := cdp.Launch(cdp.Options{Headless: cfg.Headless, ExecPath: cfg.ExecPath, Logger: logger})
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.DriverPlaywright:
		d, err := playwright.Launch(playwright.Options{
			Headless:        cfg.Headless,
			InstallBrowsers: cfg.InstallBrowsers,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

// selectScenarios resolves journey names and scenario files. With neither,
// the whole catalog runs.
func selectScenarios(cfg config.Config, names, files []string) ([]*harness.Scenario, error) {
	var out []*harness.Scenario

	if len(names) > 0 || len(files) == 0 {
		set := journeys.Default()
		if cfg.Fixtures != "" {
			loaded, err := journeys.Load(cfg.Fixtures)
			if err != nil {
				return nil, err
			}
			set = loaded
		}
		built, err := journeys.Build(set, names...)
		if err != nil {
			return nil, err
		}
		out = append(out, built...)
	}

	for _, path := range files {
		sc, err := harness.LoadScenario(path)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// RunSummary is the JSON payload of the run command.
type RunSummary struct {
	Results []*harness.Result `json:"results"`
	Passed  int               `json:"passed"`
	Failed  int               `json:"failed"`
	Total   int               `json:"total"`
}

func writeReport(out *OutputFormatter, report *harness.Report) error {
	passed, failed := report.Counts()
	summary := RunSummary{Results: report.Results, Passed: passed, Failed: failed, Total: len(report.Results)}

	if out.JSON() {
		if failed > 0 {
			return out.Failure(summary, CodeScenarioFailed, fmt.Sprintf("%d scenario(s) failed", failed))
		}
		return out.Success(summary)
	}

	w := out.Writer
	for _, res := range report.Results {
		writeResult(w, res)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary: %d passed, %d failed, %d total\n", passed, failed, summary.Total)
	if failed == 0 && summary.Total > 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
	return nil
}

func writeResult(w io.Writer, res *harness.Result) {
	if res.Passed() {
		fmt.Fprintf(w, "✓ %s (%d steps, %s)\n", res.Scenario, res.StepsTotal, res.Duration().Round(time.Millisecond))
		return
	}

	fmt.Fprintf(w, "✗ %s\n", res.Scenario)
	f := res.Failure
	if f == nil {
		return
	}
	fmt.Fprintf(w, "  step %d/%d (%s) %s: %s\n", f.Index, res.StepsTotal, f.Actor, f.Description, f.Kind)
	fmt.Fprintf(w, "  %s\n", f.Message)
	if f.Observed.URL != "" {
		fmt.Fprintf(w, "  url: %s\n", f.Observed.URL)
	}
	if f.Artifact != "" {
		fmt.Fprintf(w, "  artifact: %s\n", f.Artifact)
	}
}
