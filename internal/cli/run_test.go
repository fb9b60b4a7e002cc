package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobharness/internal/browser"
	"github.com/roach88/jobharness/internal/config"
	"github.com/roach88/jobharness/internal/testutil"
)

const marketURL = "http://market.test"

// failingLogin signs in as a seeker who never registered.
const failingLogin = `name: unregistered-login
description: "An unknown seeker cannot log in"
strategy: sequential
policy:
  timeout: 50ms
  interval: 2ms
actors:
  - name: seeker
    role: job_seeker
steps:
  - actor: seeker
    description: "Seeker logs in"
    actions:
      - kind: navigate
        route: /login
      - kind: fill
        locator: "label=Email"
        value: "{{.seeker.Email}}"
      - kind: fill
        locator: "label=Password"
        value: "{{.seeker.Password}}"
      - kind: click
        locator: "role=button:Login"
    expect:
      - kind: url
        pattern: "**/home"
`

type cliRun struct {
	cmd    *cobra.Command
	out    *bytes.Buffer
	errOut *bytes.Buffer
	market *testutil.Marketplace
	cfg    config.Config
}

func newTestRunCommand(t *testing.T, format string) *cliRun {
	t.Helper()
	r := &cliRun{
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
		market: testutil.NewMarketplace(marketURL),
	}
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: format},
		NewDriver: func(cfg config.Config, _ *slog.Logger) (browser.Driver, error) {
			r.cfg = cfg
			return r.market, nil
		},
		RunIDs: testutil.NewSequentialRunIDs("cli"),
	}
	r.cmd = newRunCommand(opts)
	r.cmd.SetOut(r.out)
	r.cmd.SetErr(r.errOut)
	return r
}

func (r *cliRun) execute(t *testing.T, args ...string) error {
	t.Helper()
	base := []string{
		"--base-url", marketURL,
		"--out", t.TempDir(),
		"--timeout", "300ms",
		"--interval", "2ms",
		"--seed", "7",
	}
	r.cmd.SetArgs(append(base, args...))
	return r.cmd.Execute()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_AllJourneysPass(t *testing.T) {
	r := newTestRunCommand(t, "text")

	err := r.execute(t)
	require.NoError(t, err, "stderr: %s", r.errOut.String())

	out := r.out.String()
	assert.Contains(t, out, "✓ employer-happy-path")
	assert.Contains(t, out, "✓ cross-role-application")
	assert.Contains(t, out, "✓ access-control")
	assert.Contains(t, out, "✓ employer-chat")
	assert.Contains(t, out, "Summary: 4 passed, 0 failed, 4 total")
	assert.Contains(t, out, "✓ All scenarios passed")
	assert.Equal(t, 4, r.market.JobCount())
}

func TestRun_NamedJourneysOnly(t *testing.T) {
	r := newTestRunCommand(t, "text")

	err := r.execute(t, "employer-happy-path")
	require.NoError(t, err)

	assert.Contains(t, r.out.String(), "Summary: 1 passed, 0 failed, 1 total")
	assert.NotContains(t, r.out.String(), "access-control")
}

func TestRun_JSONOutput(t *testing.T) {
	r := newTestRunCommand(t, "json")

	err := r.execute(t, "access-control")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(r.out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Results, 1)
	assert.Equal(t, "cli-0001", resp.Data.Results[0].RunID)
	assert.Equal(t, "access-control", resp.Data.Results[0].Scenario)
}

func TestRun_FailingScenarioFile(t *testing.T) {
	r := newTestRunCommand(t, "text")
	path := writeFile(t, "unregistered.yaml", failingLogin)

	err := r.execute(t, "--file", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 scenario(s) failed")

	out := r.out.String()
	assert.Contains(t, out, "✗ unregistered-login")
	assert.Contains(t, out, "step 1/1 (seeker) Seeker logs in: ASSERTION_TIMEOUT")
	assert.Contains(t, out, "url: "+marketURL+"/login")
	assert.Contains(t, out, "artifact: ")
	assert.Contains(t, out, "failure-step-01.png")
	assert.Contains(t, out, "Summary: 0 passed, 1 failed, 1 total")
}

func TestRun_FailingScenarioJSON(t *testing.T) {
	r := newTestRunCommand(t, "json")
	path := writeFile(t, "unregistered.yaml", failingLogin)

	err := r.execute(t, "-f", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(r.out.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeScenarioFailed, resp.Error.Code)
}

func TestRun_UnknownJourney(t *testing.T) {
	r := newTestRunCommand(t, "text")

	err := r.execute(t, "no-such-journey")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenarios")
	assert.Contains(t, err.Error(), "no-such-journey")
	assert.Equal(t, 0, r.market.PagesOpened())
}

func TestRun_InvalidConfiguration(t *testing.T) {
	r := newTestRunCommand(t, "text")

	err := r.execute(t, "--driver", "selenium")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRun_FlagsOverrideConfigFile(t *testing.T) {
	r := newTestRunCommand(t, "text")
	path := writeFile(t, "jobharness.yaml", `
base_url: http://staging.test
driver: chromedp
headless: false
timeout: 2s
interval: 100ms
`)

	// --base-url, --timeout and --interval come from execute's defaults.
	err := r.execute(t, "--config", path, "employer-happy-path")
	require.NoError(t, err)

	assert.Equal(t, marketURL, r.cfg.BaseURL)
	assert.Equal(t, config.DriverChromedp, r.cfg.Driver)
	assert.False(t, r.cfg.Headless)
	assert.Equal(t, "300ms", r.cfg.Timeout.String())
	assert.Equal(t, uint64(7), r.cfg.Seed)
}

func TestRun_MissingConfigFile(t *testing.T) {
	r := newTestRunCommand(t, "text")

	err := r.execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRun_DriverStartFailure(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := newRunCommand(&RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		NewDriver: func(config.Config, *slog.Logger) (browser.Driver, error) {
			return nil, errors.New("chromium not installed")
		},
	})
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--base-url", marketURL, "--out", t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to start browser")
	assert.Contains(t, err.Error(), "chromium not installed")
}

func TestLaunchDriver_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Driver = "webkit-remote"

	_, err := LaunchDriver(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "webkit-remote"`)
}

func TestSelectScenarios(t *testing.T) {
	cfg := config.Default()
	path := writeFile(t, "unregistered.yaml", failingLogin)

	t.Run("catalog by default", func(t *testing.T) {
		scenarios, err := selectScenarios(cfg, nil, nil)
		require.NoError(t, err)
		assert.Len(t, scenarios, 4)
	})

	t.Run("files only", func(t *testing.T) {
		scenarios, err := selectScenarios(cfg, nil, []string{path})
		require.NoError(t, err)
		require.Len(t, scenarios, 1)
		assert.Equal(t, "unregistered-login", scenarios[0].Name())
	})

	t.Run("names then files", func(t *testing.T) {
		scenarios, err := selectScenarios(cfg, []string{"access-control"}, []string{path})
		require.NoError(t, err)
		require.Len(t, scenarios, 2)
		assert.Equal(t, "access-control", scenarios[0].Name())
		assert.Equal(t, "unregistered-login", scenarios[1].Name())
	})

	t.Run("missing fixtures file", func(t *testing.T) {
		bad := cfg
		bad.Fixtures = filepath.Join(t.TempDir(), "nope.yaml")
		_, err := selectScenarios(bad, nil, nil)
		require.Error(t, err)
	})
}
