// Package config handles the harness configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/jobharness/internal/wait"
)

// Browser backends.
const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
)

// Defaults.
const (
	DefaultBaseURL   = "http://localhost:5173"
	DefaultOutputDir = "artifacts"
	DefaultDriver    = DriverPlaywright
)

// Config is the root configuration structure.
//
// Every field can also be set from the command line; flags win over the file.
type Config struct {
	// BaseURL is where the application under test is served.
	BaseURL string `yaml:"base_url"`

	// OutputDir receives checkpoint and failure screenshots.
	OutputDir string `yaml:"output_dir"`

	Driver   string `yaml:"driver"`
	Headless bool   `yaml:"headless"`

	// ExecPath overrides browser discovery for the chromedp driver.
	ExecPath string `yaml:"exec_path,omitempty"`

	// InstallBrowsers downloads the playwright driver and Chromium first.
	InstallBrowsers bool `yaml:"install_browsers,omitempty"`

	// Timeout and Interval bound every wait.
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`

	// Seed makes generated identities reproducible. Zero means random.
	Seed uint64 `yaml:"seed,omitempty"`

	// Fixtures replaces the embedded journey fixtures.
	Fixtures string `yaml:"fixtures,omitempty"`

	// Ledger is a SQLite file that keeps run history. Empty keeps no history.
	Ledger string `yaml:"ledger,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	p := wait.DefaultPolicy()
	return Config{
		BaseURL:   DefaultBaseURL,
		OutputDir: DefaultOutputDir,
		Driver:    DefaultDriver,
		Headless:  true,
		Timeout:   p.Timeout,
		Interval:  p.Interval,
	}
}

// Load reads a YAML configuration file on top of the defaults. Keys absent
// from the file keep their default values; unknown keys are an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of the defaults and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if c.BaseURL == "" {
		errs = append(errs, fmt.Errorf("base_url is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url %q must be an absolute URL", c.BaseURL))
	}
	if c.OutputDir == "" {
		errs = append(errs, fmt.Errorf("output_dir is required"))
	}
	switch c.Driver {
	case DriverPlaywright, DriverChromedp:
	default:
		errs = append(errs, fmt.Errorf("driver %q must be %s or %s", c.Driver, DriverPlaywright, DriverChromedp))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive"))
	} else if c.Timeout > 0 && c.Interval > c.Timeout {
		errs = append(errs, fmt.Errorf("interval %s exceeds timeout %s", c.Interval, c.Timeout))
	}

	return errors.Join(errs...)
}

// Policy returns the wait policy the configuration describes.
func (c Config) Policy() wait.Policy {
	return wait.Policy{Timeout: c.Timeout, Interval: c.Interval}
}
