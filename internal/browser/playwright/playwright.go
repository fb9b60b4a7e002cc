// Package playwright drives Chromium through playwright-go.
//
// Every Page is backed by its own BrowserContext, which gives it separate
// cookies and storage. Playwright calls take millisecond timeouts instead of
// contexts, so each call derives its timeout from the caller's deadline.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/roach88/jobharness/internal/browser"
)

// defaultCallTimeout applies when the caller's context has no deadline.
const defaultCallTimeout = 30 * time.Second

// Options configures the driver.
type Options struct {
	Headless bool
	// SlowMo delays every operation, useful when watching a headed run.
	SlowMo time.Duration
	// InstallBrowsers downloads the driver and Chromium before launch.
	InstallBrowsers bool
	Logger          *slog.Logger
}

// Driver owns the playwright process and one Chromium instance.
type Driver struct {
	pw      *pw.Playwright
	browser pw.Browser
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Launch starts playwright and Chromium.
func Launch(opts Options) (*Driver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.InstallBrowsers {
		if err := pw.Install(&pw.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright browsers: %w", err)
		}
	}

	runtime, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launch := pw.BrowserTypeLaunchOptions{Headless: pw.Bool(opts.Headless)}
	if opts.SlowMo > 0 {
		launch.SlowMo = pw.Float(float64(opts.SlowMo.Milliseconds()))
	}
	b, err := runtime.Chromium.Launch(launch)
	if err != nil {
		_ = runtime.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	logger.Debug("playwright chromium launched", "headless", opts.Headless, "version", b.Version())
	return &Driver{pw: runtime, browser: b, logger: logger}, nil
}

// NewPage opens a new BrowserContext with a single page.
func (d *Driver) NewPage(ctx context.Context) (browser.Page, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, errors.New("playwright driver is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bctx, err := d.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &Page{bctx: bctx, page: page}, nil
}

// Close shuts Chromium and the playwright process down.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	if err := d.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := d.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

// Page adapts a playwright page to browser.Page.
type Page struct {
	bctx pw.BrowserContext
	page pw.Page
}

func timeoutMillis(ctx context.Context) *float64 {
	d := defaultCallTimeout
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
		if d < time.Millisecond {
			d = time.Millisecond
		}
	}
	return pw.Float(float64(d.Milliseconds()))
}

// locate maps a harness locator onto playwright's user-facing locators.
func (p *Page) locate(loc browser.Locator) (pw.Locator, error) {
	exact := pw.Bool(loc.Exact)
	switch loc.By {
	case browser.ByLabel:
		return p.page.GetByLabel(loc.Name, pw.PageGetByLabelOptions{Exact: exact}).First(), nil
	case browser.ByPlaceholder:
		return p.page.GetByPlaceholder(loc.Name, pw.PageGetByPlaceholderOptions{Exact: exact}).First(), nil
	case browser.ByRole:
		opts := pw.PageGetByRoleOptions{Exact: exact}
		if loc.Name != "" {
			opts.Name = loc.Name
		}
		return p.page.GetByRole(pw.AriaRole(loc.Role), opts).First(), nil
	case browser.ByText:
		return p.page.GetByText(loc.Name, pw.PageGetByTextOptions{Exact: exact}).First(), nil
	case browser.ByCSS:
		return p.page.Locator(loc.Name).First(), nil
	default:
		return nil, fmt.Errorf("unsupported locator strategy %q", loc.By)
	}
}

// Goto navigates and waits for the load event.
func (p *Page) Goto(ctx context.Context, url string) error {
	_, err := p.page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateLoad,
		Timeout:   timeoutMillis(ctx),
	})
	return err
}

// Visible checks the first match without waiting.
func (p *Page) Visible(ctx context.Context, loc browser.Locator) (bool, error) {
	l, err := p.locate(loc)
	if err != nil {
		return false, err
	}
	return l.IsVisible()
}

// Fill sets an input's value.
func (p *Page) Fill(ctx context.Context, loc browser.Locator, value string) error {
	l, err := p.locate(loc)
	if err != nil {
		return err
	}
	return l.Fill(value, pw.LocatorFillOptions{Timeout: timeoutMillis(ctx)})
}

// Click activates an element.
func (p *Page) Click(ctx context.Context, loc browser.Locator) error {
	l, err := p.locate(loc)
	if err != nil {
		return err
	}
	return l.Click(pw.LocatorClickOptions{Timeout: timeoutMillis(ctx)})
}

// Snapshot reads the URL and the body's rendered text.
func (p *Page) Snapshot(ctx context.Context) (browser.Snapshot, error) {
	snap := browser.Snapshot{URL: p.page.URL()}
	text, err := p.page.Locator("body").InnerText(pw.LocatorInnerTextOptions{Timeout: timeoutMillis(ctx)})
	if err != nil {
		return snap, fmt.Errorf("read body text: %w", err)
	}
	snap.Text = text
	return snap, nil
}

// Screenshot captures the full page as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Screenshot(pw.PageScreenshotOptions{
		FullPage: pw.Bool(true),
		Type:     pw.ScreenshotTypePng,
		Timeout:  timeoutMillis(ctx),
	})
}

// Close closes the browser context and with it the page.
func (p *Page) Close() error {
	return p.bctx.Close()
}
