// Package cdp drives Chrome over the DevTools protocol with chromedp.
//
// It is the dependency-light alternative to the playwright backend: no
// driver process, just a Chrome binary. User-facing locators (label, role,
// text) are resolved in the page by a small script that tags the match with
// a data attribute, after which ordinary chromedp query actions take over.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chromedp/chromedp"

	"github.com/roach88/jobharness/internal/browser"
)

// refAttr is the attribute the locator script stamps on resolved elements.
const refAttr = "data-harness-ref"

// Options configures the driver.
type Options struct {
	Headless bool
	// ExecPath overrides Chrome discovery.
	ExecPath string
	Logger   *slog.Logger
}

// Driver owns one Chrome process.
type Driver struct {
	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	logger        *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Launch starts Chrome.
func Launch(opts Options) (*Driver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(1280, 900),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// The first Run on a fresh context starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	logger.Debug("chrome launched", "headless", opts.Headless)
	return &Driver{
		allocCtx:      allocCtx,
		cancelAlloc:   cancelAlloc,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		logger:        logger,
	}, nil
}

// NewPage opens a tab inside a new browser context so storage is isolated.
func (d *Driver) NewPage(ctx context.Context) (browser.Page, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, errors.New("chromedp driver is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Page{tabCtx: tabCtx, cancel: cancel}, nil
}

// Close terminates Chrome.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.cancelBrowser()
	d.cancelAlloc()
	return nil
}

// Page is one tab in its own browser context.
type Page struct {
	tabCtx context.Context
	cancel context.CancelFunc
	seq    atomic.Int64
	closed atomic.Bool
}

// bound derives a chromedp context from the tab that also honours the
// caller's deadline and cancellation.
func (p *Page) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.tabCtx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(p.tabCtx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Goto navigates and waits for the document body.
func (p *Page) Goto(ctx context.Context, url string) error {
	runCtx, cancel := p.bound(ctx)
	defer cancel()
	return chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// resolve tags the first visible match of loc and returns a CSS selector for it.
// An empty selector means nothing matched.
func (p *Page) resolve(ctx context.Context, loc browser.Locator) (string, error) {
	ref := fmt.Sprintf("r%d", p.seq.Add(1))
	script, err := locatorScript(loc, ref)
	if err != nil {
		return "", err
	}

	var found bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return "", fmt.Errorf("resolve %s: %w", loc, err)
	}
	if !found {
		return "", nil
	}
	return fmt.Sprintf(`[%s=%q]`, refAttr, ref), nil
}

// Visible reports whether loc resolves to a visible element.
func (p *Page) Visible(ctx context.Context, loc browser.Locator) (bool, error) {
	runCtx, cancel := p.bound(ctx)
	defer cancel()
	sel, err := p.resolve(runCtx, loc)
	if err != nil {
		return false, err
	}
	return sel != "", nil
}

// Fill clears the input and types value so framework change handlers fire.
func (p *Page) Fill(ctx context.Context, loc browser.Locator, value string) error {
	runCtx, cancel := p.bound(ctx)
	defer cancel()
	sel, err := p.resolve(runCtx, loc)
	if err != nil {
		return err
	}
	if sel == "" {
		return fmt.Errorf("no element matches %s", loc)
	}
	return chromedp.Run(runCtx,
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
}

// Click clicks the resolved element.
func (p *Page) Click(ctx context.Context, loc browser.Locator) error {
	runCtx, cancel := p.bound(ctx)
	defer cancel()
	sel, err := p.resolve(runCtx, loc)
	if err != nil {
		return err
	}
	if sel == "" {
		return fmt.Errorf("no element matches %s", loc)
	}
	return chromedp.Run(runCtx, chromedp.Click(sel, chromedp.ByQuery))
}

// Snapshot reads location and body text.
func (p *Page) Snapshot(ctx context.Context) (browser.Snapshot, error) {
	runCtx, cancel := p.bound(ctx)
	defer cancel()
	var snap browser.Snapshot
	err := chromedp.Run(runCtx,
		chromedp.Location(&snap.URL),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &snap.Text),
	)
	return snap, err
}

// Screenshot captures the full page as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := p.bound(ctx)
	defer cancel()
	var buf []byte
	// Quality 100 selects PNG encoding.
	if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close disposes the tab and its browser context.
func (p *Page) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.cancel()
	}
	return nil
}
