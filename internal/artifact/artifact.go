// Package artifact persists checkpoint screenshots.
//
// Paths are deterministic: <dir>/<scenario-slug>/<checkpoint-slug>.png.
// Capturing the same checkpoint again overwrites that one file and touches
// nothing else; artifacts are never versioned.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Extension is appended to every artifact file name.
const Extension = ".png"

// Capturer produces encoded screenshots. browser.Page satisfies it.
type Capturer interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Collector writes artifacts below one output directory.
type Collector struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	captured map[string]struct{}
}

// NewCollector creates a collector rooted at dir. The directory is created lazily.
func NewCollector(dir string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		dir:      dir,
		logger:   logger,
		captured: make(map[string]struct{}),
	}
}

// Dir returns the output root.
func (c *Collector) Dir() string { return c.dir }

// Path returns where the checkpoint's artifact lives.
func (c *Collector) Path(scenario, checkpoint string) string {
	return filepath.Join(c.dir, Slug(scenario), Slug(checkpoint)+Extension)
}

// Capture takes a screenshot and writes it to Path(scenario, checkpoint).
//
// The write goes through a temporary file in the same directory followed by
// a rename, so a reader never sees a half-written artifact and an existing
// artifact is replaced atomically.
func (c *Collector) Capture(ctx context.Context, src Capturer, scenario, checkpoint string) (string, error) {
	data, err := src.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture %q: %w", checkpoint, err)
	}
	return c.Write(scenario, checkpoint, data)
}

// Write persists already-encoded artifact bytes.
func (c *Collector) Write(scenario, checkpoint string, data []byte) (string, error) {
	path := c.Path(scenario, checkpoint)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".capture-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("store artifact: %w", err)
	}

	c.mu.Lock()
	c.captured[path] = struct{}{}
	c.mu.Unlock()

	c.logger.Info("artifact captured", "scenario", scenario, "checkpoint", checkpoint, "path", path, "bytes", len(data))
	return path, nil
}

// Captured lists every path written by this collector, sorted.
func (c *Collector) Captured() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.captured))
	for p := range c.captured {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Chained transformers carry state, so each call builds its own.
func slugFolder() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Slug turns a free-form name into a stable file name component:
// accents stripped, lowercase, runs of anything but letters and digits
// collapsed to a single '-'.
func Slug(name string) string {
	folded, _, err := transform.String(slugFolder(), name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "unnamed"
	}
	return s
}
