package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shyim/sitespeed-compare/internal/runner"
)

// Prefixes of temp directories left behind by crashed or killed trials.
var stalePrefixes = []string{
	".org.chromium.Chromium.",
	runner.WorkspacePrefix,
}

type Cleaner struct {
	Dir      string
	Interval time.Duration
	MaxAge   time.Duration
	Logger   *slog.Logger
}

// Start sweeps once immediately and then every Interval until ctx is done.
func (c *Cleaner) Start(ctx context.Context) {
	logger := c.logger()
	logger.Info("temp file cleanup scheduled", "interval", c.Interval, "max_age", c.MaxAge)
	c.Sweep(time.Now())

	ticker := time.NewTicker(c.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.Sweep(now)
			}
		}
	}()
}

// Sweep removes stale trial directories older than MaxAge and returns how
// many were removed.
func (c *Cleaner) Sweep(now time.Time) int {
	logger := c.logger()
	dir := c.Dir
	if dir == "" {
		dir = os.TempDir()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("failed to read temp dir for cleanup", "dir", dir, "error", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !isStale(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		if age <= c.MaxAge {
			continue
		}

		fullPath := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(fullPath); err != nil {
			logger.Warn("failed to clean up", "path", fullPath, "error", err)
			continue
		}
		removed++
		logger.Info("cleaned up stale trial directory", "path", fullPath, "age", age.Round(time.Second))
	}
	return removed
}

func isStale(name string) bool {
	for _, p := range stalePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (c *Cleaner) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
