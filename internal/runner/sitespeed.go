package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/shyim/sitespeed-compare/internal/models"
	"github.com/shyim/sitespeed-compare/internal/utils"
)

// WorkspacePrefix names the per-trial directories so cleanup can find stale ones.
const WorkspacePrefix = "sitespeed-trial-"

// sitespeedArgs builds the sitespeed.io arguments for a single measured page load.
func sitespeedArgs(browser, outputFolder, url string) []string {
	args := []string{
		"--outputFolder", outputFolder,
		"--plugins.add", "analysisstorer",
		"--browsertime.iterations", "1",
		"--viewPort", "1920x1080",
		"-b", browser,
	}
	if browser == "chrome" || browser == "edge" {
		args = append(args, "--browsertime.chrome.cleanUserDataDir=true")
	}
	return append(args, url)
}

// SitespeedRunner runs sitespeed.io through a local node installation.
type SitespeedRunner struct {
	Browser string
	// Node is the node executable; defaults to "node".
	Node string
	// Bin is the sitespeed.io entry point passed to node.
	Bin string
	// WorkDir holds the per-trial workspaces; defaults to os.TempDir().
	WorkDir string
	// ArchiveDir, when set, receives a zip of every trial workspace.
	ArchiveDir string
	Logger     *slog.Logger
}

func (r *SitespeedRunner) Name() string { return r.Browser }

func (r *SitespeedRunner) Run(ctx context.Context, url string) (models.TrialOutcome, error) {
	ws, err := newWorkspace(r.WorkDir)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(ws)

	node := r.Node
	if node == "" {
		node = "node"
	}
	bin := r.Bin
	if bin == "" {
		bin = "sitespeed.io"
	}

	args := append([]string{bin}, sitespeedArgs(r.Browser, ws, url)...)
	cmd := exec.CommandContext(ctx, node, args...)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrTrialTimeout, ctx.Err())
		}
		r.logger().Warn("sitespeed failed", "browser", r.Browser, "stderr", truncate(stderr.String(), 2048))
		return nil, classifyStderr(stderr.String(), err)
	}

	outcome, err := readOutputDir(ws)
	if err != nil {
		return nil, err
	}
	r.archive(ws)
	return outcome, nil
}

func (r *SitespeedRunner) archive(ws string) {
	if r.ArchiveDir == "" {
		return
	}
	if err := os.MkdirAll(r.ArchiveDir, 0755); err != nil {
		r.logger().Warn("failed to create archive dir", "error", err)
		return
	}
	target := filepath.Join(r.ArchiveDir, filepath.Base(ws)+".zip")
	if err := utils.ZipDirectory(ws, target); err != nil {
		r.logger().Warn("failed to archive trial workspace", "error", err)
	}
}

func (r *SitespeedRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func newWorkspace(base string) (string, error) {
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, WorkspacePrefix+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create trial workspace: %w", err)
	}
	return dir, nil
}

// classifyStderr maps sitespeed.io error output to the trial error taxonomy.
func classifyStderr(stderr string, err error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "err_name_not_resolved"),
		strings.Contains(lower, "err_connection_refused"),
		strings.Contains(lower, "err_internet_disconnected"),
		strings.Contains(lower, "neterror"):
		return fmt.Errorf("%w: %w", models.ErrNetwork, err)
	case strings.Contains(lower, "timeout"):
		return fmt.Errorf("%w: %w", models.ErrTrialTimeout, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: sitespeed exited with code %d", models.ErrNavigation, exitErr.ExitCode())
	}
	return fmt.Errorf("%w: %w", models.ErrNavigation, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
