// Package runner holds the TrialRunner implementations that execute a single
// page load and report its raw metrics.
package runner

import (
	"fmt"
	"log/slog"

	"github.com/shyim/sitespeed-compare/internal/sampler"
)

type Kind string

const (
	KindSitespeed  Kind = "sitespeed"
	KindDocker     Kind = "docker"
	KindKubernetes Kind = "kubernetes"
	KindHTTP       Kind = "http"
)

// Options configures whichever runner kind is selected.
type Options struct {
	Kind       Kind
	Node       string
	Bin        string
	Image      string
	WorkDir    string
	ArchiveDir string
	Namespace  string
	Kubeconfig string
	UserAgent  string
	Logger     *slog.Logger
}

// New builds the runner measuring browser with the configured kind.
func New(browser string, opts Options) (sampler.TrialRunner, error) {
	if browser == "" {
		return nil, fmt.Errorf("browser is required")
	}
	switch opts.Kind {
	case KindSitespeed, "":
		return &SitespeedRunner{
			Browser:    browser,
			Node:       opts.Node,
			Bin:        opts.Bin,
			WorkDir:    opts.WorkDir,
			ArchiveDir: opts.ArchiveDir,
			Logger:     opts.Logger,
		}, nil
	case KindDocker:
		return NewDockerRunner(browser, opts.Image, opts.WorkDir, opts.Logger)
	case KindKubernetes:
		return NewKubernetesRunner(browser, opts.Image, opts.Namespace, opts.Kubeconfig, opts.Logger)
	case KindHTTP:
		return NewHTTPRunner(browser, opts.UserAgent), nil
	default:
		return nil, fmt.Errorf("unknown runner kind %q", opts.Kind)
	}
}
