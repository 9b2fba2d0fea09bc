package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shyim/sitespeed-compare/internal/compare"
	"github.com/shyim/sitespeed-compare/internal/config"
	"github.com/shyim/sitespeed-compare/internal/export"
	"github.com/shyim/sitespeed-compare/internal/models"
	"github.com/shyim/sitespeed-compare/internal/runner"
	"github.com/shyim/sitespeed-compare/internal/sampler"
	"github.com/shyim/sitespeed-compare/internal/utils"
)

func compareCmd() *cobra.Command {
	var browserA, browserB, out string
	v := config.New()

	cmd := &cobra.Command{
		Use:   "compare <url>",
		Short: "Measure a page in two browsers and compare the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger := utils.NewLoggerTo(os.Stderr, cfg.LogLevel)

			cmp, err := runComparison(cmd.Context(), cfg, logger, args[0], browserA, browserB)
			if err != nil {
				return err
			}

			renderComparison(cmp)

			if out != "" {
				if err := writeExport(out, export.ForComparison(cmp)); err != nil {
					return err
				}
				pterm.Success.Printfln("Export written to %s", out)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&browserA, "browser-a", "a", "chrome", "First browser")
	f.StringVarP(&browserB, "browser-b", "b", "firefox", "Second browser")
	f.StringVarP(&out, "out", "o", "", "Write the comparison export to this file")
	f.String("runner", string(runner.KindSitespeed), "Trial runner: sitespeed, docker, kubernetes or http")
	f.String("node", "node", "Node.js binary for the sitespeed runner")
	f.String("sitespeed-bin", "sitespeed.io", "sitespeed.io entry point for the sitespeed runner")
	f.String("work-dir", "", "Directory for per-trial workspaces (default: system temp dir)")
	f.String("archive-dir", "", "Zip every sitespeed trial workspace into this directory")
	f.String("user-agent", "", "User-Agent header for the http runner")
	f.String("image", runner.DefaultSitespeedImage, "sitespeed.io image for the docker and kubernetes runners")
	f.String("namespace", "default", "Namespace for the kubernetes runner")
	f.String("kubeconfig", "", "Kubeconfig for the kubernetes runner; in-cluster config when empty")
	f.Int("min-iterations", sampler.DefaultMinIterations, "Trials before the first consistency check")
	f.Int("max-iterations", sampler.DefaultMaxIterations, "Maximum measured attempts per browser")
	f.Float64("threshold", sampler.DefaultConsistencyThreshold, "IQR/median ratio at which sampling stops")
	f.Duration("trial-timeout", sampler.DefaultTrialTimeout, "Timeout for a single trial")
	f.Duration("trial-delay", sampler.DefaultTrialDelay, "Pause between trials (eg. 1s, 500ms)")
	f.Bool("skip-warmup", false, "Do not run the discarded warm-up trial")
	f.String("primary-metric", string(models.PrimaryMetric), "Metric the consistency check runs on")
	f.String("log-level", "warn", "Log level: debug, info, warn or error")

	bindFlags(v, cmd, map[string]string{
		config.KeyRunner:               "runner",
		config.KeyNodeBin:              "node",
		config.KeySitespeedBin:         "sitespeed-bin",
		config.KeyWorkDir:              "work-dir",
		config.KeyArchiveDir:           "archive-dir",
		config.KeyUserAgent:            "user-agent",
		config.KeySitespeedImage:       "image",
		config.KeyK8sNamespace:         "namespace",
		config.KeyKubeconfig:           "kubeconfig",
		config.KeyMinIterations:        "min-iterations",
		config.KeyMaxIterations:        "max-iterations",
		config.KeyConsistencyThreshold: "threshold",
		config.KeyTrialTimeout:         "trial-timeout",
		config.KeyTrialDelay:           "trial-delay",
		config.KeySkipWarmup:           "skip-warmup",
		config.KeyPrimaryMetric:        "primary-metric",
		config.KeyLogLevel:             "log-level",
	})

	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

// runComparison samples browserA to completion, then browserB, and compares them.
func runComparison(ctx context.Context, cfg config.Config, logger *slog.Logger, url, browserA, browserB string) (*compare.BrowserComparisonResults, error) {
	id := uuid.NewString()
	opts := cfg.Runner
	opts.Logger = logger

	var results []*models.PerformanceTestResults
	for _, browser := range []string{browserA, browserB} {
		tr, err := runner.New(browser, opts)
		if err != nil {
			return nil, err
		}
		res, err := sampleBrowser(ctx, tr, cfg.Sampler, logger, id, url)
		if err != nil {
			return nil, err
		}
		if res.Status == models.StatusCancelled {
			return nil, fmt.Errorf("comparison cancelled while measuring %s", browser)
		}
		results = append(results, res)
	}

	return compare.New(id, results[0], results[1])
}

func sampleBrowser(ctx context.Context, tr sampler.TrialRunner, cfg sampler.Config, logger *slog.Logger, id, url string) (*models.PerformanceTestResults, error) {
	progress := make(chan sampler.Progress, 8)
	smp, err := sampler.New(tr, cfg,
		sampler.WithLogger(logger),
		sampler.WithProgress(progress),
		sampler.WithRunID(id),
	)
	if err != nil {
		return nil, err
	}

	sp, _ := pterm.DefaultSpinner.WithText(fmt.Sprintf("Measuring %s...", tr.Name())).Start()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			sp.UpdateText(fmt.Sprintf("%s: %s (%d/%d)", p.Browser, p.Message, p.Iteration, p.Total))
		}
	}()

	res, err := smp.Run(ctx, url)
	close(progress)
	<-done
	if err != nil {
		sp.Fail(fmt.Sprintf("Failed to measure %s: %s", tr.Name(), err))
		return nil, err
	}

	msg := fmt.Sprintf("%s: %d trials, %d failed, reliability %s", res.Browser, res.Iterations, res.FailedAttempts, res.ReliabilityScore)
	switch res.Status {
	case models.StatusSuccess:
		sp.Success(msg)
	case models.StatusCancelled:
		sp.Warning(msg + " (cancelled)")
	default:
		sp.Fail(msg + " (every trial failed)")
	}
	return res, nil
}

func writeExport(path string, doc export.Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := export.Encode(f, doc); err != nil {
		f.Close()
		return fmt.Errorf("writing export file: %w", err)
	}
	return f.Close()
}
