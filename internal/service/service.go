// Package service runs browser comparisons in the background and keeps a
// registry of their status for the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shyim/sitespeed-compare/internal/compare"
	"github.com/shyim/sitespeed-compare/internal/export"
	"github.com/shyim/sitespeed-compare/internal/models"
	"github.com/shyim/sitespeed-compare/internal/sampler"
	"github.com/shyim/sitespeed-compare/internal/telemetry"
)

var tracer = otel.Tracer("github.com/shyim/sitespeed-compare/internal/service")

type Status string

const (
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// RunnerFactory builds the trial runner for one browser.
type RunnerFactory func(browser string) (sampler.TrialRunner, error)

// Archive persists finished comparisons.
type Archive interface {
	SaveExport(ctx context.Context, id string, doc export.Document) error
	DeleteResult(ctx context.Context, id string) error
}

// Recorder receives trial and run level metrics.
type Recorder interface {
	sampler.Observer
	RunStarted()
	RunFinished(status string)
}

// Snapshot is a point-in-time copy of a run. Result pointers refer to
// finalized, immutable values.
type Snapshot struct {
	ID         string                            `json:"id"`
	URL        string                            `json:"url"`
	BrowserA   string                            `json:"browserA"`
	BrowserB   string                            `json:"browserB"`
	Status     Status                            `json:"status"`
	Progress   *models.ProgressResponse          `json:"progress,omitempty"`
	Error      string                            `json:"error,omitempty"`
	Archived   bool                              `json:"archived"`
	ResultA    *models.PerformanceTestResults    `json:"resultA,omitempty"`
	ResultB    *models.PerformanceTestResults    `json:"resultB,omitempty"`
	Comparison *compare.BrowserComparisonResults `json:"comparison,omitempty"`
	StartedAt  time.Time                         `json:"startedAt"`
	FinishedAt *time.Time                        `json:"finishedAt,omitempty"`
}

type Options struct {
	Factory  RunnerFactory
	Sampler  sampler.Config
	Archive  Archive
	Recorder Recorder
	Logger   *slog.Logger
}

type Service struct {
	factory  RunnerFactory
	cfg      sampler.Config
	archive  Archive
	recorder Recorder
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	runs map[string]*run
}

type run struct {
	snap     Snapshot
	samplers [2]*sampler.Sampler
	deleted  bool
	replaces bool
	done     chan struct{}

	// archiveMu orders SaveExport against DeleteResult for this run.
	archiveMu sync.Mutex
}

func New(opts Options) (*Service, error) {
	if opts.Factory == nil {
		return nil, errors.New("runner factory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		factory:  opts.Factory,
		cfg:      opts.Sampler,
		archive:  opts.Archive,
		recorder: opts.Recorder,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		runs:     map[string]*run{},
	}, nil
}

// Start validates req and begins comparing the two browsers in the background.
func (s *Service) Start(id string, req models.CompareRequest) (Snapshot, error) {
	if err := validate(id, req); err != nil {
		return Snapshot{}, err
	}
	cfg := s.samplerConfig(req)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, replaces := s.runs[id]
	if replaces && existing.snap.FinishedAt == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", models.ErrRunExists, id)
	}

	progress := make(chan sampler.Progress, 16)
	r := &run{
		snap: Snapshot{
			ID:        id,
			URL:       req.URL,
			BrowserA:  req.BrowserA,
			BrowserB:  req.BrowserB,
			Status:    StatusRunning,
			StartedAt: time.Now().UTC(),
		},
		replaces: replaces,
		done:     make(chan struct{}),
	}

	for i, browser := range []string{req.BrowserA, req.BrowserB} {
		tr, err := s.factory(browser)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to create runner for %s: %w", browser, err)
		}
		opts := []sampler.Option{
			sampler.WithLogger(s.logger),
			sampler.WithProgress(progress),
			sampler.WithRunID(id),
		}
		if s.recorder != nil {
			opts = append(opts, sampler.WithObserver(s.recorder))
		}
		smp, err := sampler.New(tr, cfg, opts...)
		if err != nil {
			return Snapshot{}, fmt.Errorf("invalid sampling config: %w", err)
		}
		r.samplers[i] = smp
	}

	s.runs[id] = r
	s.wg.Add(1)
	go s.execute(r, progress)

	return r.snap, nil
}

func validate(id string, req models.CompareRequest) error {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: invalid id", models.ErrInvalidTarget)
	}
	u, err := url.ParseRequestURI(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid url %q", models.ErrInvalidTarget, req.URL)
	}
	if req.BrowserA == "" || req.BrowserB == "" {
		return fmt.Errorf("%w: browserA and browserB are required", models.ErrInvalidTarget)
	}
	if req.MinIterations < 0 || req.MaxIterations < 0 || req.ConsistencyThreshold < 0 {
		return fmt.Errorf("%w: iteration settings must not be negative", models.ErrInvalidTarget)
	}
	return nil
}

func (s *Service) samplerConfig(req models.CompareRequest) sampler.Config {
	cfg := s.cfg
	if req.MinIterations > 0 {
		cfg.MinIterations = req.MinIterations
		if req.MaxIterations == 0 && cfg.MaxIterations < cfg.MinIterations {
			cfg.MaxIterations = cfg.MinIterations
		}
	}
	if req.MaxIterations > 0 {
		cfg.MaxIterations = req.MaxIterations
	}
	if req.ConsistencyThreshold > 0 {
		cfg.ConsistencyThreshold = req.ConsistencyThreshold
	}
	return cfg
}

func (s *Service) execute(r *run, progress chan sampler.Progress) {
	defer s.wg.Done()
	defer close(r.done)

	id, target := r.snap.ID, r.snap.URL
	logger := s.logger.With("run_id", id)

	ctx, span := tracer.Start(s.ctx, "compare.Run", trace.WithAttributes(
		attribute.String("run_id", id),
		attribute.String("url", target),
		attribute.String("browser_a", r.snap.BrowserA),
		attribute.String("browser_b", r.snap.BrowserB),
	))
	defer span.End()

	if s.recorder != nil {
		s.recorder.RunStarted()
	}

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for p := range progress {
			s.update(r, func(snap *Snapshot) {
				snap.Progress = &models.ProgressResponse{
					Browser:   p.Browser,
					Iteration: p.Iteration,
					Total:     p.Total,
					Message:   p.Message,
				}
			})
		}
	}()

	logger.Info("comparison started", "url", target, "browser_a", r.snap.BrowserA, "browser_b", r.snap.BrowserB)

	if r.replaces && s.archive != nil {
		if err := s.archive.DeleteResult(ctx, id); err != nil {
			logger.Warn("failed to remove previous archive", "error", err)
		}
	}

	var results [2]*models.PerformanceTestResults
	var runErr error
	for i, smp := range r.samplers {
		res, err := smp.Run(ctx, target)
		if err != nil {
			runErr = err
			break
		}
		results[i] = res
		s.update(r, func(snap *Snapshot) {
			if i == 0 {
				snap.ResultA = res
			} else {
				snap.ResultB = res
			}
		})
		if res.Status == models.StatusCancelled {
			// Nothing else may start once a run is cancelled.
			r.samplers[1].Cancel()
			break
		}
	}

	close(progress)
	<-progressDone

	status, cmp := s.finish(ctx, r, results, runErr, logger)
	span.SetAttributes(attribute.String("status", string(status)))
	if status == StatusError {
		span.SetStatus(codes.Error, "comparison failed")
	}
	if s.recorder != nil {
		s.recorder.RunFinished(string(status))
	}

	now := time.Now().UTC()
	s.mu.Lock()
	r.snap.Status = status
	r.snap.Comparison = cmp
	r.snap.FinishedAt = &now
	if runErr != nil {
		r.snap.Error = runErr.Error()
	}
	if r.deleted && s.runs[id] == r {
		delete(s.runs, id)
	}
	s.mu.Unlock()

	logger.Info("comparison finished", "status", status)
}

func (s *Service) finish(ctx context.Context, r *run, results [2]*models.PerformanceTestResults, runErr error, logger *slog.Logger) (Status, *compare.BrowserComparisonResults) {
	id := r.snap.ID
	if runErr != nil {
		logger.Error("comparison aborted", "error", runErr)
		telemetry.CaptureError(runErr, map[string]string{"run_id": id})
		return StatusError, nil
	}

	a, b := results[0], results[1]
	if a == nil || b == nil || a.Status == models.StatusCancelled || b.Status == models.StatusCancelled {
		return StatusCancelled, nil
	}

	cmp, err := compare.New(id, a, b)
	if err != nil {
		logger.Error("failed to compare results", "error", err)
		telemetry.CaptureError(err, map[string]string{"run_id": id})
		s.update(r, func(snap *Snapshot) { snap.Error = err.Error() })
		return StatusError, nil
	}

	status := StatusSuccess
	if a.Status == models.StatusFailure || b.Status == models.StatusFailure {
		status = StatusFailure
	}

	if s.archive != nil {
		s.save(ctx, r, cmp, logger)
	}
	return status, cmp
}

// save archives cmp unless the run was deleted in the meantime.
func (s *Service) save(ctx context.Context, r *run, cmp *compare.BrowserComparisonResults, logger *slog.Logger) {
	r.archiveMu.Lock()
	defer r.archiveMu.Unlock()

	s.mu.RLock()
	deleted := r.deleted
	s.mu.RUnlock()
	if deleted {
		logger.Info("run deleted before archiving")
		return
	}

	id := r.snap.ID
	if err := s.archive.SaveExport(ctx, id, export.ForComparison(cmp)); err != nil {
		logger.Error("failed to archive comparison", "error", err)
		telemetry.CaptureError(err, map[string]string{"run_id": id})
		s.update(r, func(snap *Snapshot) { snap.Error = err.Error() })
		return
	}
	s.update(r, func(snap *Snapshot) { snap.Archived = true })
}

func (s *Service) update(r *run, fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&r.snap)
}

// Get returns a snapshot of the run.
func (s *Service) Get(id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
	}
	return r.snap, nil
}

// Cancel stops the run cooperatively. The trial in flight finishes; the
// second browser never starts.
func (s *Service) Cancel(id string) error {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
	}
	for _, smp := range r.samplers {
		smp.Cancel()
	}
	return nil
}

// Delete cancels the run if it is still going, removes its archive and
// forgets it once it has stopped.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	if ok {
		r.deleted = true
		if r.snap.FinishedAt != nil {
			delete(s.runs, id)
		}
		for _, smp := range r.samplers {
			smp.Cancel()
		}
	}
	s.mu.Unlock()

	if s.archive == nil {
		return nil
	}
	if ok {
		r.archiveMu.Lock()
		defer r.archiveMu.Unlock()
	}
	if err := s.archive.DeleteResult(ctx, id); err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return nil
}

// Wait blocks until the run has stopped and returns its final snapshot.
func (s *Service) Wait(ctx context.Context, id string) (Snapshot, error) {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", models.ErrRunNotFound, id)
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return r.snap, nil
}

// Shutdown cancels every run and waits for them to stop.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, r := range s.runs {
		for _, smp := range r.samplers {
			smp.Cancel()
		}
	}
	s.mu.RUnlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
