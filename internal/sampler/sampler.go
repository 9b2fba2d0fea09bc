// Package sampler runs page-load trials until the primary metric is
// consistent enough or the iteration cap is reached.
//
// A Sampler moves through Idle -> Warmup -> Sampling -> Evaluating and ends in
// Stopped. The warm-up trial is never recorded in any SampleSet; its raw values
// are kept only in PerformanceTestResults.Warmup.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shyim/sitespeed-compare/internal/models"
	"github.com/shyim/sitespeed-compare/internal/stats"
)

var tracer = otel.Tracer("github.com/shyim/sitespeed-compare/internal/sampler")

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("sampler already started")

// TrialRunner executes a single page-load trial. The context carries the
// per-trial timeout.
type TrialRunner interface {
	Name() string
	Run(ctx context.Context, url string) (models.TrialOutcome, error)
}

// Observer is notified after every trial, warm-up included.
type Observer interface {
	TrialFinished(browser string, elapsed time.Duration, err error)
}

type State int32

const (
	StateIdle State = iota
	StateWarmup
	StateSampling
	StateEvaluating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWarmup:
		return "warmup"
	case StateSampling:
		return "sampling"
	case StateEvaluating:
		return "evaluating"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Progress is emitted after each trial. Iteration 0 is the warm-up.
type Progress struct {
	Browser   string
	Iteration int
	Total     int
	Message   string
}

type Option func(*Sampler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sampler) { s.logger = logger }
}

// WithProgress registers a progress channel. Sends never block; updates are
// dropped while the channel is full.
func WithProgress(ch chan<- Progress) Option {
	return func(s *Sampler) { s.progress = ch }
}

func WithObserver(o Observer) Option {
	return func(s *Sampler) { s.observer = o }
}

// WithRunID sets the id stamped on the finalized results.
func WithRunID(id string) Option {
	return func(s *Sampler) { s.runID = id }
}

type Sampler struct {
	cfg      Config
	runner   TrialRunner
	logger   *slog.Logger
	progress chan<- Progress
	observer Observer
	runID    string
	now      func() time.Time

	state     atomic.Int32
	started   atomic.Bool
	cancelled atomic.Bool
}

func New(runner TrialRunner, cfg Config, opts ...Option) (*Sampler, error) {
	if runner == nil {
		return nil, errors.New("trial runner is required")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	s := &Sampler{
		cfg:    cfg,
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sampler) Config() Config { return s.cfg }

func (s *Sampler) State() State { return State(s.state.Load()) }

// Cancel asks the sampler to stop before its next trial. The trial in flight,
// if any, is allowed to finish.
func (s *Sampler) Cancel() { s.cancelled.Store(true) }

func (s *Sampler) Cancelled() bool { return s.cancelled.Load() }

func (s *Sampler) setState(st State) { s.state.Store(int32(st)) }

func (s *Sampler) stopRequested(ctx context.Context) bool {
	return s.cancelled.Load() || ctx.Err() != nil
}

type run struct {
	metrics   models.DetailedMetrics
	warmup    models.TrialOutcome
	attempts  int
	completed int
	failures  int
	planned   int
	status    models.Status
}

// Run drives the trials for url and returns the finalized results. It never
// fails because of trial errors: failures are counted and a run in which
// every attempt failed is returned with StatusFailure.
func (s *Sampler) Run(ctx context.Context, url string) (*models.PerformanceTestResults, error) {
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	browser := s.runner.Name()
	ctx, span := tracer.Start(ctx, "sampler.Run")
	span.SetAttributes(attribute.String("browser", browser), attribute.String("url", url))
	defer span.End()

	logger := s.logger.With("run_id", s.runID, "browser", browser)
	started := s.now()
	r := &run{
		metrics: models.DetailedMetrics{},
		planned: s.cfg.MinIterations,
		status:  models.StatusSuccess,
	}

	s.loop(ctx, url, r, logger)
	s.setState(StateStopped)

	if r.status != models.StatusCancelled && r.completed == 0 {
		r.status = models.StatusFailure
	}
	span.SetAttributes(
		attribute.String("status", string(r.status)),
		attribute.Int("iterations", r.completed),
		attribute.Int("failed_attempts", r.failures),
	)
	if r.status == models.StatusFailure {
		span.SetStatus(codes.Error, "every trial failed")
	}
	logger.Info("sampling stopped",
		"status", r.status,
		"iterations", r.completed,
		"failed_attempts", r.failures,
	)

	return models.NewPerformanceTestResults(models.RunRecord{
		ID:             s.runID,
		Browser:        browser,
		URL:            url,
		Status:         r.status,
		PrimaryMetric:  s.cfg.PrimaryMetric,
		FailedAttempts: r.failures,
		Metrics:        r.metrics,
		Warmup:         r.warmup,
		StartedAt:      started,
		FinishedAt:     s.now(),
	}), nil
}

func (s *Sampler) loop(ctx context.Context, url string, r *run, logger *slog.Logger) {
	if !s.cfg.SkipWarmup {
		s.setState(StateWarmup)
		if s.stopRequested(ctx) {
			r.status = models.StatusCancelled
			return
		}
		outcome, err := s.trial(ctx, url, 0)
		if err != nil {
			r.failures++
			logger.Warn("warm-up trial failed", "error", err)
			s.report(0, r.planned, fmt.Sprintf("warm-up failed: %v", err))
		} else {
			r.warmup = outcome
			s.report(0, r.planned, "warm-up finished")
		}
		s.pause(ctx)
	}

	for {
		s.setState(StateSampling)
		if s.stopRequested(ctx) {
			r.status = models.StatusCancelled
			return
		}
		if r.attempts >= s.cfg.MaxIterations {
			return
		}

		r.attempts++
		outcome, err := s.trial(ctx, url, r.attempts)
		if err == nil {
			if _, ok := outcome[s.cfg.PrimaryMetric]; !ok {
				err = models.ErrMissingPrimary
			}
		}
		if err != nil {
			r.failures++
			logger.Warn("trial failed", "iteration", r.attempts, "error", err)
		} else {
			r.record(outcome)
		}

		if r.completed >= s.cfg.MinIterations {
			s.setState(StateEvaluating)
			if s.stopRequested(ctx) {
				r.status = models.StatusCancelled
				s.report(r.attempts, r.attempts, "cancelled")
				return
			}
			if ratio, ok := stats.ConsistencyRatio(r.metrics.Get(s.cfg.PrimaryMetric)); ok {
				logger.Debug("consistency evaluated", "iteration", r.attempts, "ratio", ratio)
				if ratio < s.cfg.ConsistencyThreshold {
					s.report(r.attempts, r.attempts, fmt.Sprintf("consistent after %d trials (IQR/median %.1f%%)", r.completed, ratio*100))
					return
				}
			}
		}

		if r.attempts >= s.cfg.MaxIterations {
			if s.stopRequested(ctx) {
				r.status = models.StatusCancelled
				s.report(r.attempts, r.attempts, "cancelled")
				return
			}
			s.report(r.attempts, r.attempts, fmt.Sprintf("reached %d iterations", s.cfg.MaxIterations))
			return
		}
		r.planned = s.plan(r)
		if err != nil {
			s.report(r.attempts, r.planned, fmt.Sprintf("trial %d failed: %v", r.attempts, err))
		} else {
			s.report(r.attempts, r.planned, fmt.Sprintf("trial %d finished", r.attempts))
		}
		s.pause(ctx)
	}
}

func (r *run) record(outcome models.TrialOutcome) {
	for name, v := range outcome {
		set, ok := r.metrics[name]
		if !ok {
			set = models.NewSampleSet(name)
			r.metrics[name] = set
		}
		set.Append(v)
	}
	r.completed++
}

// plan estimates how many attempts the run will need, as known so far.
func (s *Sampler) plan(r *run) int {
	need := s.cfg.MinIterations - r.completed
	if need < 1 {
		need = 1
	}
	planned := r.attempts + need
	if planned > s.cfg.MaxIterations {
		planned = s.cfg.MaxIterations
	}
	return planned
}

func (s *Sampler) trial(ctx context.Context, url string, iteration int) (models.TrialOutcome, error) {
	ctx, span := tracer.Start(ctx, "sampler.trial")
	span.SetAttributes(attribute.Int("iteration", iteration), attribute.Bool("warmup", iteration == 0))
	defer span.End()

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TrialTimeout)
	defer cancel()

	start := s.now()
	outcome, err := s.runner.Run(tctx, url)
	if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && !errors.Is(err, models.ErrTrialTimeout) {
		err = fmt.Errorf("%w after %s: %w", models.ErrTrialTimeout, s.cfg.TrialTimeout, err)
	}
	if s.observer != nil {
		s.observer.TrialFinished(s.runner.Name(), s.now().Sub(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return outcome, nil
}

func (s *Sampler) report(iteration, total int, msg string) {
	if s.progress == nil {
		return
	}
	select {
	case s.progress <- Progress{Browser: s.runner.Name(), Iteration: iteration, Total: total, Message: msg}:
	default:
	}
}

func (s *Sampler) pause(ctx context.Context) {
	if s.cfg.TrialDelay <= 0 {
		return
	}
	t := time.NewTimer(s.cfg.TrialDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
