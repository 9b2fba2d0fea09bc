package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shyim/sitespeed-compare/internal/cleanup"
	"github.com/shyim/sitespeed-compare/internal/config"
	"github.com/shyim/sitespeed-compare/internal/handler"
	"github.com/shyim/sitespeed-compare/internal/metrics"
	"github.com/shyim/sitespeed-compare/internal/runner"
	"github.com/shyim/sitespeed-compare/internal/sampler"
	"github.com/shyim/sitespeed-compare/internal/service"
	"github.com/shyim/sitespeed-compare/internal/storage"
	"github.com/shyim/sitespeed-compare/internal/telemetry"
	"github.com/shyim/sitespeed-compare/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.New())
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		SentryDSN:    cfg.SentryDSN,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	storageService, err := storage.NewService(ctx, cfg.S3)
	if err != nil {
		logger.Error("failed to initialize storage service", "error", err)
		os.Exit(1)
	}
	if err := storageService.EnsureBucket(ctx); err != nil {
		logger.Warn("failed to ensure result bucket", "error", err)
	}

	m := metrics.NewMetrics(nil)

	runnerOpts := cfg.Runner
	runnerOpts.Logger = logger
	runs, err := service.New(service.Options{
		Factory: func(browser string) (sampler.TrialRunner, error) {
			return runner.New(browser, runnerOpts)
		},
		Sampler:  cfg.Sampler,
		Archive:  storageService,
		Recorder: m,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize comparison service", "error", err)
		os.Exit(1)
	}

	h := handler.NewHandler(runs, storageService, cfg.AuthToken, logger)

	// Start background cleanup
	cleaner := &cleanup.Cleaner{
		Dir:      runnerOpts.WorkDir,
		Interval: cfg.Cleanup.Interval,
		MaxAge:   cfg.Cleanup.MaxAge,
		Logger:   logger,
	}
	cleaner.Start(ctx)

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.Handle("GET /metrics", m.Handler())

	// Logger -> Recoverer -> Sentry -> Metrics -> Auth -> Mux
	// AuthMiddleware only checks /api paths, so wrapping the whole mux is fine.
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})

	finalHandler := h.AuthMiddleware(mux)
	finalHandler = m.Middleware(finalHandler)
	finalHandler = sentryHandler.Handle(finalHandler)
	finalHandler = recoverMiddleware(logger, finalHandler)
	finalHandler = loggingMiddleware(logger, finalHandler)
	finalHandler = otelhttp.NewHandler(finalHandler, "http.server")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           finalHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "runner", cfg.Runner.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if err := runs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("comparison runs did not stop in time", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func recoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
