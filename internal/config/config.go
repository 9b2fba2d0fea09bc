// Package config reads the service and CLI settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shyim/sitespeed-compare/internal/models"
	"github.com/shyim/sitespeed-compare/internal/runner"
	"github.com/shyim/sitespeed-compare/internal/sampler"
)

// Keys double as environment variable names once upper-cased.
const (
	KeyPort                 = "port"
	KeyAuthToken            = "auth_token"
	KeyS3ServiceURL         = "s3_service_url"
	KeyS3AccessKey          = "s3_access_key"
	KeyS3SecretKey          = "s3_secret_key"
	KeyS3BucketName         = "s3_bucket_name"
	KeyS3DisablePayloadSign = "s3_disable_payload_signing"
	KeyRunner               = "runner"
	KeySitespeedBin         = "sitespeed_bin"
	KeyNodeBin              = "node_bin"
	KeyWorkDir              = "work_dir"
	KeyArchiveDir           = "archive_dir"
	KeyUserAgent            = "user_agent"
	KeySitespeedImage       = "sitespeed_image"
	KeyK8sNamespace         = "k8s_namespace"
	KeyKubeconfig           = "kubeconfig"
	KeyMinIterations        = "min_iterations"
	KeyMaxIterations        = "max_iterations"
	KeyConsistencyThreshold = "consistency_threshold"
	KeyTrialTimeout         = "trial_timeout"
	KeyTrialDelay           = "trial_delay"
	KeySkipWarmup           = "skip_warmup"
	KeyPrimaryMetric        = "primary_metric"
	KeySentryDSN            = "sentry_dsn"
	KeyOTLPEndpoint         = "otel_exporter_otlp_endpoint"
	KeyCleanupInterval      = "cleanup_interval"
	KeyCleanupMaxAge        = "cleanup_max_age"
	KeyLogLevel             = "log_level"
)

type S3 struct {
	ServiceURL            string
	AccessKey             string
	SecretKey             string
	BucketName            string
	DisablePayloadSigning bool
}

type Cleanup struct {
	Interval time.Duration
	MaxAge   time.Duration
}

type Config struct {
	Port         string
	AuthToken    string
	S3           S3
	Runner       runner.Options
	Sampler      sampler.Config
	SentryDSN    string
	OTLPEndpoint string
	Cleanup      Cleanup
	LogLevel     string
}

// New returns a viper instance with defaults set and environment lookup enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyS3BucketName, "sitespeed-results")
	v.SetDefault(KeyS3DisablePayloadSign, true)
	v.SetDefault(KeyRunner, string(runner.KindSitespeed))
	v.SetDefault(KeySitespeedBin, "sitespeed.io")
	v.SetDefault(KeyNodeBin, "node")
	v.SetDefault(KeySitespeedImage, runner.DefaultSitespeedImage)
	v.SetDefault(KeyK8sNamespace, "default")
	v.SetDefault(KeyMinIterations, sampler.DefaultMinIterations)
	v.SetDefault(KeyMaxIterations, sampler.DefaultMaxIterations)
	v.SetDefault(KeyConsistencyThreshold, sampler.DefaultConsistencyThreshold)
	v.SetDefault(KeyTrialTimeout, sampler.DefaultTrialTimeout)
	v.SetDefault(KeyTrialDelay, sampler.DefaultTrialDelay)
	v.SetDefault(KeySkipWarmup, false)
	v.SetDefault(KeyPrimaryMetric, string(models.PrimaryMetric))
	v.SetDefault(KeyCleanupInterval, 5*time.Minute)
	v.SetDefault(KeyCleanupMaxAge, 5*time.Minute)
	v.SetDefault(KeyLogLevel, "info")
	return v
}

// LoadS3 reads only the result archive settings.
func LoadS3(v *viper.Viper) S3 {
	return S3{
		ServiceURL:            v.GetString(KeyS3ServiceURL),
		AccessKey:             v.GetString(KeyS3AccessKey),
		SecretKey:             v.GetString(KeyS3SecretKey),
		BucketName:            v.GetString(KeyS3BucketName),
		DisablePayloadSigning: v.GetBool(KeyS3DisablePayloadSign),
	}
}

// Load reads the settings from v and validates them.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:      v.GetString(KeyPort),
		AuthToken: v.GetString(KeyAuthToken),
		S3:        LoadS3(v),
		Runner: runner.Options{
			Kind:       runner.Kind(strings.ToLower(v.GetString(KeyRunner))),
			Node:       v.GetString(KeyNodeBin),
			Bin:        v.GetString(KeySitespeedBin),
			Image:      v.GetString(KeySitespeedImage),
			WorkDir:    v.GetString(KeyWorkDir),
			ArchiveDir: v.GetString(KeyArchiveDir),
			Namespace:  v.GetString(KeyK8sNamespace),
			Kubeconfig: v.GetString(KeyKubeconfig),
			UserAgent:  v.GetString(KeyUserAgent),
		},
		Sampler: sampler.Config{
			MinIterations:        v.GetInt(KeyMinIterations),
			MaxIterations:        v.GetInt(KeyMaxIterations),
			ConsistencyThreshold: v.GetFloat64(KeyConsistencyThreshold),
			TrialTimeout:         v.GetDuration(KeyTrialTimeout),
			TrialDelay:           v.GetDuration(KeyTrialDelay),
			SkipWarmup:           v.GetBool(KeySkipWarmup),
			PrimaryMetric:        models.MetricName(v.GetString(KeyPrimaryMetric)),
		},
		SentryDSN:    v.GetString(KeySentryDSN),
		OTLPEndpoint: v.GetString(KeyOTLPEndpoint),
		Cleanup: Cleanup{
			Interval: v.GetDuration(KeyCleanupInterval),
			MaxAge:   v.GetDuration(KeyCleanupMaxAge),
		},
		LogLevel: v.GetString(KeyLogLevel),
	}

	switch cfg.Runner.Kind {
	case runner.KindSitespeed, runner.KindDocker, runner.KindKubernetes, runner.KindHTTP:
	default:
		return cfg, fmt.Errorf("invalid %s %q", strings.ToUpper(KeyRunner), cfg.Runner.Kind)
	}
	if !cfg.Sampler.PrimaryMetric.Valid() {
		return cfg, fmt.Errorf("invalid %s %q", strings.ToUpper(KeyPrimaryMetric), cfg.Sampler.PrimaryMetric)
	}
	if cfg.Sampler.MinIterations < 1 {
		return cfg, fmt.Errorf("%s must be >= 1", strings.ToUpper(KeyMinIterations))
	}
	if cfg.Sampler.MaxIterations < cfg.Sampler.MinIterations {
		return cfg, fmt.Errorf("%s must be >= %s", strings.ToUpper(KeyMaxIterations), strings.ToUpper(KeyMinIterations))
	}
	if cfg.Sampler.ConsistencyThreshold <= 0 {
		return cfg, fmt.Errorf("%s must be > 0", strings.ToUpper(KeyConsistencyThreshold))
	}
	if cfg.Sampler.TrialTimeout <= 0 {
		return cfg, fmt.Errorf("%s must be > 0", strings.ToUpper(KeyTrialTimeout))
	}
	if cfg.Cleanup.Interval <= 0 {
		return cfg, fmt.Errorf("%s must be > 0", strings.ToUpper(KeyCleanupInterval))
	}
	return cfg, nil
}
