package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shyim/sitespeed-compare/internal/models"
	"github.com/shyim/sitespeed-compare/internal/runner"
	"github.com/shyim/sitespeed-compare/internal/sampler"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sitespeed-results", cfg.S3.BucketName)
	assert.True(t, cfg.S3.DisablePayloadSigning)
	assert.Equal(t, runner.KindSitespeed, cfg.Runner.Kind)
	assert.Equal(t, runner.DefaultSitespeedImage, cfg.Runner.Image)
	assert.Equal(t, sampler.DefaultMinIterations, cfg.Sampler.MinIterations)
	assert.Equal(t, sampler.DefaultMaxIterations, cfg.Sampler.MaxIterations)
	assert.Equal(t, sampler.DefaultConsistencyThreshold, cfg.Sampler.ConsistencyThreshold)
	assert.Equal(t, sampler.DefaultTrialTimeout, cfg.Sampler.TrialTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Cleanup.Interval)
	assert.Equal(t, "node", cfg.Runner.Node)
	assert.Empty(t, cfg.Runner.ArchiveDir)
	assert.Equal(t, models.LoadComplete, cfg.Sampler.PrimaryMetric)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AUTH_TOKEN", "secret")
	t.Setenv("RUNNER", "HTTP")
	t.Setenv("MIN_ITERATIONS", "5")
	t.Setenv("MAX_ITERATIONS", "12")
	t.Setenv("CONSISTENCY_THRESHOLD", "0.1")
	t.Setenv("TRIAL_TIMEOUT", "45s")
	t.Setenv("TRIAL_DELAY", "0s")
	t.Setenv("S3_DISABLE_PAYLOAD_SIGNING", "false")
	t.Setenv("KUBECONFIG", "/tmp/kubeconfig")
	t.Setenv("NODE_BIN", "/usr/local/bin/node")
	t.Setenv("WORK_DIR", "/var/tmp/trials")
	t.Setenv("ARCHIVE_DIR", "/var/tmp/archive")
	t.Setenv("USER_AGENT", "pagecompare/1.0")
	t.Setenv("PRIMARY_METRIC", "domComplete")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Equal(t, runner.KindHTTP, cfg.Runner.Kind)
	assert.Equal(t, 5, cfg.Sampler.MinIterations)
	assert.Equal(t, 12, cfg.Sampler.MaxIterations)
	assert.Equal(t, 0.1, cfg.Sampler.ConsistencyThreshold)
	assert.Equal(t, 45*time.Second, cfg.Sampler.TrialTimeout)
	assert.Zero(t, cfg.Sampler.TrialDelay)
	assert.False(t, cfg.S3.DisablePayloadSigning)
	assert.Equal(t, "/tmp/kubeconfig", cfg.Runner.Kubeconfig)
	assert.Equal(t, "/usr/local/bin/node", cfg.Runner.Node)
	assert.Equal(t, "/var/tmp/trials", cfg.Runner.WorkDir)
	assert.Equal(t, "/var/tmp/archive", cfg.Runner.ArchiveDir)
	assert.Equal(t, "pagecompare/1.0", cfg.Runner.UserAgent)
	assert.Equal(t, models.DOMComplete, cfg.Sampler.PrimaryMetric)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown runner", map[string]string{"RUNNER": "selenium"}},
		{"zero min", map[string]string{"MIN_ITERATIONS": "0"}},
		{"max below min", map[string]string{"MIN_ITERATIONS": "10", "MAX_ITERATIONS": "3"}},
		{"negative threshold", map[string]string{"CONSISTENCY_THRESHOLD": "-1"}},
		{"zero timeout", map[string]string{"TRIAL_TIMEOUT": "0s"}},
		{"unknown primary metric", map[string]string{"PRIMARY_METRIC": "speedIndex"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(New())
			assert.Error(t, err)
		})
	}
}
