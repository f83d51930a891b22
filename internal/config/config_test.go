package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "eng_manager_001", cfg.Coordinator)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, 1400, cfg.Quota.MaxRequests)
	assert.Equal(t, int64(900000), cfg.Quota.MaxTokens)
	assert.InDelta(t, 0.85, cfg.Quota.HighWater, 0.001)
	assert.InDelta(t, 90.0, cfg.Gates.MinCoverage, 0.001)
	assert.Equal(t, 85, cfg.Improve.ScoreThreshold)
	assert.Equal(t, 16, cfg.Improve.PanelSize)
	assert.Equal(t, 2*time.Minute, cfg.Intervals.Cycle)
	assert.Equal(t, 5*time.Minute, cfg.Intervals.CycleSlow)
	assert.Equal(t, time.Hour, cfg.Intervals.SelfEval)
	assert.Equal(t, 3, cfg.Cycle.ReviewsPerCycle)
	assert.Equal(t, 5, cfg.Cycle.ReportEveryCycles)
	assert.Equal(t, 10, cfg.Cycle.PlanningMinTasks)
	assert.Equal(t, 25, cfg.Cycle.PlanningMaxTasks)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreman.yaml")
	body := `
data_dir: /var/lib/foreman
coordinator: eng_manager_007
log_level: debug
api:
  addr: ":9090"
quota:
  max_requests: 200
intervals:
  cycle: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/foreman", cfg.DataDir)
	assert.Equal(t, "eng_manager_007", cfg.Coordinator)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.API.Addr)
	assert.Equal(t, 200, cfg.Quota.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.Intervals.Cycle)
	// Untouched keys keep their defaults.
	assert.Equal(t, int64(900000), cfg.Quota.MaxTokens)
	assert.Equal(t, 3, cfg.Cycle.BlockersPerCycle)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreman.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o644))

	t.Setenv("FOREMAN_LOG_LEVEL", "trace")
	t.Setenv("FOREMAN_QUOTA_MAX_REQUESTS", "500")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, 500, cfg.Quota.MaxRequests)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"zero requests", func(c *Config) { c.Quota.MaxRequests = 0 }, "max_requests"},
		{"negative tokens", func(c *Config) { c.Quota.MaxTokens = -1 }, "max_tokens"},
		{"high water over one", func(c *Config) { c.Quota.HighWater = 1.5 }, "high_water"},
		{"approval threshold zero", func(c *Config) { c.Improve.ApprovalThreshold = 0 }, "approval_threshold"},
		{"empty panel", func(c *Config) { c.Improve.PanelSize = 0 }, "panel_size"},
		{"inverted planning bounds", func(c *Config) {
			c.Cycle.PlanningMinTasks = 30
			c.Cycle.PlanningMaxTasks = 25
		}, "planning_min_tasks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, valid().Validate())
}
