// Package config handles configuration loading for foreman.
// It supports a config file, FOREMAN_* environment variables, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for foreman.
type Config struct {
	// DataDir is the root directory for the state database and roster.
	DataDir string `mapstructure:"data_dir"`
	// RosterPath is the agent roster YAML file. Empty uses the embedded
	// default roster.
	RosterPath string `mapstructure:"roster_path"`
	// Coordinator is the agent id that receives blockers and signs off
	// production deployments.
	Coordinator string `mapstructure:"coordinator"`
	// LogLevel is the zerolog level name.
	LogLevel string `mapstructure:"log_level"`

	API       APIConfig       `mapstructure:"api"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Gates     GatesConfig     `mapstructure:"gates"`
	Improve   ImproveConfig   `mapstructure:"improve"`
	Intervals IntervalsConfig `mapstructure:"intervals"`
	Cycle     CycleConfig     `mapstructure:"cycle"`
}

// APIConfig holds the query API listener settings.
type APIConfig struct {
	// Addr is the listen address for the HTTP query API.
	Addr string `mapstructure:"addr"`
}

// AnthropicConfig holds oracle provider settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Empty falls back to the
	// ANTHROPIC_API_KEY environment variable.
	APIKey string `mapstructure:"api_key"`
	// Model is the model name. Empty uses the SDK default.
	Model string `mapstructure:"model"`
	// UseAWSBedrock switches to AWS Bedrock credentials.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// QuotaConfig holds the daily generation quota.
type QuotaConfig struct {
	// MaxRequests is the daily request budget.
	MaxRequests int `mapstructure:"max_requests"`
	// MaxTokens is the daily token budget.
	MaxTokens int64 `mapstructure:"max_tokens"`
	// HighWater is the request-usage fraction that triggers the slow
	// cycle interval.
	HighWater float64 `mapstructure:"high_water"`
}

// GatesConfig holds production deployment gate thresholds.
type GatesConfig struct {
	// MinCoverage is the minimum test coverage percentage.
	MinCoverage float64 `mapstructure:"min_coverage"`
}

// ImproveConfig holds self-improvement pipeline thresholds.
type ImproveConfig struct {
	// ScoreThreshold is the evaluation score at or above which no
	// improvement cycle runs.
	ScoreThreshold int `mapstructure:"score_threshold"`
	// ApprovalThreshold is the minimum vote approval rate.
	ApprovalThreshold float64 `mapstructure:"approval_threshold"`
	// MaxNoVotes is the maximum tolerated no votes.
	MaxNoVotes int `mapstructure:"max_no_votes"`
	// PanelSize is the fixed vote panel size.
	PanelSize int `mapstructure:"panel_size"`
}

// IntervalsConfig holds the scheduler timing knobs.
type IntervalsConfig struct {
	// Cycle is the normal inter-cycle delay.
	Cycle time.Duration `mapstructure:"cycle"`
	// CycleSlow is the delay once quota usage crosses the high-water mark.
	CycleSlow time.Duration `mapstructure:"cycle_slow"`
	// SelfEval is the minimum time between self-evaluations.
	SelfEval time.Duration `mapstructure:"self_eval"`
	// ErrorBackoff is the sleep after a cycle-level error.
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// CycleConfig bounds per-cycle batch sizes.
type CycleConfig struct {
	// ReviewsPerCycle caps code reviews processed per cycle.
	ReviewsPerCycle int `mapstructure:"reviews_per_cycle"`
	// BlockersPerCycle caps blockers processed per cycle.
	BlockersPerCycle int `mapstructure:"blockers_per_cycle"`
	// ReportEveryCycles throttles status report collection.
	ReportEveryCycles int `mapstructure:"report_every_cycles"`
	// PlanningMinTasks is the lower bound of a planning batch.
	PlanningMinTasks int `mapstructure:"planning_min_tasks"`
	// PlanningMaxTasks is the upper bound of a planning batch.
	PlanningMaxTasks int `mapstructure:"planning_max_tasks"`
}

// setDefaults registers all default values on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("roster_path", "")
	v.SetDefault("coordinator", "eng_manager_001")
	v.SetDefault("log_level", "info")

	v.SetDefault("api.addr", ":8080")

	v.SetDefault("quota.max_requests", 1400)
	v.SetDefault("quota.max_tokens", int64(900000))
	v.SetDefault("quota.high_water", 0.85)

	v.SetDefault("gates.min_coverage", 90.0)

	v.SetDefault("improve.score_threshold", 85)
	v.SetDefault("improve.approval_threshold", 0.80)
	v.SetDefault("improve.max_no_votes", 2)
	v.SetDefault("improve.panel_size", 16)

	v.SetDefault("intervals.cycle", 2*time.Minute)
	v.SetDefault("intervals.cycle_slow", 5*time.Minute)
	v.SetDefault("intervals.self_eval", time.Hour)
	v.SetDefault("intervals.error_backoff", time.Minute)

	v.SetDefault("cycle.reviews_per_cycle", 3)
	v.SetDefault("cycle.blockers_per_cycle", 3)
	v.SetDefault("cycle.report_every_cycles", 5)
	v.SetDefault("cycle.planning_min_tasks", 10)
	v.SetDefault("cycle.planning_max_tasks", 25)
}

// Load reads configuration from the given file path (optional), the
// environment, and defaults, in increasing precedence of env over file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Quota.MaxRequests <= 0 {
		return fmt.Errorf("quota.max_requests must be positive, got %d", c.Quota.MaxRequests)
	}
	if c.Quota.MaxTokens <= 0 {
		return fmt.Errorf("quota.max_tokens must be positive, got %d", c.Quota.MaxTokens)
	}
	if c.Quota.HighWater <= 0 || c.Quota.HighWater > 1 {
		return fmt.Errorf("quota.high_water must be in (0,1], got %v", c.Quota.HighWater)
	}
	if c.Improve.ApprovalThreshold <= 0 || c.Improve.ApprovalThreshold > 1 {
		return fmt.Errorf("improve.approval_threshold must be in (0,1], got %v", c.Improve.ApprovalThreshold)
	}
	if c.Improve.PanelSize <= 0 {
		return fmt.Errorf("improve.panel_size must be positive, got %d", c.Improve.PanelSize)
	}
	if c.Cycle.PlanningMinTasks > c.Cycle.PlanningMaxTasks {
		return fmt.Errorf("cycle.planning_min_tasks %d exceeds planning_max_tasks %d",
			c.Cycle.PlanningMinTasks, c.Cycle.PlanningMaxTasks)
	}
	return nil
}
