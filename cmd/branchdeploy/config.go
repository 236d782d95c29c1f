package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/artpar/branchdeploy/internal/core/domain"
	"github.com/artpar/branchdeploy/internal/core/packaging"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Trigger   TriggerConfig   `mapstructure:"trigger"`
	Packaging PackagingConfig `mapstructure:"packaging"`
	Deploy    DeployConfig    `mapstructure:"deploy"`
	Summary   SummaryConfig   `mapstructure:"summary"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// RegistryConfig locates the component table.
type RegistryConfig struct {
	// Path is a YAML component declaration. Empty uses the table built into
	// the binary.
	Path string `mapstructure:"path"`
}

// TriggerConfig is the run context supplied by CI.
type TriggerConfig struct {
	Branch           string `mapstructure:"branch"`
	PreviousRevision string `mapstructure:"previous_revision"`
	CurrentRevision  string `mapstructure:"current_revision"`
	TreeRoot         string `mapstructure:"tree_root"`
}

// PackagingConfig holds artifact packaging configuration.
type PackagingConfig struct {
	Exclude []string `mapstructure:"exclude"`
}

// DeployConfig holds deployment backend configuration.
type DeployConfig struct {
	// DryRun logs what would be deployed without calling the backend.
	DryRun bool `mapstructure:"dry_run"`

	// Timeout bounds each component's deployment.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// MaxConcurrent is the number of components processed at once.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gte=1"`

	// WaitForUpdate waits for the function to report a successful update.
	WaitForUpdate bool          `mapstructure:"wait_for_update"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout" validate:"gt=0"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	// AWS client settings. Credentials fall back to the default chain.
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`

	// Artifacts above DirectUploadLimit bytes go through StagingBucket.
	DirectUploadLimit int    `mapstructure:"direct_upload_limit" validate:"gt=0"`
	StagingBucket     string `mapstructure:"staging_bucket"`
	StagingPrefix     string `mapstructure:"staging_prefix"`
}

// SummaryConfig controls where the run summary is written.
type SummaryConfig struct {
	// Path additionally writes the JSON summary to a file.
	Path string `mapstructure:"path"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("registry.path", "")
	v.SetDefault("trigger.branch", "")
	v.SetDefault("trigger.previous_revision", "")
	v.SetDefault("trigger.current_revision", "HEAD")
	v.SetDefault("trigger.tree_root", ".")
	v.SetDefault("packaging.exclude", packaging.DefaultExcludes)
	v.SetDefault("deploy.dry_run", false)
	v.SetDefault("deploy.timeout", "2m")
	v.SetDefault("deploy.max_concurrent", 1)
	v.SetDefault("deploy.wait_for_update", true)
	v.SetDefault("deploy.wait_timeout", "1m")
	v.SetDefault("deploy.poll_interval", "2s")
	v.SetDefault("deploy.region", "")
	v.SetDefault("deploy.endpoint", "")
	v.SetDefault("deploy.access_key_id", "")
	v.SetDefault("deploy.secret_access_key", "")
	v.SetDefault("deploy.session_token", "")
	v.SetDefault("deploy.direct_upload_limit", 50*1024*1024)
	v.SetDefault("deploy.staging_bucket", "")
	v.SetDefault("deploy.staging_prefix", "branchdeploy/")
	v.SetDefault("summary.path", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, domain.NewConfigurationError("config", fmt.Sprintf("failed to parse %s", configPath), err)
			}
			// A named file that cannot be read must not fall back to defaults
			return nil, domain.NewConfigurationError("config", fmt.Sprintf("failed to read %s", configPath), err)
		}
	}

	v.SetEnvPrefix("BRANCHDEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// CI-provided variables as fallbacks for the trigger
	_ = v.BindEnv("trigger.branch", "BRANCHDEPLOY_TRIGGER_BRANCH", "GITHUB_REF_NAME")
	_ = v.BindEnv("trigger.current_revision", "BRANCHDEPLOY_TRIGGER_CURRENT_REVISION", "GITHUB_SHA")
	_ = v.BindEnv("deploy.region", "BRANCHDEPLOY_DEPLOY_REGION", "AWS_REGION")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	return &cfg, nil
}

// Validate checks field constraints that viper cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := packaging.ValidatePatterns(c.Packaging.Exclude); err != nil {
		return fmt.Errorf("invalid configuration: packaging.exclude: %w", err)
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to w so stdout stays reserved for the run summary.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
