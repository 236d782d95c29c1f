package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/artpar/branchdeploy/internal/core/domain"
	"github.com/artpar/branchdeploy/internal/core/registry"
	"github.com/artpar/branchdeploy/internal/shell/deployer"
	"github.com/artpar/branchdeploy/internal/shell/gitdiff"
	"github.com/artpar/branchdeploy/internal/shell/orchestrator"
	"github.com/artpar/branchdeploy/internal/shell/packager"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitComponentFailed = 2
	ExitBackendError    = 3
)

// App wires the pipeline for one invocation.
type App struct {
	config       *Config
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
}

// NewApp loads the registry and builds every collaborator. Registry problems
// are reported here, before any component is processed.
func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	reg, err := loadRegistry(cfg.Registry.Path)
	if err != nil {
		return nil, &AppError{Op: "load_registry", Err: err, ExitCode: ExitConfigError}
	}
	logger.Info("registry loaded", "components", len(reg.Components()), "path", cfg.Registry.Path)

	pkg, err := packager.New(cfg.Packaging.Exclude, logger)
	if err != nil {
		return nil, &AppError{Op: "create_packager", Err: err, ExitCode: ExitConfigError}
	}

	executor, err := newExecutor(ctx, cfg, logger)
	if err != nil {
		return nil, &AppError{Op: "create_executor", Err: err, ExitCode: ExitBackendError}
	}

	orch := orchestrator.New(
		reg,
		gitdiff.NewDetector(logger),
		pkg,
		executor,
		orchestrator.Config{MaxConcurrent: cfg.Deploy.MaxConcurrent, DryRun: cfg.Deploy.DryRun},
		logger,
	)

	return &App{config: cfg, orchestrator: orch, logger: logger}, nil
}

// Run executes the configured trigger.
func (a *App) Run(ctx context.Context) (*domain.Summary, error) {
	summary, err := a.orchestrator.Run(ctx, orchestrator.Trigger{
		Branch:           a.config.Trigger.Branch,
		PreviousRevision: a.config.Trigger.PreviousRevision,
		CurrentRevision:  a.config.Trigger.CurrentRevision,
		TreeRoot:         a.config.Trigger.TreeRoot,
	})
	if err != nil {
		return nil, &AppError{Op: "run", Err: err, ExitCode: ExitConfigError}
	}
	return summary, nil
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewConfigurationError("registry.path", fmt.Sprintf("cannot read %s", path), err)
	}
	return registry.Parse(data)
}

func newExecutor(ctx context.Context, cfg *Config, logger *slog.Logger) (deployer.Executor, error) {
	if cfg.Deploy.DryRun {
		return deployer.NewDryRunExecutor(logger), nil
	}

	functions, objects, err := deployer.NewAWSClients(ctx, deployer.ClientConfig{
		Region:          cfg.Deploy.Region,
		AccessKeyID:     cfg.Deploy.AccessKeyID,
		SecretAccessKey: cfg.Deploy.SecretAccessKey,
		SessionToken:    cfg.Deploy.SessionToken,
		Endpoint:        cfg.Deploy.Endpoint,
	})
	if err != nil {
		return nil, err
	}

	return deployer.NewLambdaExecutor(functions, objects, deployer.LambdaConfig{
		Timeout:           cfg.Deploy.Timeout,
		WaitForUpdate:     cfg.Deploy.WaitForUpdate,
		WaitTimeout:       cfg.Deploy.WaitTimeout,
		PollInterval:      cfg.Deploy.PollInterval,
		DirectUploadLimit: cfg.Deploy.DirectUploadLimit,
		StagingBucket:     cfg.Deploy.StagingBucket,
		StagingPrefix:     cfg.Deploy.StagingPrefix,
	}, logger), nil
}

// WriteSummary writes the summary as indented JSON to w and, when path is
// set, to that file as well.
func WriteSummary(w io.Writer, path string, summary *domain.Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	data = append(data, '\n')

	var errs []error
	if _, err := w.Write(data); err != nil {
		errs = append(errs, err)
	}
	if path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("failed to write %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// AppError carries the operation and exit code of a failed setup step.
type AppError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}
