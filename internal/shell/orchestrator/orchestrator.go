// Package orchestrator drives one deployment run: detect changes, resolve
// the eligible components, then package and deploy each of them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/artpar/branchdeploy/internal/core/changes"
	"github.com/artpar/branchdeploy/internal/core/domain"
	"github.com/artpar/branchdeploy/internal/core/registry"
	"github.com/artpar/branchdeploy/internal/shell/deployer"
	"github.com/artpar/branchdeploy/internal/shell/packager"
)

// State names the phases of a run. They appear in logs.
type State string

const (
	StateInit             State = "init"
	StateDetectingChanges State = "detecting_changes"
	StateResolvingTargets State = "resolving_targets"
	StatePackaging        State = "packaging"
	StateDeploying        State = "deploying"
	StateRecording        State = "recording"
	StateSummarizing      State = "summarizing"
	StateDone             State = "done"
)

// ChangeDetector computes the changed path set for a revision range. Paths
// are relative to treeRoot, the same root components are packaged from.
type ChangeDetector interface {
	Detect(ctx context.Context, treeRoot, previous, current string) (changes.Set, error)
}

// Packager builds an artifact from a directory.
type Packager interface {
	Package(ctx context.Context, sourceDir string) (*packager.Artifact, error)
}

// Trigger carries the run context supplied by CI.
type Trigger struct {
	Branch           string
	PreviousRevision string // empty when unknown
	CurrentRevision  string
	TreeRoot         string
}

// Config configures the orchestrator.
type Config struct {
	// MaxConcurrent is the number of components processed at once.
	// Default: 1 (sequential).
	MaxConcurrent int

	// DryRun marks the summary and every deployed result as not having
	// reached the backend. The executor is expected to be a no-op.
	DryRun bool
}

// Orchestrator runs the pipeline. It holds no per-run state and may be
// reused across runs.
type Orchestrator struct {
	registry *registry.Registry
	detector ChangeDetector
	packager Packager
	executor deployer.Executor
	config   Config
	logger   *slog.Logger
}

// New creates an orchestrator over a validated registry.
func New(
	reg *registry.Registry,
	detector ChangeDetector,
	pkg Packager,
	executor deployer.Executor,
	config Config,
	logger *slog.Logger,
) *Orchestrator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		registry: reg,
		detector: detector,
		packager: pkg,
		executor: executor,
		config:   config,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Run executes one run. Component failures are recorded in the summary and
// never returned; the error is reserved for run-scoped problems found before
// any component is touched.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (*domain.Summary, error) {
	if trigger.Branch == "" {
		return nil, domain.NewConfigurationError("trigger.branch", "branch name is required", nil)
	}
	if trigger.CurrentRevision == "" {
		trigger.CurrentRevision = "HEAD"
	}
	if trigger.TreeRoot == "" {
		trigger.TreeRoot = "."
	}

	runID := uuid.New().String()
	logger := o.logger.With("run_id", runID, "branch", trigger.Branch)
	logger.Info("run started",
		"state", StateInit,
		"previous_revision", trigger.PreviousRevision,
		"current_revision", trigger.CurrentRevision,
	)

	logger.Debug("detecting changes", "state", StateDetectingChanges)
	set, err := o.detector.Detect(ctx, trigger.TreeRoot, trigger.PreviousRevision, trigger.CurrentRevision)
	degraded := err != nil
	if degraded {
		logger.Warn("change detection degraded, deploying every eligible component", "error", err)
	}

	logger.Debug("resolving targets", "state", StateResolvingTargets)
	all := o.registry.Components()
	selected := o.registry.ResolveEligible(trigger.Branch, set)
	logger.Info("resolved components",
		"eligible", len(o.registry.Eligible(trigger.Branch)),
		"affected", len(selected),
		"all_changed", set.IsAll(),
	)

	results := make([]domain.Result, len(all))
	slot := make(map[string]int, len(all))
	for i, c := range all {
		slot[c.ID] = i
		if c.EligibleOn(trigger.Branch) {
			results[i] = domain.Skipped(c, domain.SkipUnchanged)
		} else {
			results[i] = domain.Skipped(c, domain.SkipNotEligible)
		}
	}

	o.process(ctx, logger, trigger.TreeRoot, selected, func(r domain.Result) {
		results[slot[r.ComponentID]] = r
	})

	logger.Debug("summarizing", "state", StateSummarizing)
	summary := domain.Summarize(results, len(selected))
	summary.RunID = runID
	summary.Branch = trigger.Branch
	summary.PreviousRevision = trigger.PreviousRevision
	summary.CurrentRevision = trigger.CurrentRevision
	summary.ChangesDegraded = degraded
	summary.DryRun = o.config.DryRun

	logger.Info("run finished",
		"state", StateDone,
		"status", summary.Status,
		"deployed", len(summary.Deployed),
		"skipped", len(summary.Skipped),
		"failed", len(summary.Failed),
	)
	return &summary, nil
}

// process handles every selected component. Each result is recorded exactly
// once; record is never called concurrently.
func (o *Orchestrator) process(ctx context.Context, logger *slog.Logger, treeRoot string, components []domain.Component, record func(domain.Result)) {
	if len(components) == 0 {
		return
	}

	var mu sync.Mutex
	sem := make(chan struct{}, o.config.MaxConcurrent)
	var wg sync.WaitGroup

	for _, c := range components {
		wg.Add(1)
		sem <- struct{}{}
		go func(c domain.Component) {
			defer wg.Done()
			defer func() { <-sem }()

			result := o.deployComponent(ctx, logger, treeRoot, c)

			mu.Lock()
			record(result)
			mu.Unlock()
		}(c)
	}

	wg.Wait()
}

// deployComponent is the failure boundary for one component.
func (o *Orchestrator) deployComponent(ctx context.Context, logger *slog.Logger, treeRoot string, c domain.Component) (result domain.Result) {
	logger = logger.With("component_id", c.ID, "target", c.Target)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("component panicked", "panic", r)
			result = domain.Failed(c, fmt.Errorf("panic: %v", r))
		}
		logger.Debug("recorded outcome", "state", StateRecording, "outcome", result.Outcome)
	}()

	logger.Debug("packaging", "state", StatePackaging, "source_dir", c.SourceDir)
	artifact, err := o.packager.Package(ctx, filepath.Join(treeRoot, filepath.FromSlash(c.SourceDir)))
	if err != nil {
		var pkgErr *domain.PackagingError
		if errors.As(err, &pkgErr) {
			pkgErr.ComponentID = c.ID
		}
		logger.Error("packaging failed", "error", err)
		return domain.Failed(c, err)
	}

	logger.Debug("deploying", "state", StateDeploying, "files", len(artifact.Files), "bytes", artifact.Size())
	if err := o.executor.Deploy(ctx, c.Target, artifact); err != nil {
		logger.Error("deployment failed", "error", err)
		return domain.Failed(c, err)
	}

	logger.Info("component deployed", "dry_run", o.config.DryRun)
	result = domain.Deployed(c)
	if o.config.DryRun {
		result.Reason = domain.DeployedDryRun
	}
	return result
}
