package deployer

import (
	"context"
	"log/slog"

	"github.com/artpar/branchdeploy/internal/shell/packager"
)

// DryRunExecutor logs what would be deployed and changes nothing.
type DryRunExecutor struct {
	logger *slog.Logger
}

// NewDryRunExecutor creates a dry-run executor.
func NewDryRunExecutor(logger *slog.Logger) *DryRunExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunExecutor{logger: logger.With("component", "dry_run_executor")}
}

// Deploy always succeeds.
func (e *DryRunExecutor) Deploy(ctx context.Context, target string, artifact *packager.Artifact) error {
	e.logger.Info("dry run: would update function code",
		"target", target,
		"files", len(artifact.Files),
		"bytes", artifact.Size(),
		"sha256", artifact.SHA256,
	)
	return nil
}
