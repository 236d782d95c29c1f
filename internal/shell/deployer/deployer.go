// Package deployer pushes packaged artifacts to remote function targets.
// This is part of the Imperative Shell - handles I/O with the AWS Lambda API.
package deployer

import (
	"context"

	"github.com/artpar/branchdeploy/internal/shell/packager"
)

// Executor uploads one artifact to one target. Implementations make a single
// attempt and never retry.
type Executor interface {
	// Deploy replaces the code of target with artifact. Errors are
	// *domain.DeployError.
	Deploy(ctx context.Context, target string, artifact *packager.Artifact) error
}
