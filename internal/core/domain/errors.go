package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Change detection errors
	ErrDetectionDegraded = errors.New("change detection degraded to full deployment")

	// Packaging errors
	ErrSourceMissing = errors.New("source directory does not exist")
	ErrSourceEmpty   = errors.New("source directory is empty after exclusion")
	ErrIrregularFile = errors.New("irregular file in source directory")

	// Deployment errors
	ErrDeployTimeout  = errors.New("deployment timed out")
	ErrDeployRejected = errors.New("deployment rejected by backend")

	// Configuration errors
	ErrDuplicateTarget    = errors.New("duplicate target name")
	ErrDuplicateComponent = errors.New("duplicate component id")
	ErrInvalidComponent   = errors.New("invalid component descriptor")
)

// PackagingError is scoped to one component. It fails that component only.
type PackagingError struct {
	ComponentID string
	SourceDir   string
	Message     string
	Err         error
}

func (e *PackagingError) Error() string {
	if e.ComponentID != "" {
		return fmt.Sprintf("package %s (%s): %s", e.ComponentID, e.SourceDir, e.Message)
	}
	return fmt.Sprintf("package %s: %s", e.SourceDir, e.Message)
}

func (e *PackagingError) Unwrap() error {
	return e.Err
}

// NewPackagingError creates a new PackagingError.
func NewPackagingError(sourceDir, message string, err error) *PackagingError {
	return &PackagingError{
		SourceDir: sourceDir,
		Message:   message,
		Err:       err,
	}
}

// DeployErrorKind classifies a DeployError.
type DeployErrorKind string

const (
	DeployErrorTimeout  DeployErrorKind = "timeout"
	DeployErrorRejected DeployErrorKind = "rejected"
	DeployErrorBackend  DeployErrorKind = "backend"
)

// DeployError is scoped to one target. It fails that component only.
type DeployError struct {
	Target  string
	Kind    DeployErrorKind
	Code    string // Backend error code, if the backend returned one
	Message string
	Err     error
}

func (e *DeployError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("deploy %s: %s (%s): %s", e.Target, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("deploy %s: %s: %s", e.Target, e.Kind, e.Message)
}

func (e *DeployError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels without the caller wrapping them.
func (e *DeployError) Is(target error) bool {
	switch target {
	case ErrDeployTimeout:
		return e.Kind == DeployErrorTimeout
	case ErrDeployRejected:
		return e.Kind == DeployErrorRejected
	}
	return false
}

// NewDeployError creates a new DeployError.
func NewDeployError(target string, kind DeployErrorKind, code, message string, err error) *DeployError {
	return &DeployError{
		Target:  target,
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ConfigurationError is fatal to the whole run and is raised before any
// component is processed.
type ConfigurationError struct {
	Field   string // e.g., "components[2].target"
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, message string, err error) *ConfigurationError {
	return &ConfigurationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
