// Package domain defines the values that flow through a deployment run:
// component descriptors, per-component results, the run summary, and the
// error taxonomy.
//
// This package is part of the Functional Core. It performs no I/O.
//
// # Errors
//
// Component-scoped errors (*PackagingError, *DeployError) fail a single
// component and are recorded in the summary. *ConfigurationError is
// run-scoped and aborts before any component is processed.
// ErrDetectionDegraded is informational: the run continues as if every
// component changed.
package domain
