// Package registry holds the static component table and resolves which
// components a run should deploy.
//
// This package is part of the Functional Core. Parsing works on bytes the
// caller has already read; resolution is a pure function of the table, the
// branch and the change set.
//
// # Functions
//
//   - Parsing: Parse, Default (embedded components.yaml)
//   - Validation: Validate (duplicate ids and targets, malformed descriptors)
//   - Resolution: Eligible (by branch), ResolveEligible (by branch and changes)
//
// # Usage
//
//	reg, err := registry.Parse(data)
//	if err != nil {
//	    // *domain.ConfigurationError: abort before any deployment
//	}
//	components := reg.ResolveEligible("main", changes.Of("slack-handler/handler.py"))
package registry
