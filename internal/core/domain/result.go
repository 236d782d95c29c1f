package domain

// =============================================================================
// Outcome
// =============================================================================

// Outcome is the per-component result of a run.
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDeployed Outcome = "deployed"
	OutcomeFailed   Outcome = "failed"
)

// Skip reasons recorded on skipped results.
const (
	SkipNotEligible = "not eligible on branch"
	SkipUnchanged   = "no changes under source directory"
)

// DeployedDryRun is the reason recorded on results of a dry run, where the
// artifact was built but the backend was never called.
const DeployedDryRun = "dry run: backend not called"

// Result is produced once per component per run.
type Result struct {
	ComponentID string  `json:"component_id"`
	Target      string  `json:"target"`
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
}

// Skipped builds a skipped result.
func Skipped(c Component, reason string) Result {
	return Result{ComponentID: c.ID, Target: c.Target, Outcome: OutcomeSkipped, Reason: reason}
}

// Deployed builds a deployed result.
func Deployed(c Component) Result {
	return Result{ComponentID: c.ID, Target: c.Target, Outcome: OutcomeDeployed}
}

// Failed builds a failed result from the error that stopped the component.
func Failed(c Component, err error) Result {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Result{ComponentID: c.ID, Target: c.Target, Outcome: OutcomeFailed, Reason: reason}
}

// =============================================================================
// Run Summary
// =============================================================================

// RunStatus is the overall status of a run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// FailedComponent pairs a failed component with its reason.
type FailedComponent struct {
	ComponentID string `json:"component_id"`
	Reason      string `json:"reason"`
}

// Summary is the structured record of one run.
type Summary struct {
	RunID            string            `json:"run_id"`
	Branch           string            `json:"branch"`
	PreviousRevision string            `json:"previous_revision,omitempty"`
	CurrentRevision  string            `json:"current_revision"`
	ChangesDegraded  bool              `json:"changes_degraded"`
	DryRun           bool              `json:"dry_run"`
	TotalEligible    int               `json:"total_eligible"`
	Deployed         []string          `json:"deployed"`
	Skipped          []string          `json:"skipped"`
	Failed           []FailedComponent `json:"failed"`
	Results          []Result          `json:"results"`
	Status           RunStatus         `json:"status"`
}

// Summarize aggregates per-component results, kept in the given order.
// totalEligible is the number of eligible-and-affected components.
func Summarize(results []Result, totalEligible int) Summary {
	s := Summary{
		TotalEligible: totalEligible,
		Deployed:      []string{},
		Skipped:       []string{},
		Failed:        []FailedComponent{},
		Results:       results,
		Status:        RunSuccess,
	}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeDeployed:
			s.Deployed = append(s.Deployed, r.ComponentID)
		case OutcomeSkipped:
			s.Skipped = append(s.Skipped, r.ComponentID)
		case OutcomeFailed:
			s.Failed = append(s.Failed, FailedComponent{ComponentID: r.ComponentID, Reason: r.Reason})
			s.Status = RunFailed
		}
	}
	return s
}

// Succeeded reports whether no component failed.
func (s Summary) Succeeded() bool {
	return len(s.Failed) == 0
}
