package deployment

import "time"

// Run states.
const (
	StatePending     = "pending"
	StateRunning     = "running"
	StateSucceeded   = "succeeded"
	StateFailed      = "failed"
	StateRollingBack = "rolling-back"
	StateRolledBack  = "rolled-back"
)

// Per-step statuses within a run.
const (
	StepPending     = "pending"
	StepApplied     = "applied"
	StepFailed      = "failed"
	StepSkipped     = "skipped"
	StepCompensated = "compensated"
)

// Step kinds decide which activity executes them. Remote steps run a
// shell script on the target; the price-script step fetches the artifact
// locally before installing it.
const (
	KindRemote      = "remote"
	KindPriceScript = "price-script"
)

const QueryStatus = "status"

// Step is one entry of a deployment plan. Compensatable steps trigger a
// rollback of previously applied steps when they fail; steps without a
// compensation script are skipped during rollback.
type Step struct {
	Name          string        `json:"name"`
	Kind          string        `json:"kind"`
	Script        string        `json:"script,omitempty"`
	Compensation  string        `json:"compensation,omitempty"`
	Compensatable bool          `json:"compensatable"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

// Plan is an ordered sequence of steps pinned to chart and provider
// versions. Re-running a plan against a target already at these versions
// is a no-op reported as already satisfied.
type Plan struct {
	ChartVersion    string `json:"chart_version"`
	ProviderVersion string `json:"provider_version"`
	ScriptVersion   string `json:"script_version,omitempty"`
	Steps           []Step `json:"steps"`
}

// StepOutcome records what happened to one plan step.
type StepOutcome struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Run is the durable record of one deployment. StepIndex points at the
// step currently executing while the run is live.
type Run struct {
	RunID            string        `json:"run_id"`
	Target           string        `json:"target"`
	State            string        `json:"state"`
	StepIndex        int           `json:"step_index"`
	Steps            []StepOutcome `json:"steps"`
	AlreadySatisfied bool          `json:"already_satisfied,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at,omitempty"`
}

// Terminal reports whether the run reached a final state.
func (r Run) Terminal() bool {
	switch r.State {
	case StateSucceeded, StateFailed, StateRolledBack:
		return true
	}
	return false
}

type DeployInput struct {
	RunID    string `json:"run_id"`
	TargetID string `json:"target_id"`
	Plan     Plan   `json:"plan"`
}
