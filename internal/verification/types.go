package verification

import "time"

const (
	SeverityBlocking = "blocking"
	SeverityAdvisory = "advisory"

	StatusPass     = "pass"
	StatusFail     = "fail"
	StatusNotRun   = "not-run"
	StatusTimedOut = "timed-out"

	OverallPass    = "pass"
	OverallFail    = "fail"
	OverallPartial = "partial"

	StepConnectivity = "connectivity"
	StepChainSync    = "chain-sync"
	StepGPUMatch     = "gpu-match"
	StepPriceScript  = "price-script"

	QueryReport = "report"
)

// StepSpec names a checklist entry and how its failure is treated. A
// blocking failure short-circuits the checklist; an advisory failure is
// recorded as a warning and the run continues.
type StepSpec struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

// DefaultChecklist is the full provider readiness checklist in execution
// order.
func DefaultChecklist() []StepSpec {
	return []StepSpec{
		{Name: StepConnectivity, Severity: SeverityBlocking},
		{Name: StepChainSync, Severity: SeverityAdvisory},
		{Name: StepGPUMatch, Severity: SeverityBlocking},
		{Name: StepPriceScript, Severity: SeverityBlocking},
	}
}

type ChecklistOptions struct {
	Steps            []StepSpec    `json:"steps,omitempty"`
	ChainID          string        `json:"chain_id,omitempty"`
	ExpectedGPUCount int           `json:"expected_gpu_count,omitempty"`
	ScriptVersion    string        `json:"script_version,omitempty"`
	StepTimeout      time.Duration `json:"step_timeout,omitempty"`
	RunTimeout       time.Duration `json:"run_timeout,omitempty"`
}

func (o ChecklistOptions) withDefaults() ChecklistOptions {
	if len(o.Steps) == 0 {
		o.Steps = DefaultChecklist()
	}
	if o.StepTimeout == 0 {
		o.StepTimeout = 2 * time.Minute
	}
	if o.RunTimeout == 0 {
		o.RunTimeout = 10 * time.Minute
	}
	return o
}

// StepOutcome records one checklist entry's result. Outcomes are
// appended in checklist order and never rewritten once the run ends.
type StepOutcome struct {
	Name       string    `json:"name"`
	Severity   string    `json:"severity"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Report is the assembled result of one verification run.
type Report struct {
	RunID      string        `json:"run_id"`
	Target     string        `json:"target"`
	Steps      []StepOutcome `json:"steps"`
	Overall    string        `json:"overall"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

type VerifyInput struct {
	RunID    string           `json:"run_id"`
	TargetID string           `json:"target_id"`
	Options  ChecklistOptions `json:"options"`
}
