package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/akash-network/provider-console-api/internal/faults"
)

func newTestEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(VerifyProviderWorkflow)
	return env
}

// Mirrors a provider whose chain endpoint is down and whose GPUs do not
// match the catalog: connectivity passes, chain-sync fails as a warning,
// gpu-match fails and blocks, overall is fail.
func TestVerifyWorkflow_BlockingAndAdvisoryFailures(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	env.OnActivity(a.CheckConnectivity, mock.Anything, mock.Anything).
		Return(CheckResult{Ok: true, Detail: "reachable, sudo ok"}, nil)
	env.OnActivity(a.CheckChainSync, mock.Anything, mock.Anything).
		Return(CheckChainSyncResult{}, temporal.NewNonRetryableApplicationError(
			"chain: endpoint unavailable: 503", "UpstreamUnavailable", errors.New("503")))
	env.OnActivity(a.CheckGPUInventory, mock.Anything, mock.Anything).
		Return(CheckGPUResult{Ok: false, Detail: "unsupported devices: 10de:ffff"}, nil)
	env.OnActivity(a.RecordReport, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(VerifyProviderWorkflow, VerifyInput{
		RunID:    "run-1",
		TargetID: "tester@10.0.0.5:22",
		Options: ChecklistOptions{
			Steps: []StepSpec{
				{Name: StepConnectivity, Severity: SeverityBlocking},
				{Name: StepChainSync, Severity: SeverityAdvisory},
				{Name: StepGPUMatch, Severity: SeverityBlocking},
			},
		},
	})

	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error = %v", err)
	}

	var report Report
	if err := env.GetWorkflowResult(&report); err != nil {
		t.Fatalf("GetWorkflowResult() error = %v", err)
	}

	if report.Overall != OverallFail {
		t.Fatalf("overall = %q, want %q", report.Overall, OverallFail)
	}
	if len(report.Steps) != 3 {
		t.Fatalf("len(steps) = %d, want 3", len(report.Steps))
	}
	if report.Steps[0].Status != StatusPass {
		t.Fatalf("connectivity status = %q, want pass", report.Steps[0].Status)
	}
	if report.Steps[1].Status != StatusFail || report.Steps[1].Severity != SeverityAdvisory {
		t.Fatalf("chain-sync outcome = %+v, want advisory fail", report.Steps[1])
	}
	if report.Steps[1].ErrorKind != "UpstreamUnavailable" {
		t.Fatalf("chain-sync error kind = %q, want UpstreamUnavailable", report.Steps[1].ErrorKind)
	}
	if report.Steps[2].Status != StatusFail {
		t.Fatalf("gpu-match status = %q, want fail", report.Steps[2].Status)
	}
}

func TestVerifyWorkflow_BlockingFailureSkipsRemainingSteps(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	env.OnActivity(a.CheckConnectivity, mock.Anything, mock.Anything).
		Return(CheckResult{Ok: true}, nil)
	env.OnActivity(a.CheckChainSync, mock.Anything, mock.Anything).
		Return(CheckChainSyncResult{Ok: true, Detail: "synced"}, nil)
	env.OnActivity(a.CheckGPUInventory, mock.Anything, mock.Anything).
		Return(CheckGPUResult{Ok: false, Detail: "detected 0 GPUs, expected 1"}, nil)
	env.OnActivity(a.RecordReport, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(VerifyProviderWorkflow, VerifyInput{
		RunID:    "run-2",
		TargetID: "tester@10.0.0.5:22",
		Options:  ChecklistOptions{ExpectedGPUCount: 1},
	})

	var report Report
	if err := env.GetWorkflowResult(&report); err != nil {
		t.Fatalf("GetWorkflowResult() error = %v", err)
	}

	if report.Overall != OverallFail {
		t.Fatalf("overall = %q, want fail", report.Overall)
	}
	// gpu-match is the third default step; price-script must not run.
	if report.Steps[3].Name != StepPriceScript || report.Steps[3].Status != StatusNotRun {
		t.Fatalf("price-script outcome = %+v, want not-run", report.Steps[3])
	}
	env.AssertNotCalled(t, "CheckPriceScript", mock.Anything, mock.Anything)
}

func TestVerifyWorkflow_AdvisoryOnlyFailureIsPartial(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	env.OnActivity(a.CheckConnectivity, mock.Anything, mock.Anything).
		Return(CheckResult{Ok: true}, nil)
	env.OnActivity(a.CheckChainSync, mock.Anything, mock.Anything).
		Return(CheckChainSyncResult{Ok: false, Detail: "node catching up at height 100"}, nil)
	env.OnActivity(a.CheckGPUInventory, mock.Anything, mock.Anything).
		Return(CheckGPUResult{Ok: true, Detail: "1 supported GPUs detected"}, nil)
	env.OnActivity(a.CheckPriceScript, mock.Anything, mock.Anything).
		Return(CheckPriceScriptResult{Ok: true}, nil)
	env.OnActivity(a.RecordReport, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(VerifyProviderWorkflow, VerifyInput{
		RunID:    "run-3",
		TargetID: "tester@10.0.0.5:22",
	})

	var report Report
	if err := env.GetWorkflowResult(&report); err != nil {
		t.Fatalf("GetWorkflowResult() error = %v", err)
	}
	if report.Overall != OverallPartial {
		t.Fatalf("overall = %q, want partial", report.Overall)
	}
}

func TestVerifyWorkflow_AllPass(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	env.OnActivity(a.CheckConnectivity, mock.Anything, mock.Anything).
		Return(CheckResult{Ok: true}, nil)
	env.OnActivity(a.CheckChainSync, mock.Anything, mock.Anything).
		Return(CheckChainSyncResult{Ok: true}, nil)
	env.OnActivity(a.CheckGPUInventory, mock.Anything, mock.Anything).
		Return(CheckGPUResult{Ok: true}, nil)
	env.OnActivity(a.CheckPriceScript, mock.Anything, mock.Anything).
		Return(CheckPriceScriptResult{Ok: true}, nil)
	env.OnActivity(a.RecordReport, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(VerifyProviderWorkflow, VerifyInput{
		RunID:    "run-4",
		TargetID: "tester@10.0.0.5:22",
	})

	var report Report
	if err := env.GetWorkflowResult(&report); err != nil {
		t.Fatalf("GetWorkflowResult() error = %v", err)
	}
	if report.Overall != OverallPass {
		t.Fatalf("overall = %q, want pass", report.Overall)
	}
	for _, step := range report.Steps {
		if step.Status != StatusPass {
			t.Fatalf("step %s status = %q, want pass", step.Name, step.Status)
		}
	}
}

// A step that keeps failing retryably must not let its retries run past
// the checklist deadline: the attempt loop is cut off, the step is
// marked timed-out, and later steps never start.
func TestVerifyWorkflow_RunDeadlineCutsOffRetries(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	var attempts int
	env.OnActivity(a.CheckChainSync, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input CheckChainSyncInput) (CheckChainSyncResult, error) {
			attempts++
			return CheckChainSyncResult{}, errors.New("rpc: connection reset")
		})
	env.OnActivity(a.RecordReport, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(VerifyProviderWorkflow, VerifyInput{
		RunID:    "run-6",
		TargetID: "tester@10.0.0.5:22",
		Options: ChecklistOptions{
			Steps: []StepSpec{
				{Name: StepChainSync, Severity: SeverityAdvisory},
				{Name: StepGPUMatch, Severity: SeverityBlocking},
			},
			StepTimeout: 5 * time.Second,
			RunTimeout:  time.Second,
		},
	})

	var report Report
	if err := env.GetWorkflowResult(&report); err != nil {
		t.Fatalf("GetWorkflowResult() error = %v", err)
	}

	if report.Steps[0].Status != StatusTimedOut {
		t.Fatalf("chain-sync status = %q, want timed-out", report.Steps[0].Status)
	}
	if report.Steps[0].ErrorKind != faults.KindExecutionTimeout {
		t.Fatalf("chain-sync error kind = %q, want %q", report.Steps[0].ErrorKind, faults.KindExecutionTimeout)
	}
	if report.Steps[1].Status != StatusTimedOut {
		t.Fatalf("gpu-match status = %q, want timed-out", report.Steps[1].Status)
	}
	if report.Overall != OverallFail {
		t.Fatalf("overall = %q, want fail", report.Overall)
	}
	// With a 1s retry interval at most two attempts fit inside the run
	// timeout; more means retries outlived the deadline.
	if attempts > 2 {
		t.Fatalf("chain-sync attempts = %d, want at most 2", attempts)
	}
	env.AssertNotCalled(t, "CheckGPUInventory", mock.Anything, mock.Anything)
}

// A blocking connectivity failure must surface the error kind instead of
// collapsing into a generic failure.
func TestVerifyWorkflow_ConnectionErrorSurfaced(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	env.OnActivity(a.CheckConnectivity, mock.Anything, mock.Anything).
		Return(CheckResult{}, temporal.NewNonRetryableApplicationError(
			"ssh: connection to 10.0.0.5:22 failed", "ConnectionError", errors.New("refused")))
	env.OnActivity(a.RecordReport, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(VerifyProviderWorkflow, VerifyInput{
		RunID:    "run-5",
		TargetID: "tester@10.0.0.5:22",
	})

	var report Report
	if err := env.GetWorkflowResult(&report); err != nil {
		t.Fatalf("GetWorkflowResult() error = %v", err)
	}
	if report.Overall != OverallFail {
		t.Fatalf("overall = %q, want fail", report.Overall)
	}
	if report.Steps[0].ErrorKind != "ConnectionError" {
		t.Fatalf("connectivity error kind = %q, want ConnectionError", report.Steps[0].ErrorKind)
	}
	for _, step := range report.Steps[1:] {
		if step.Status != StatusNotRun {
			t.Fatalf("step %s status = %q, want not-run", step.Name, step.Status)
		}
	}
}
