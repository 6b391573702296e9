package deployment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func newTestEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DeployProviderWorkflow)
	return env
}

func queryRun(t *testing.T, env *testsuite.TestWorkflowEnvironment) Run {
	t.Helper()
	value, err := env.QueryWorkflow(QueryStatus)
	if err != nil {
		t.Fatalf("QueryWorkflow(%s) error = %v", QueryStatus, err)
	}
	var run Run
	if err := value.Get(&run); err != nil {
		t.Fatalf("decode queried run: %v", err)
	}
	return run
}

func TestDeployWorkflow_AlreadySatisfiedIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	env.OnActivity(a.RecordRun, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.CheckRelease, mock.Anything, mock.Anything).
		Return(CheckReleaseResult{
			Satisfied:      true,
			InstalledChart: "11.6.0",
			InstalledApp:   "v0.6.10",
			Detail:         "provider already at chart 11.6.0, app v0.6.10",
		}, nil)

	env.ExecuteWorkflow(DeployProviderWorkflow, DeployInput{
		RunID:    "run-1",
		TargetID: "tester@10.0.0.5:22",
	})

	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error = %v", err)
	}

	var run Run
	if err := env.GetWorkflowResult(&run); err != nil {
		t.Fatalf("GetWorkflowResult() error = %v", err)
	}
	if !run.AlreadySatisfied {
		t.Fatal("AlreadySatisfied = false, want true")
	}
	if run.State != StateSucceeded {
		t.Fatalf("state = %q, want %q", run.State, StateSucceeded)
	}
	for _, step := range run.Steps {
		if step.Status != StepSkipped {
			t.Fatalf("step %s status = %q, want skipped", step.Name, step.Status)
		}
	}
	env.AssertNotCalled(t, "RunStep", mock.Anything, mock.Anything)
	env.AssertNotCalled(t, "RefreshPriceScript", mock.Anything, mock.Anything)
}

// A failure on the provider upgrade must compensate the applied steps in
// reverse order and leave the run rolled back.
func TestDeployWorkflow_RollbackReverseOrder(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	var calls []string

	env.OnActivity(a.RecordRun, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.CheckRelease, mock.Anything, mock.Anything).
		Return(CheckReleaseResult{Detail: "akash-provider release not installed"}, nil)
	env.OnActivity(a.RefreshPriceScript, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input PriceScriptInput) error {
			calls = append(calls, "refresh-price-script")
			return nil
		})
	env.OnActivity(a.RestorePriceScript, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input PriceScriptInput) error {
			calls = append(calls, "restore-price-script")
			return nil
		})
	env.OnActivity(a.RunStep, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input RunStepInput) (RunStepResult, error) {
			calls = append(calls, input.Name)
			if input.Name == "upgrade-provider" {
				return RunStepResult{}, temporal.NewNonRetryableApplicationError(
					"remote: command failed with exit code 1", "CommandFailed", errors.New("exit 1"))
			}
			return RunStepResult{Duration: time.Second}, nil
		})

	env.ExecuteWorkflow(DeployProviderWorkflow, DeployInput{
		RunID:    "run-2",
		TargetID: "tester@10.0.0.5:22",
	})

	if err := env.GetWorkflowError(); err == nil {
		t.Fatal("workflow error = nil, want failure")
	}

	want := []string{
		"repo-update",
		"refresh-price-script",
		"upgrade-operators",
		"upgrade-provider",
		"upgrade-operators:rollback",
		"restore-price-script",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q (full order %v)", i, calls[i], want[i], calls)
		}
	}

	run := queryRun(t, env)
	if run.State != StateRolledBack {
		t.Fatalf("state = %q, want %q", run.State, StateRolledBack)
	}
	byName := map[string]StepOutcome{}
	for _, step := range run.Steps {
		byName[step.Name] = step
	}
	if got := byName["upgrade-provider"]; got.Status != StepFailed || got.ErrorKind != "CommandFailed" {
		t.Fatalf("upgrade-provider outcome = %+v, want failed CommandFailed", got)
	}
	for _, name := range []string{"refresh-price-script", "upgrade-operators"} {
		if byName[name].Status != StepCompensated {
			t.Fatalf("step %s status = %q, want compensated", name, byName[name].Status)
		}
	}
	if byName["verify-pods"].Status != StepSkipped {
		t.Fatalf("verify-pods status = %q, want skipped", byName["verify-pods"].Status)
	}
}

func TestDeployWorkflow_NonCompensatableFailureHalts(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	var calls []string

	env.OnActivity(a.RecordRun, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.CheckRelease, mock.Anything, mock.Anything).
		Return(CheckReleaseResult{}, nil)
	env.OnActivity(a.RunStep, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input RunStepInput) (RunStepResult, error) {
			calls = append(calls, input.Name)
			if input.Name == "migrate" {
				return RunStepResult{}, temporal.NewNonRetryableApplicationError(
					"remote: command failed with exit code 2", "CommandFailed", errors.New("exit 2"))
			}
			return RunStepResult{}, nil
		})

	plan := Plan{
		ChartVersion:    "11.6.0",
		ProviderVersion: "v0.6.10",
		Steps: []Step{
			{Name: "prepare", Script: "true", Compensation: "echo undo", Compensatable: true},
			{Name: "migrate", Script: "false", Compensatable: false},
			{Name: "finish", Script: "true", Compensatable: true},
		},
	}

	env.ExecuteWorkflow(DeployProviderWorkflow, DeployInput{
		RunID:    "run-3",
		TargetID: "tester@10.0.0.5:22",
		Plan:     plan,
	})

	if err := env.GetWorkflowError(); err == nil {
		t.Fatal("workflow error = nil, want failure")
	}

	for _, name := range calls {
		if name == "prepare:rollback" {
			t.Fatal("compensation ran for a non-compensatable failure")
		}
	}

	run := queryRun(t, env)
	if run.State != StateFailed {
		t.Fatalf("state = %q, want %q", run.State, StateFailed)
	}
	if run.Steps[0].Status != StepApplied {
		t.Fatalf("prepare status = %q, want applied", run.Steps[0].Status)
	}
	if run.Steps[1].Status != StepFailed {
		t.Fatalf("migrate status = %q, want failed", run.Steps[1].Status)
	}
	if run.Steps[2].Status != StepSkipped {
		t.Fatalf("finish status = %q, want skipped", run.Steps[2].Status)
	}
}

// When the mid-run record after an applied step fails, the persisted
// snapshot must still reach the terminal failed state instead of staying
// at running forever.
func TestDeployWorkflow_RecordFailureStillPersistsFinalState(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	var recorded []string
	var records int
	env.OnActivity(a.RecordRun, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, input RecordRunInput) error {
			records++
			// First record is the initial running snapshot; the second is
			// the post-step record that fails.
			if records == 2 {
				return temporal.NewNonRetryableApplicationError(
					"store: run snapshot write failed", "InternalError", errors.New("connection refused"))
			}
			recorded = append(recorded, input.State)
			return nil
		})
	env.OnActivity(a.CheckRelease, mock.Anything, mock.Anything).
		Return(CheckReleaseResult{}, nil)
	env.OnActivity(a.RunStep, mock.Anything, mock.Anything).
		Return(RunStepResult{Duration: time.Second}, nil)

	plan := Plan{
		ChartVersion:    "11.6.0",
		ProviderVersion: "v0.6.10",
		Steps: []Step{
			{Name: "prepare", Script: "true", Compensatable: true},
		},
	}

	env.ExecuteWorkflow(DeployProviderWorkflow, DeployInput{
		RunID:    "run-5",
		TargetID: "tester@10.0.0.5:22",
		Plan:     plan,
	})

	if err := env.GetWorkflowError(); err == nil {
		t.Fatal("workflow error = nil, want record failure")
	}

	run := queryRun(t, env)
	if run.State != StateFailed {
		t.Fatalf("state = %q, want %q", run.State, StateFailed)
	}
	if run.Steps[0].Status != StepApplied {
		t.Fatalf("prepare status = %q, want applied", run.Steps[0].Status)
	}
	if len(recorded) == 0 || recorded[len(recorded)-1] != StateFailed {
		t.Fatalf("recorded states = %v, want terminal %q", recorded, StateFailed)
	}
}

func TestDeployWorkflow_AllStepsApplied(t *testing.T) {
	env := newTestEnv(t)
	a := &Activities{}

	env.OnActivity(a.RecordRun, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.CheckRelease, mock.Anything, mock.Anything).
		Return(CheckReleaseResult{Detail: "akash-provider release not installed"}, nil)
	env.OnActivity(a.RefreshPriceScript, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.RunStep, mock.Anything, mock.Anything).
		Return(RunStepResult{Duration: time.Second}, nil)

	env.ExecuteWorkflow(DeployProviderWorkflow, DeployInput{
		RunID:    "run-4",
		TargetID: "tester@10.0.0.5:22",
	})

	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error = %v", err)
	}

	var run Run
	if err := env.GetWorkflowResult(&run); err != nil {
		t.Fatalf("GetWorkflowResult() error = %v", err)
	}
	if run.State != StateSucceeded {
		t.Fatalf("state = %q, want %q", run.State, StateSucceeded)
	}
	for _, step := range run.Steps {
		if step.Status != StepApplied {
			t.Fatalf("step %s status = %q, want applied", step.Name, step.Status)
		}
	}
}
