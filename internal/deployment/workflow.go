package deployment

import (
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/akash-network/provider-console-api/internal/faults"
)

// DeployProviderWorkflow runs a deployment plan step by step. Each step's
// result is recorded before the next one starts. On a compensatable
// failure, every previously applied step is compensated in reverse order
// in a disconnected context, so cancellation cannot interrupt a rollback
// and leave the target mixed-version.
func DeployProviderWorkflow(ctx workflow.Context, input DeployInput) (Run, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting DeployProviderWorkflow", "runID", input.RunID, "target", input.TargetID)

	plan := input.Plan
	if len(plan.Steps) == 0 {
		plan = DefaultPlan(plan.ChartVersion, plan.ProviderVersion, plan.ScriptVersion)
	}

	run := Run{
		RunID:     input.RunID,
		Target:    input.TargetID,
		State:     StatePending,
		StartedAt: workflow.Now(ctx).UTC(),
	}
	for _, step := range plan.Steps {
		run.Steps = append(run.Steps, StepOutcome{Name: step.Name, Status: StepPending})
	}
	if err := workflow.SetQueryHandler(ctx, QueryStatus, func() (Run, error) {
		return run, nil
	}); err != nil {
		return run, err
	}

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: faults.NonRetryable(),
		},
	})
	var activities *Activities

	record := func(c workflow.Context) error {
		return workflow.ExecuteActivity(c, activities.RecordRun, RecordRunInput{
			RunID: input.RunID,
			State: run.State,
			Run:   run,
		}).Get(c, nil)
	}

	run.State = StateRunning
	if err := record(actCtx); err != nil {
		return run, err
	}

	var check CheckReleaseResult
	if err := workflow.ExecuteActivity(actCtx, activities.CheckRelease, CheckReleaseInput{
		RunID:           input.RunID,
		TargetID:        input.TargetID,
		ChartVersion:    plan.ChartVersion,
		ProviderVersion: plan.ProviderVersion,
	}).Get(ctx, &check); err != nil {
		run.State = StateFailed
		run.FinishedAt = workflow.Now(ctx).UTC()
		recordFinal(ctx, activities, input.RunID, &run, logger)
		return run, err
	}

	if check.Satisfied {
		logger.Info("Plan already satisfied", "runID", input.RunID, "detail", check.Detail)
		run.AlreadySatisfied = true
		for i := range run.Steps {
			run.Steps[i].Status = StepSkipped
			run.Steps[i].Detail = "already satisfied"
		}
		run.State = StateSucceeded
		run.FinishedAt = workflow.Now(ctx).UTC()
		recordFinal(ctx, activities, input.RunID, &run, logger)
		return run, nil
	}

	for i := range plan.Steps {
		step := plan.Steps[i]
		run.StepIndex = i
		run.Steps[i].StartedAt = workflow.Now(ctx).UTC()

		err := executeStep(actCtx, activities, input, plan, step)
		run.Steps[i].FinishedAt = workflow.Now(ctx).UTC()

		if err == nil {
			run.Steps[i].Status = StepApplied
			if recErr := record(actCtx); recErr != nil {
				run.State = StateFailed
				run.FinishedAt = workflow.Now(ctx).UTC()
				recordFinal(ctx, activities, input.RunID, &run, logger)
				return run, recErr
			}
			continue
		}

		run.Steps[i].Status = StepFailed
		run.Steps[i].ErrorKind = faults.Kind(err)
		run.Steps[i].Error = err.Error()
		for j := i + 1; j < len(run.Steps); j++ {
			run.Steps[j].Status = StepSkipped
		}

		if !step.Compensatable {
			logger.Error("Non-compensatable step failed, halting",
				"runID", input.RunID, "step", step.Name, "error", err)
			run.State = StateFailed
			run.FinishedAt = workflow.Now(ctx).UTC()
			recordFinal(ctx, activities, input.RunID, &run, logger)
			return run, err
		}

		logger.Warn("Step failed, rolling back applied steps",
			"runID", input.RunID, "step", step.Name, "error", err)
		run.State = StateRollingBack

		rollbackCtx, _ := workflow.NewDisconnectedContext(ctx)
		rollbackCtx = workflow.WithActivityOptions(rollbackCtx, workflow.ActivityOptions{
			StartToCloseTimeout: 5 * time.Minute,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:    time.Second,
				BackoffCoefficient: 2.0,
				MaximumInterval:    30 * time.Second,
				MaximumAttempts:    3,
			},
		})
		if recErr := record(rollbackCtx); recErr != nil {
			logger.Error("Failed to record rollback start", "runID", input.RunID, "error", recErr)
		}

		for j := i - 1; j >= 0; j-- {
			if run.Steps[j].Status != StepApplied {
				continue
			}
			compErr := compensateStep(rollbackCtx, activities, input, plan, plan.Steps[j])
			if compErr != nil {
				logger.Error("Compensation failed",
					"runID", input.RunID, "step", plan.Steps[j].Name, "error", compErr)
				run.Steps[j].Detail = "compensation failed: " + compErr.Error()
				continue
			}
			run.Steps[j].Status = StepCompensated
		}

		run.State = StateRolledBack
		run.FinishedAt = workflow.Now(ctx).UTC()
		recordFinal(rollbackCtx, activities, input.RunID, &run, logger)
		return run, err
	}

	run.State = StateSucceeded
	run.FinishedAt = workflow.Now(ctx).UTC()
	recordFinal(ctx, activities, input.RunID, &run, logger)
	logger.Info("DeployProviderWorkflow finished", "runID", input.RunID, "state", run.State)
	return run, nil
}

func executeStep(ctx workflow.Context, activities *Activities, input DeployInput, plan Plan, step Step) error {
	switch step.Kind {
	case KindPriceScript:
		return workflow.ExecuteActivity(ctx, activities.RefreshPriceScript, PriceScriptInput{
			RunID:    input.RunID,
			TargetID: input.TargetID,
			Version:  plan.ScriptVersion,
		}).Get(ctx, nil)
	default:
		return workflow.ExecuteActivity(ctx, activities.RunStep, RunStepInput{
			RunID:    input.RunID,
			TargetID: input.TargetID,
			Name:     step.Name,
			Script:   step.Script,
			Timeout:  step.Timeout,
		}).Get(ctx, nil)
	}
}

func compensateStep(ctx workflow.Context, activities *Activities, input DeployInput, plan Plan, step Step) error {
	switch step.Kind {
	case KindPriceScript:
		return workflow.ExecuteActivity(ctx, activities.RestorePriceScript, PriceScriptInput{
			RunID:    input.RunID,
			TargetID: input.TargetID,
		}).Get(ctx, nil)
	default:
		if step.Compensation == "" {
			return nil
		}
		return workflow.ExecuteActivity(ctx, activities.RunStep, RunStepInput{
			RunID:    input.RunID,
			TargetID: input.TargetID,
			Name:     step.Name + ":rollback",
			Script:   step.Compensation,
			Timeout:  step.Timeout,
		}).Get(ctx, nil)
	}
}

// recordFinal persists the terminal snapshot in a disconnected context so
// the final state survives workflow cancellation.
func recordFinal(ctx workflow.Context, activities *Activities, runID string, run *Run, logger log.Logger) {
	finalCtx, _ := workflow.NewDisconnectedContext(ctx)
	finalCtx = workflow.WithActivityOptions(finalCtx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
	if err := workflow.ExecuteActivity(finalCtx, activities.RecordRun, RecordRunInput{
		RunID: runID,
		State: run.State,
		Run:   *run,
	}).Get(finalCtx, nil); err != nil {
		logger.Error("Failed to record run snapshot", "runID", runID, "error", err)
	}
}
