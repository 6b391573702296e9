package verification

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/akash-network/provider-console-api/internal/faults"
)

// VerifyProviderWorkflow executes the readiness checklist. Blocking
// failures short-circuit the remaining steps to not-run; advisory
// failures are recorded as warnings and the run continues. The run
// timeout bounds the whole checklist; steps that cannot start or finish
// inside it are marked timed-out, never silently dropped.
func VerifyProviderWorkflow(ctx workflow.Context, input VerifyInput) (Report, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting VerifyProviderWorkflow", "runID", input.RunID, "target", input.TargetID)

	opts := input.Options.withDefaults()

	report := Report{
		RunID:     input.RunID,
		Target:    input.TargetID,
		StartedAt: workflow.Now(ctx).UTC(),
	}
	if err := workflow.SetQueryHandler(ctx, QueryReport, func() (Report, error) {
		return report, nil
	}); err != nil {
		return report, err
	}

	deadline := workflow.Now(ctx).Add(opts.RunTimeout)

	var activities *Activities
	halted := false

	for _, step := range opts.Steps {
		outcome := StepOutcome{Name: step.Name, Severity: step.Severity, Status: StatusNotRun}

		if halted {
			report.Steps = append(report.Steps, outcome)
			continue
		}

		remaining := deadline.Sub(workflow.Now(ctx))
		if remaining <= 0 {
			outcome.Status = StatusTimedOut
			report.Steps = append(report.Steps, outcome)
			continue
		}

		stepTimeout := opts.StepTimeout
		if remaining < stepTimeout {
			stepTimeout = remaining
		}
		actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: stepTimeout,
			// ScheduleToClose caps the attempt loop as a whole so retries
			// cannot run past the checklist deadline.
			ScheduleToCloseTimeout: stepTimeout,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:        time.Second,
				BackoffCoefficient:     2.0,
				MaximumInterval:        30 * time.Second,
				MaximumAttempts:        3,
				NonRetryableErrorTypes: faults.NonRetryable(),
			},
		})

		outcome.StartedAt = workflow.Now(ctx).UTC()

		var (
			ok     bool
			detail string
			err    error
		)
		switch step.Name {
		case StepConnectivity:
			var result CheckResult
			err = workflow.ExecuteActivity(actCtx, activities.CheckConnectivity,
				CheckInput{RunID: input.RunID, TargetID: input.TargetID}).Get(ctx, &result)
			ok, detail = result.Ok, result.Detail
		case StepChainSync:
			var result CheckChainSyncResult
			err = workflow.ExecuteActivity(actCtx, activities.CheckChainSync,
				CheckChainSyncInput{RunID: input.RunID, TargetID: input.TargetID, ChainID: opts.ChainID}).Get(ctx, &result)
			ok, detail = result.Ok, result.Detail
		case StepGPUMatch:
			var result CheckGPUResult
			err = workflow.ExecuteActivity(actCtx, activities.CheckGPUInventory,
				CheckGPUInput{RunID: input.RunID, TargetID: input.TargetID, ExpectedCount: opts.ExpectedGPUCount}).Get(ctx, &result)
			ok, detail = result.Ok, result.Detail
		case StepPriceScript:
			var result CheckPriceScriptResult
			err = workflow.ExecuteActivity(actCtx, activities.CheckPriceScript,
				CheckPriceScriptInput{RunID: input.RunID, TargetID: input.TargetID, Version: opts.ScriptVersion}).Get(ctx, &result)
			ok, detail = result.Ok, result.Detail
		default:
			outcome.Status = StatusFail
			outcome.Detail = "unknown checklist step"
		}

		outcome.FinishedAt = workflow.Now(ctx).UTC()

		switch {
		case outcome.Status == StatusFail:
			// unknown step, already marked
		case err != nil && temporal.IsTimeoutError(err):
			outcome.Status = StatusTimedOut
			outcome.ErrorKind = faults.KindExecutionTimeout
			outcome.Error = err.Error()
		case err != nil:
			outcome.Status = StatusFail
			outcome.ErrorKind = faults.Kind(err)
			outcome.Error = err.Error()
		case !ok:
			outcome.Status = StatusFail
			outcome.Detail = detail
		default:
			outcome.Status = StatusPass
			outcome.Detail = detail
		}

		if outcome.Status != StatusPass {
			logger.Warn("Checklist step did not pass",
				"step", step.Name, "severity", step.Severity, "status", outcome.Status)
			if step.Severity == SeverityBlocking {
				halted = true
			}
		}

		report.Steps = append(report.Steps, outcome)
	}

	report.FinishedAt = workflow.Now(ctx).UTC()
	report.Overall = overall(report.Steps)

	recordCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
	if err := workflow.ExecuteActivity(recordCtx, activities.RecordReport, RecordReportInput{
		RunID:  input.RunID,
		Status: report.Overall,
		Report: report,
	}).Get(ctx, nil); err != nil {
		logger.Error("Failed to record verification report", "runID", input.RunID, "error", err)
		return report, err
	}

	logger.Info("VerifyProviderWorkflow finished", "runID", input.RunID, "overall", report.Overall)
	return report, nil
}

// overall folds step outcomes into the run status: fail when a blocking
// step failed or timed out, partial when only advisory steps did.
func overall(steps []StepOutcome) string {
	status := OverallPass
	for _, step := range steps {
		switch step.Status {
		case StatusPass, StatusNotRun:
			continue
		}
		if step.Severity == SeverityBlocking {
			return OverallFail
		}
		status = OverallPartial
	}
	return status
}
