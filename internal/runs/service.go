// Package runs is the request-facing surface over the orchestration
// workflows: it owns run identity, target persistence and the mapping
// between run ids and workflow executions.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lithammer/shortuuid/v4"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"golang.org/x/sync/errgroup"

	"github.com/akash-network/provider-console-api/internal/deployment"
	"github.com/akash-network/provider-console-api/internal/remote"
	"github.com/akash-network/provider-console-api/internal/storage/pg"
	"github.com/akash-network/provider-console-api/internal/verification"
)

const TaskQueue = "provider-orchestrator"

const (
	KindVerification = "verification"
	KindDeployment   = "deployment"
)

var (
	ErrNotFound           = pg.ErrNotFound
	ErrRunActive          = errors.New("a run is already active for this target")
	ErrRollbackInProgress = errors.New("rollback in progress")
)

type temporalClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...interface{}) (converter.EncodedValue, error)
	CancelWorkflow(ctx context.Context, workflowID, runID string) error
}

type runStore interface {
	SaveTarget(ctx context.Context, target remote.Target) error
	CreateRun(ctx context.Context, rec pg.RunRecord) error
	UpdateRunStatus(ctx context.Context, runID, status string) error
	GetRun(ctx context.Context, runID string) (pg.RunRecord, error)
	ListRunsByTarget(ctx context.Context, targetID string, limit int) ([]pg.RunRecord, error)
}

type Service struct {
	temporal temporalClient
	store    runStore
	logger   *slog.Logger
}

func NewService(temporalClient client.Client, store *pg.Store, logger *slog.Logger) *Service {
	return &Service{temporal: temporalClient, store: store, logger: logger}
}

func validateTarget(target remote.Target) error {
	if target.Host == "" {
		return fmt.Errorf("target host is required")
	}
	if target.User == "" {
		return fmt.Errorf("target user is required")
	}
	if len(target.PrivateKey) == 0 {
		return fmt.Errorf("target private key is required")
	}
	return nil
}

// workflowID derives one workflow identity per target so at most one
// orchestration run is active against a host at a time.
func workflowID(targetID string) string {
	return "run-" + targetID
}

func (s *Service) start(ctx context.Context, kind string, target remote.Target, wf interface{}, input interface{}, runID string) error {
	if err := s.store.SaveTarget(ctx, target); err != nil {
		return fmt.Errorf("failed to save target: %w", err)
	}

	workflowOptions := client.StartWorkflowOptions{
		ID:                                       workflowID(target.ID()),
		TaskQueue:                                TaskQueue,
		WorkflowIDConflictPolicy:                 enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}

	run, err := s.temporal.ExecuteWorkflow(ctx, workflowOptions, wf, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return ErrRunActive
		}
		s.logger.Error("failed to start workflow",
			"workflowID", workflowOptions.ID, "kind", kind, "error", err)
		return fmt.Errorf("failed to start %s workflow: %w", kind, err)
	}

	if err := s.store.CreateRun(ctx, pg.RunRecord{
		RunID:         runID,
		Kind:          kind,
		TargetID:      target.ID(),
		WorkflowID:    workflowOptions.ID,
		TemporalRunID: run.GetRunID(),
		Status:        "running",
	}); err != nil {
		s.logger.Error("failed to persist run record", "runID", runID, "error", err)
		return fmt.Errorf("failed to persist run record: %w", err)
	}

	s.logger.Info("run started", "runID", runID, "kind", kind, "target", target.ID())
	return nil
}

// StartVerification launches the readiness checklist against a target
// and returns the run id to poll the report with.
func (s *Service) StartVerification(ctx context.Context, target remote.Target, opts verification.ChecklistOptions) (string, error) {
	if err := validateTarget(target); err != nil {
		return "", err
	}

	runID := shortuuid.New()
	input := verification.VerifyInput{RunID: runID, TargetID: target.ID(), Options: opts}
	if err := s.start(ctx, KindVerification, target, verification.VerifyProviderWorkflow, input, runID); err != nil {
		return "", err
	}
	return runID, nil
}

// StartDeployment launches a deployment plan against a target.
func (s *Service) StartDeployment(ctx context.Context, target remote.Target, plan deployment.Plan) (string, error) {
	if err := validateTarget(target); err != nil {
		return "", err
	}

	runID := shortuuid.New()
	input := deployment.DeployInput{RunID: runID, TargetID: target.ID(), Plan: plan}
	if err := s.start(ctx, KindDeployment, target, deployment.DeployProviderWorkflow, input, runID); err != nil {
		return "", err
	}
	return runID, nil
}

// GetVerificationReport returns the persisted report for a finished run,
// or a live snapshot queried from the running workflow.
func (s *Service) GetVerificationReport(ctx context.Context, runID string) (verification.Report, error) {
	rec, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return verification.Report{}, err
	}
	if rec.Kind != KindVerification {
		return verification.Report{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	if len(rec.Report) > 0 {
		var report verification.Report
		if err := json.Unmarshal(rec.Report, &report); err != nil {
			return verification.Report{}, fmt.Errorf("failed to decode stored report: %w", err)
		}
		return report, nil
	}

	var report verification.Report
	value, err := s.temporal.QueryWorkflow(ctx, rec.WorkflowID, rec.TemporalRunID, verification.QueryReport)
	if err != nil {
		return verification.Report{}, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	if err := value.Get(&report); err != nil {
		return verification.Report{}, fmt.Errorf("failed to decode run %s report: %w", runID, err)
	}
	return report, nil
}

// GetDeploymentStatus returns the persisted run for a finished
// deployment, or a live snapshot queried from the running workflow.
func (s *Service) GetDeploymentStatus(ctx context.Context, runID string) (deployment.Run, error) {
	rec, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return deployment.Run{}, err
	}
	if rec.Kind != KindDeployment {
		return deployment.Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	if len(rec.Report) > 0 {
		var run deployment.Run
		if err := json.Unmarshal(rec.Report, &run); err != nil {
			return deployment.Run{}, fmt.Errorf("failed to decode stored run: %w", err)
		}
		if run.Terminal() {
			return run, nil
		}
	}

	var run deployment.Run
	value, err := s.temporal.QueryWorkflow(ctx, rec.WorkflowID, rec.TemporalRunID, deployment.QueryStatus)
	if err != nil {
		return deployment.Run{}, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	if err := value.Get(&run); err != nil {
		return deployment.Run{}, fmt.Errorf("failed to decode run %s status: %w", runID, err)
	}
	return run, nil
}

// CancelRun requests cancellation of an in-flight run. Cancellation is
// refused while a deployment rollback is in progress; interrupting a
// rollback would leave the target mixed-version.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	rec, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	if rec.Kind == KindDeployment {
		run, err := s.GetDeploymentStatus(ctx, runID)
		if err == nil && run.State == deployment.StateRollingBack {
			return ErrRollbackInProgress
		}
	}

	if err := s.temporal.CancelWorkflow(ctx, rec.WorkflowID, rec.TemporalRunID); err != nil {
		return fmt.Errorf("failed to cancel run %s: %w", runID, err)
	}
	if err := s.store.UpdateRunStatus(ctx, runID, "canceling"); err != nil {
		s.logger.Warn("failed to mark run canceling", "runID", runID, "error", err)
	}
	s.logger.Info("run cancellation requested", "runID", runID)
	return nil
}

// ListRuns fans the history lookup out across targets.
func (s *Service) ListRuns(ctx context.Context, targetIDs []string, limit int) (map[string][]pg.RunRecord, error) {
	results := make([]([]pg.RunRecord), len(targetIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, targetID := range targetIDs {
		g.Go(func() error {
			records, err := s.store.ListRunsByTarget(gctx, targetID, limit)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byTarget := make(map[string][]pg.RunRecord, len(targetIDs))
	for i, targetID := range targetIDs {
		byTarget[targetID] = results[i]
	}
	return byTarget, nil
}
