package deployment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/akash-network/provider-console-api/internal/events"
	"github.com/akash-network/provider-console-api/internal/faults"
	"github.com/akash-network/provider-console-api/internal/pricing"
	"github.com/akash-network/provider-console-api/internal/remote"
	"github.com/akash-network/provider-console-api/internal/storage/pg"
)

type Activities struct {
	store   *pg.Store
	pool    *remote.Pool
	fetcher *pricing.Fetcher
	runner  *pricing.Runner
	events  *events.Publisher
	logger  *slog.Logger
}

func NewActivities(
	store *pg.Store,
	pool *remote.Pool,
	fetcher *pricing.Fetcher,
	runner *pricing.Runner,
	publisher *events.Publisher,
	logger *slog.Logger,
) *Activities {
	return &Activities{
		store:   store,
		pool:    pool,
		fetcher: fetcher,
		runner:  runner,
		events:  publisher,
		logger:  logger,
	}
}

func (a *Activities) withTarget(ctx context.Context, targetID string, fn func(*remote.Session) error) error {
	target, err := a.store.GetTarget(ctx, targetID)
	if err != nil {
		return err
	}
	return a.pool.WithSession(ctx, target, fn)
}

func (a *Activities) publish(runID, targetID, step, status, errMsg string) {
	a.events.PublishStep(events.StepEvent{
		RunID:  runID,
		Target: targetID,
		Step:   step,
		Status: status,
		Error:  errMsg,
	})
}

type CheckReleaseInput struct {
	RunID           string `json:"run_id"`
	TargetID        string `json:"target_id"`
	ChartVersion    string `json:"chart_version"`
	ProviderVersion string `json:"provider_version"`
}

type CheckReleaseResult struct {
	Satisfied      bool   `json:"satisfied"`
	InstalledChart string `json:"installed_chart,omitempty"`
	InstalledApp   string `json:"installed_app,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

type helmRelease struct {
	Name       string `json:"name"`
	Chart      string `json:"chart"`
	AppVersion string `json:"app_version"`
}

// CheckRelease inspects the installed akash-provider release and reports
// whether it already satisfies the plan's versions. A satisfied check
// makes the whole run a no-op.
func (a *Activities) CheckRelease(ctx context.Context, input CheckReleaseInput) (CheckReleaseResult, error) {
	var result CheckReleaseResult
	err := a.withTarget(ctx, input.TargetID, func(session *remote.Session) error {
		out, err := session.Run(ctx, remote.Command{
			Script:     "helm list -n " + namespace + " -o json",
			BestEffort: true,
		})
		if err != nil {
			return err
		}
		if out.ExitCode != 0 {
			result.Detail = "helm not available, assuming fresh install"
			return nil
		}

		var releases []helmRelease
		if err := json.Unmarshal([]byte(strings.TrimSpace(out.Stdout)), &releases); err != nil {
			result.Detail = "unreadable helm release list, proceeding with upgrade"
			return nil
		}

		for _, release := range releases {
			if release.Name != "akash-provider" {
				continue
			}
			result.InstalledChart = strings.TrimPrefix(release.Chart, "provider-")
			result.InstalledApp = release.AppVersion
			result.Satisfied = versionAtLeast(result.InstalledChart, input.ChartVersion) &&
				versionAtLeast(result.InstalledApp, input.ProviderVersion)
			if result.Satisfied {
				result.Detail = fmt.Sprintf("provider already at chart %s, app %s",
					result.InstalledChart, result.InstalledApp)
			}
			return nil
		}
		result.Detail = "akash-provider release not installed"
		return nil
	})
	if err != nil {
		a.publish(input.RunID, input.TargetID, "check-release", StepFailed, err.Error())
		return CheckReleaseResult{}, faults.Classify(err)
	}
	return result, nil
}

func versionAtLeast(installed, want string) bool {
	if installed == "" || want == "" {
		return false
	}
	have, err := goversion.NewVersion(installed)
	if err != nil {
		return false
	}
	target, err := goversion.NewVersion(want)
	if err != nil {
		return false
	}
	return have.GreaterThanOrEqual(target)
}

type RunStepInput struct {
	RunID    string        `json:"run_id"`
	TargetID string        `json:"target_id"`
	Name     string        `json:"name"`
	Script   string        `json:"script"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

type RunStepResult struct {
	Stdout   string        `json:"stdout,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunStep executes one plan step's script on the target.
func (a *Activities) RunStep(ctx context.Context, input RunStepInput) (RunStepResult, error) {
	var result RunStepResult
	err := a.withTarget(ctx, input.TargetID, func(session *remote.Session) error {
		out, err := session.Run(ctx, remote.Command{Script: input.Script, Timeout: input.Timeout})
		if err != nil {
			return err
		}
		result = RunStepResult{Stdout: out.Stdout, Duration: out.Duration}
		return nil
	})
	if err != nil {
		a.publish(input.RunID, input.TargetID, input.Name, StepFailed, err.Error())
		return RunStepResult{}, faults.Classify(err)
	}
	a.publish(input.RunID, input.TargetID, input.Name, StepApplied, "")
	return result, nil
}

type PriceScriptInput struct {
	RunID    string `json:"run_id"`
	TargetID string `json:"target_id"`
	Version  string `json:"version,omitempty"`
}

// RefreshPriceScript backs up the installed pricing script, then fetches
// and installs the requested version.
func (a *Activities) RefreshPriceScript(ctx context.Context, input PriceScriptInput) error {
	artifact, err := a.fetcher.Fetch(ctx, input.Version)
	if err != nil {
		a.publish(input.RunID, input.TargetID, "refresh-price-script", StepFailed, err.Error())
		return faults.Classify(err)
	}

	err = a.withTarget(ctx, input.TargetID, func(session *remote.Session) error {
		if err := a.runner.Backup(ctx, session); err != nil {
			return err
		}
		return a.runner.Install(ctx, session, artifact)
	})
	if err != nil {
		a.publish(input.RunID, input.TargetID, "refresh-price-script", StepFailed, err.Error())
		return faults.Classify(err)
	}
	a.publish(input.RunID, input.TargetID, "refresh-price-script", StepApplied, "")
	return nil
}

// RestorePriceScript puts the pre-upgrade pricing script back. Used only
// as compensation during rollback.
func (a *Activities) RestorePriceScript(ctx context.Context, input PriceScriptInput) error {
	err := a.withTarget(ctx, input.TargetID, func(session *remote.Session) error {
		return a.runner.Restore(ctx, session)
	})
	if err != nil {
		a.publish(input.RunID, input.TargetID, "refresh-price-script", StepFailed, err.Error())
		return faults.Classify(err)
	}
	a.publish(input.RunID, input.TargetID, "refresh-price-script", StepCompensated, "")
	return nil
}

type RecordRunInput struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
	Run   Run    `json:"run"`
}

// RecordRun persists the run snapshot. The workflow records after every
// step so a later step never starts before the previous result is
// durable.
func (a *Activities) RecordRun(ctx context.Context, input RecordRunInput) error {
	if err := a.store.SaveRunReport(ctx, input.RunID, input.State, input.Run); err != nil {
		return faults.Classify(err)
	}
	return nil
}
