package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/akash-network/provider-console-api/internal/chain"
	"github.com/akash-network/provider-console-api/internal/events"
	"github.com/akash-network/provider-console-api/internal/faults"
	"github.com/akash-network/provider-console-api/internal/gpu"
	"github.com/akash-network/provider-console-api/internal/pricing"
	"github.com/akash-network/provider-console-api/internal/remote"
	"github.com/akash-network/provider-console-api/internal/storage/pg"
)

// Activities run the individual checklist probes. Workflow inputs carry
// the target id only; key material is resolved and decrypted here so it
// never enters workflow history.
type Activities struct {
	store   *pg.Store
	pool    *remote.Pool
	chain   *chain.Client
	fetcher *pricing.Fetcher
	runner  *pricing.Runner
	catalog *gpu.CatalogClient
	events  *events.Publisher
	logger  *slog.Logger
}

func NewActivities(
	store *pg.Store,
	pool *remote.Pool,
	chainClient *chain.Client,
	fetcher *pricing.Fetcher,
	runner *pricing.Runner,
	catalog *gpu.CatalogClient,
	publisher *events.Publisher,
	logger *slog.Logger,
) *Activities {
	return &Activities{
		store:   store,
		pool:    pool,
		chain:   chainClient,
		fetcher: fetcher,
		runner:  runner,
		catalog: catalog,
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

type CheckInput struct {
	RunID    string `json:"run_id"`
	TargetID string `json:"target_id"`
}

// SystemInfo is gathered from the control machine during the
// connectivity check and carried in the report detail.
type SystemInfo struct {
	Hostname    string `json:"hostname"`
	OS          string `json:"os"`
	CPUs        int    `json:"cpus"`
	MemoryBytes int64  `json:"memory_bytes"`
	GPUs        int    `json:"gpus"`
}

type CheckResult struct {
	Ok     bool        `json:"ok"`
	Detail string      `json:"detail,omitempty"`
	System *SystemInfo `json:"system,omitempty"`
}

// systemInfoScript emits one JSON object describing the host.
const systemInfoScript = `printf '{"hostname":"%s","os":"%s","cpus":%s,"memory_bytes":%s,"gpus":%s}' ` +
	`"$(hostname)" ` +
	`"$(. /etc/os-release 2>/dev/null && echo "$PRETTY_NAME")" ` +
	`"$(nproc)" ` +
	`"$(awk '/MemTotal/ {print $2*1024}' /proc/meminfo)" ` +
	`"$(lspci -nn 2>/dev/null | grep -c '10de:'; true)"`

// CheckConnectivity opens a session, confirms the shell answers,
// gathers system facts and checks that passwordless sudo is available
// for the deployment steps that need it.
func (a *Activities) CheckConnectivity(ctx context.Context, input CheckInput) (CheckResult, error) {
	var result CheckResult
	err := a.withTarget(ctx, input.TargetID, func(session *remote.Session) error {
		info, err := session.Run(ctx, remote.Command{Script: systemInfoScript})
		if err != nil {
			return err
		}

		sudo, err := session.Run(ctx, remote.Command{Script: "sudo -n true", BestEffort: true})
		if err != nil {
			return err
		}
		if sudo.ExitCode != 0 {
			result = CheckResult{Ok: false, Detail: "passwordless sudo unavailable"}
			return nil
		}

		result = CheckResult{Ok: true, Detail: "reachable, sudo ok"}
		var system SystemInfo
		if err := json.Unmarshal([]byte(strings.TrimSpace(info.Stdout)), &system); err == nil {
			result.System = &system
			result.Detail = fmt.Sprintf("host %s, %d cpus, %d GPUs, sudo ok",
				system.Hostname, system.CPUs, system.GPUs)
		}
		return nil
	})
	if err != nil {
		a.publish(input.RunID, input.TargetID, StepConnectivity, StatusFail, err.Error())
		return CheckResult{}, faults.Classify(err)
	}

	status := StatusPass
	if !result.Ok {
		status = StatusFail
	}
	a.publish(input.RunID, input.TargetID, StepConnectivity, status, "")
	return result, nil
}

type CheckChainSyncInput struct {
	RunID    string `json:"run_id"`
	TargetID string `json:"target_id"`
	ChainID  string `json:"chain_id,omitempty"`
}

type CheckChainSyncResult struct {
	Ok     bool         `json:"ok"`
	Detail string       `json:"detail,omitempty"`
	Status chain.Status `json:"status"`
}

// CheckChainSync probes the chain RPC endpoint. An unreachable endpoint
// is an error the retry policy may recover from; a reachable node that
// is still catching up is a plain check failure.
func (a *Activities) CheckChainSync(ctx context.Context, input CheckChainSyncInput) (CheckChainSyncResult, error) {
	endpoint := a.chain.EndpointFor(input.ChainID)
	status, err := a.chain.Fetch(ctx, endpoint)
	if err != nil {
		a.publish(input.RunID, input.TargetID, StepChainSync, StatusFail, err.Error())
		return CheckChainSyncResult{}, faults.Classify(err)
	}

	result := CheckChainSyncResult{Status: status}
	switch {
	case status.CatchingUp:
		result.Detail = fmt.Sprintf("node catching up at height %d", status.SyncHeight)
	case status.Stale(chain.DefaultMaxBlockAge):
		result.Detail = fmt.Sprintf("latest block %s is stale", status.LatestBlockTime.Format("2006-01-02T15:04:05Z"))
	default:
		result.Ok = true
		result.Detail = fmt.Sprintf("synced at height %d", status.SyncHeight)
	}

	stepStatus := StatusPass
	if !result.Ok {
		stepStatus = StatusFail
	}
	a.publish(input.RunID, input.TargetID, StepChainSync, stepStatus, "")
	return result, nil
}

type CheckGPUInput struct {
	RunID         string `json:"run_id"`
	TargetID      string `json:"target_id"`
	ExpectedCount int    `json:"expected_count"`
}

type CheckGPUResult struct {
	Ok     bool               `json:"ok"`
	Detail string             `json:"detail,omitempty"`
	Match  gpu.InventoryMatch `json:"match"`
}

// CheckGPUInventory lists the host's PCI devices and resolves them
// against the capability catalog.
func (a *Activities) CheckGPUInventory(ctx context.Context, input CheckGPUInput) (CheckGPUResult, error) {
	catalog, err := a.catalog.Fetch(ctx)
	if err != nil {
		a.publish(input.RunID, input.TargetID, StepGPUMatch, StatusFail, err.Error())
		return CheckGPUResult{}, faults.Classify(err)
	}

	var detected []string
	err = a.withTarget(ctx, input.TargetID, func(session *remote.Session) error {
		out, err := session.Run(ctx, remote.Command{Script: gpu.DetectScript(), BestEffort: true})
		if err != nil {
			return err
		}
		detected = gpu.ParseDetected(out.Stdout)
		return nil
	})
	if err != nil {
		a.publish(input.RunID, input.TargetID, StepGPUMatch, StatusFail, err.Error())
		return CheckGPUResult{}, faults.Classify(err)
	}

	match := gpu.Match(detected, catalog)
	result := CheckGPUResult{Match: match}
	switch {
	case len(match.Unknown) > 0:
		result.Detail = fmt.Sprintf("unsupported devices: %s", strings.Join(match.Unknown, ", "))
	case match.Count() < input.ExpectedCount:
		result.Detail = fmt.Sprintf("detected %d GPUs, expected %d", match.Count(), input.ExpectedCount)
	default:
		result.Ok = true
		result.Detail = fmt.Sprintf("%d supported GPUs detected", len(match.Matched))
	}

	stepStatus := StatusPass
	if !result.Ok {
		stepStatus = StatusFail
	}
	a.publish(input.RunID, input.TargetID, StepGPUMatch, stepStatus, "")
	return result, nil
}

type CheckPriceScriptInput struct {
	RunID    string `json:"run_id"`
	TargetID string `json:"target_id"`
	Version  string `json:"version,omitempty"`
}

type CheckPriceScriptResult struct {
	Ok     bool               `json:"ok"`
	Detail string             `json:"detail,omitempty"`
	Table  pricing.PriceTable `json:"table"`
}

// CheckPriceScript fetches the pricing script, runs it on the target and
// validates that every required resource has a price.
func (a *Activities) CheckPriceScript(ctx context.Context, input CheckPriceScriptInput) (CheckPriceScriptResult, error) {
	artifact, err := a.fetcher.Fetch(ctx, input.Version)
	if err != nil {
		a.publish(input.RunID, input.TargetID, StepPriceScript, StatusFail, err.Error())
		return CheckPriceScriptResult{}, faults.Classify(err)
	}

	var table pricing.PriceTable
	err = a.withTarget(ctx, input.TargetID, func(session *remote.Session) error {
		table, err = a.runner.Execute(ctx, session, artifact)
		return err
	})
	if err != nil {
		a.publish(input.RunID, input.TargetID, StepPriceScript, StatusFail, err.Error())
		return CheckPriceScriptResult{}, faults.Classify(err)
	}

	result := CheckPriceScriptResult{Table: table}
	if table.Complete() {
		result.Ok = true
		result.Detail = fmt.Sprintf("script %s produced %d prices", artifact.Version, len(table.Prices))
	} else {
		result.Detail = fmt.Sprintf("missing required prices: %s", strings.Join(table.Missing, ", "))
	}

	stepStatus := StatusPass
	if !result.Ok {
		stepStatus = StatusFail
	}
	a.publish(input.RunID, input.TargetID, StepPriceScript, stepStatus, "")
	return result, nil
}

type RecordReportInput struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Report Report `json:"report"`
}

func (a *Activities) RecordReport(ctx context.Context, input RecordReportInput) error {
	if err := a.store.SaveRunReport(ctx, input.RunID, input.Status, input.Report); err != nil {
		return faults.Classify(err)
	}
	a.publish(input.RunID, input.Report.Target, "report", input.Status, "")
	return nil
}
