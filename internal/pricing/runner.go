package pricing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/akash-network/provider-console-api/internal/remote"
)

const scriptPath = "~/provider/price_script_generic.sh"

// RequiredResources are the price entries every provider must bid on.
// GPU pricing is optional for CPU-only providers.
var RequiredResources = []string{"cpu", "memory", "storage"}

// ParseError is fatal to the step producing it: malformed script output
// does not become valid on retry.
type ParseError struct {
	Reason string
	Output string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pricing: cannot parse script output: %s", e.Reason)
}

// PriceTable is the structured result of running the pricing script.
// Missing lists required resources the script produced no price for; a
// non-empty Missing set is a partial success, not a silent drop.
type PriceTable struct {
	Prices  map[string]float64 `json:"prices"`
	Missing []string           `json:"missing,omitempty"`
}

func (t PriceTable) Complete() bool { return len(t.Missing) == 0 }

type Runner struct {
	commandTimeout time.Duration
}

func NewRunner(commandTimeout time.Duration) *Runner {
	if commandTimeout == 0 {
		commandTimeout = 60 * time.Second
	}
	return &Runner{commandTimeout: commandTimeout}
}

// Install places the artifact at the provider's script path and marks
// it executable. The script content travels base64 encoded so no shell
// quoting can mangle it.
func (r *Runner) Install(ctx context.Context, session *remote.Session, artifact ScriptArtifact) error {
	install := fmt.Sprintf(
		"mkdir -p ~/provider && echo '%s' | base64 -d > %s && chmod +x %s",
		base64.StdEncoding.EncodeToString(artifact.Content), scriptPath, scriptPath,
	)
	_, err := session.Run(ctx, remote.Command{Script: install, Timeout: r.commandTimeout})
	return err
}

// Backup preserves the currently installed script, if any, so a failed
// upgrade can restore it.
func (r *Runner) Backup(ctx context.Context, session *remote.Session) error {
	script := fmt.Sprintf("if [ -f %[1]s ]; then cp %[1]s %[1]s.bak; fi", scriptPath)
	_, err := session.Run(ctx, remote.Command{Script: script, Timeout: r.commandTimeout})
	return err
}

// Restore puts the backed-up script back in place.
func (r *Runner) Restore(ctx context.Context, session *remote.Session) error {
	script := fmt.Sprintf("if [ -f %[1]s.bak ]; then mv %[1]s.bak %[1]s; fi", scriptPath)
	_, err := session.Run(ctx, remote.Command{Script: script, Timeout: r.commandTimeout})
	return err
}

// Execute places the artifact on the target and runs it, parsing its
// JSON output into a PriceTable.
func (r *Runner) Execute(ctx context.Context, session *remote.Session, artifact ScriptArtifact) (PriceTable, error) {
	if err := r.Install(ctx, session, artifact); err != nil {
		return PriceTable{}, err
	}

	result, err := session.Run(ctx, remote.Command{
		Script:  scriptPath + " --json",
		Timeout: r.commandTimeout,
	})
	if err != nil {
		return PriceTable{}, err
	}

	return parseOutput(result.Stdout)
}

func parseOutput(output string) (PriceTable, error) {
	if output == "" {
		return PriceTable{}, &ParseError{Reason: "empty output"}
	}

	var payload struct {
		Prices map[string]float64 `json:"prices"`
	}
	if err := json.Unmarshal([]byte(output), &payload); err != nil {
		return PriceTable{}, &ParseError{Reason: err.Error(), Output: output}
	}
	if len(payload.Prices) == 0 {
		return PriceTable{}, &ParseError{Reason: "no price entries in output", Output: output}
	}

	table := PriceTable{Prices: payload.Prices}
	for _, resource := range RequiredResources {
		if _, ok := payload.Prices[resource]; !ok {
			table.Missing = append(table.Missing, resource)
		}
	}
	sort.Strings(table.Missing)
	return table, nil
}
