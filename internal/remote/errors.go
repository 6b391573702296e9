package remote

import (
	"fmt"
	"time"
)

// ConnectionError covers unreachable hosts, failed handshakes and auth
// failures. It is fatal to the run that owns the session.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ssh: connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ExecutionTimeout is returned when a command exceeds its allotted
// duration. The session's underlying channel is torn down so the remote
// process cannot hold the session open.
type ExecutionTimeout struct {
	Script  string
	Timeout time.Duration
}

func (e *ExecutionTimeout) Error() string {
	return fmt.Sprintf("ssh: command %q exceeded timeout %s", truncate(e.Script), e.Timeout)
}

// CommandFailed is returned for a non-zero exit status on a command that
// was not marked best-effort. Stderr is carried for diagnosis.
type CommandFailed struct {
	Script   string
	ExitCode int
	Stderr   string
}

func (e *CommandFailed) Error() string {
	return fmt.Sprintf("ssh: command %q exited %d: %s", truncate(e.Script), e.ExitCode, truncate(e.Stderr))
}

func truncate(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
