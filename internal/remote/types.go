package remote

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Target identifies a provider host reachable over SSH. PrivateKey holds
// the PEM-encoded key material in memory only; it must never be written
// to logs or disk in plaintext.
type Target struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte
	Passphrase string
}

func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// ID is the target's identity for pooling, workflow ids and storage keys.
func (t Target) ID() string {
	return fmt.Sprintf("%s@%s", t.User, t.Addr())
}

// Command is a single shell invocation on a target. BestEffort commands
// report their exit code instead of failing on a non-zero status.
type Command struct {
	Script     string
	Timeout    time.Duration
	BestEffort bool
}

// CommandResult is immutable once produced.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}
