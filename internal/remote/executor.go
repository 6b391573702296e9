package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

type Config struct {
	DialTimeout          time.Duration
	CommandTimeout       time.Duration
	MaxSessionsPerTarget int
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 60 * time.Second
	}
	if c.MaxSessionsPerTarget == 0 {
		c.MaxSessionsPerTarget = 1
	}
	return c
}

// Dialer opens authenticated sessions to provider hosts.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	return &Dialer{cfg: cfg.withDefaults(), logger: logger}
}

// Open establishes an authenticated connection to the target. The key
// material is decoded and validated before any network traffic; a bad
// key never leaves the process.
func (d *Dialer) Open(ctx context.Context, target Target) (*Session, error) {
	signer, err := parseSigner(target)
	if err != nil {
		return nil, &ConnectionError{Addr: target.Addr(), Err: err}
	}

	clientConfig := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.cfg.DialTimeout,
	}

	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, &ConnectionError{Addr: target.Addr(), Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), clientConfig)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Addr: target.Addr(), Err: err}
	}

	d.logger.Info("ssh session established", "target", target.ID())
	return &Session{
		client:         ssh.NewClient(sshConn, chans, reqs),
		target:         target,
		commandTimeout: d.cfg.CommandTimeout,
		logger:         d.logger,
	}, nil
}

func parseSigner(target Target) (ssh.Signer, error) {
	if len(target.PrivateKey) == 0 {
		return nil, errors.New("no private key material provided")
	}
	if target.Passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(target.PrivateKey, []byte(target.Passphrase))
	}
	return ssh.ParsePrivateKey(target.PrivateKey)
}

// Session is an open authenticated connection scoped to one orchestration
// run. Commands run strictly sequentially; a session is never shared
// across goroutines issuing concurrent writes to the remote shell.
type Session struct {
	client         *ssh.Client
	target         Target
	commandTimeout time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	closeOnce sync.Once
}

func (s *Session) Target() Target { return s.target }

// Run executes cmd and captures stdout, stderr and the exit status. A
// command that outlives its timeout has its channel torn down and yields
// ExecutionTimeout; it can never hang the session indefinitely.
func (s *Session) Run(ctx context.Context, cmd Command) (CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.client.NewSession()
	if err != nil {
		return CommandResult{}, &ConnectionError{Addr: s.target.Addr(), Err: err}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = s.commandTimeout
	}

	start := time.Now()
	if err := sess.Start(cmd.Script); err != nil {
		return CommandResult{}, &ConnectionError{Addr: s.target.Addr(), Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		sess.Close()
		<-done
		return CommandResult{Duration: time.Since(start)}, ctx.Err()
	case <-timer.C:
		sess.Close()
		<-done
		return CommandResult{Duration: time.Since(start)},
			&ExecutionTimeout{Script: cmd.Script, Timeout: timeout}
	case err = <-done:
	}

	result := CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
		} else {
			return result, &ConnectionError{Addr: s.target.Addr(), Err: fmt.Errorf("command aborted: %w", err)}
		}
	}

	if result.ExitCode != 0 && !cmd.BestEffort {
		return result, &CommandFailed{
			Script:   cmd.Script,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}

	s.logger.Debug("ssh command completed",
		"target", s.target.ID(),
		"exitCode", result.ExitCode,
		"duration", result.Duration)
	return result, nil
}

// Close releases the underlying connection. Safe to call more than once
// and on every exit path.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.client.Close()
		s.logger.Debug("ssh session closed", "target", s.target.ID())
	})
	return err
}
