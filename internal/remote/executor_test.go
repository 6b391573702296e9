package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// startTestServer runs an in-process SSH server that fakes a provider
// host: echo writes stdout, exit returns a status, hang never answers.
func startTestServer(t *testing.T) (Target, func()) {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(clientPriv, "")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	clientKeyPEM := pem.EncodeToMemory(pemBlock)
	sshClientPub, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), sshClientPub.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleTestConn(conn, cfg)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	target := Target{
		Host:       host,
		Port:       port,
		User:       "tester",
		PrivateKey: clientKeyPEM,
	}
	return target, func() { ln.Close() }
}

func handleTestConn(conn net.Conn, cfg *ssh.ServerConfig) {
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleTestSession(ch, requests)
	}
}

func handleTestSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		ssh.Unmarshal(req.Payload, &payload)
		req.Reply(true, nil)
		go runFakeCommand(ch, payload.Command)
	}
}

func runFakeCommand(ch ssh.Channel, command string) {
	switch {
	case command == "hang":
		// Simulates a remote process that never returns.
	case strings.HasPrefix(command, "echo "):
		fmt.Fprintln(ch, strings.TrimPrefix(command, "echo "))
		sendExit(ch, 0)
	case strings.HasPrefix(command, "exit "):
		code, _ := strconv.Atoi(strings.TrimPrefix(command, "exit "))
		ch.Stderr().Write([]byte("boom\n"))
		sendExit(ch, code)
	default:
		sendExit(ch, 0)
	}
}

func sendExit(ch ssh.Channel, code int) {
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
	ch.Close()
}

func testDialer(t *testing.T) *Dialer {
	t.Helper()
	return NewDialer(Config{
		DialTimeout:    5 * time.Second,
		CommandTimeout: 5 * time.Second,
	}, slog.New(slog.DiscardHandler))
}

func TestSessionRun_CapturesOutput(t *testing.T) {
	target, stop := startTestServer(t)
	defer stop()

	session, err := testDialer(t).Open(context.Background(), target)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer session.Close()

	result, err := session.Run(context.Background(), Command{Script: "echo hello"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "hello" {
		t.Fatalf("Run() stdout = %q, want %q", got, "hello")
	}
	if result.ExitCode != 0 {
		t.Fatalf("Run() exit code = %d, want 0", result.ExitCode)
	}
}

func TestSessionRun_NonZeroExit(t *testing.T) {
	target, stop := startTestServer(t)
	defer stop()

	session, err := testDialer(t).Open(context.Background(), target)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer session.Close()

	_, err = session.Run(context.Background(), Command{Script: "exit 3"})
	var cmdErr *CommandFailed
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Run() error = %v, want CommandFailed", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Fatalf("CommandFailed exit code = %d, want 3", cmdErr.ExitCode)
	}
	if !strings.Contains(cmdErr.Stderr, "boom") {
		t.Fatalf("CommandFailed stderr = %q, want to contain %q", cmdErr.Stderr, "boom")
	}
}

func TestSessionRun_BestEffortReportsExitCode(t *testing.T) {
	target, stop := startTestServer(t)
	defer stop()

	session, err := testDialer(t).Open(context.Background(), target)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer session.Close()

	result, err := session.Run(context.Background(), Command{Script: "exit 3", BestEffort: true})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for best-effort command", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("Run() exit code = %d, want 3", result.ExitCode)
	}
}

func TestSessionRun_TimeoutNeverHangs(t *testing.T) {
	target, stop := startTestServer(t)
	defer stop()

	session, err := testDialer(t).Open(context.Background(), target)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer session.Close()

	start := time.Now()
	_, err = session.Run(context.Background(), Command{Script: "hang", Timeout: 100 * time.Millisecond})
	elapsed := time.Since(start)

	var timeoutErr *ExecutionTimeout
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Run() error = %v, want ExecutionTimeout", err)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("Run() took %s, session hung past its timeout", elapsed)
	}
}

func TestOpen_InvalidKeyFailsBeforeDial(t *testing.T) {
	target := Target{
		Host:       "192.0.2.1", // TEST-NET, never dialed
		User:       "tester",
		PrivateKey: []byte("not a key"),
	}

	_, err := testDialer(t).Open(context.Background(), target)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Open() error = %v, want ConnectionError", err)
	}
}

func TestPool_SerializesPerTarget(t *testing.T) {
	dialer := testDialer(t)
	pool := NewPool(dialer)
	target := Target{Host: "10.0.0.5", User: "tester"}

	release, err := pool.acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := pool.acquire(ctx, target); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second acquire() error = %v, want deadline exceeded while slot held", err)
	}

	release()
	release2, err := pool.acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("acquire() after release error = %v", err)
	}
	release2()
}

// Slot entries must go away with their last holder or waiter; a pool fed
// a stream of distinct targets would otherwise grow without bound.
func TestPool_DropsIdleTargetSlots(t *testing.T) {
	pool := NewPool(testDialer(t))

	for i := 0; i < 10; i++ {
		target := Target{Host: fmt.Sprintf("10.0.0.%d", i), User: "tester"}
		release, err := pool.acquire(context.Background(), target)
		if err != nil {
			t.Fatalf("acquire() error = %v", err)
		}
		release()
	}

	// An aborted wait releases its reference too.
	held := Target{Host: "10.0.1.1", User: "tester"}
	release, err := pool.acquire(context.Background(), held)
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.acquire(ctx, held); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("blocked acquire() error = %v, want deadline exceeded", err)
	}
	release()

	pool.mu.Lock()
	n := len(pool.slots)
	pool.mu.Unlock()
	if n != 0 {
		t.Fatalf("len(pool.slots) = %d after all releases, want 0", n)
	}
}
