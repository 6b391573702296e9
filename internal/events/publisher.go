// Package events streams per-step run progress over NATS so console
// frontends can follow a verification or deployment as it executes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/fx"
)

type Config struct {
	URL   string
	Token string
}

// NewNATSConn connects to NATS and drains the connection on shutdown.
// An empty URL disables event publishing.
func NewNATSConn(lc fx.Lifecycle, cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		logger.Warn("NATS URL not configured, run events disabled")
		return nil, nil
	}

	opts := []nats.Option{
		nats.Name("provider-console-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Draining NATS connection...")
			return conn.Drain()
		},
	})

	return conn, nil
}

type StepEvent struct {
	RunID  string    `json:"run_id"`
	Target string    `json:"target"`
	Step   string    `json:"step"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher emits step events. A nil connection makes every publish a
// no-op so callers never need to branch on configuration.
type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewPublisher(conn *nats.Conn, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

func (p *Publisher) PublishStep(event StepEvent) {
	if p == nil || p.conn == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal step event", "error", err)
		return
	}

	subject := fmt.Sprintf("runs.%s.steps", event.RunID)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Error("failed to publish step event",
			"subject", subject, "step", event.Step, "error", err)
	}
}
