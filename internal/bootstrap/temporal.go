package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/akash-network/provider-console-api/internal/runs"
)

type TemporalClientConfig struct {
	Address     string
	Namespace   string
	CloudAPIKey string
}

func CreateTemporalClient(lc fx.Lifecycle, config TemporalClientConfig) (client.Client, error) {
	tracingInterceptor, err := opentelemetry.NewTracingInterceptor(opentelemetry.TracerOptions{})
	if err != nil {
		slog.Warn("Failed to create OpenTelemetry tracing interceptor, continuing without tracing",
			"error", err)
	}

	clientOptions := client.Options{
		HostPort:  config.Address,
		Namespace: config.Namespace,
		ConnectionOptions: client.ConnectionOptions{
			DialOptions: []grpc.DialOption{
				grpc.WithKeepaliveParams(keepalive.ClientParameters{
					Time:                5 * time.Minute,
					Timeout:             20 * time.Second,
					PermitWithoutStream: true,
				}),
				grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
				grpc.WithDefaultCallOptions(
					grpc.MaxCallRecvMsgSize(32*1024*1024),
					grpc.MaxCallSendMsgSize(32*1024*1024),
				),
			},
		},
	}

	if config.CloudAPIKey != "" {
		clientOptions.ConnectionOptions.TLS = &tls.Config{}
		clientOptions.Credentials = client.NewAPIKeyStaticCredentials(config.CloudAPIKey)
	}

	if tracingInterceptor != nil {
		clientOptions.Interceptors = []interceptor.ClientInterceptor{tracingInterceptor}
	}

	slog.Info("Creating lazy Temporal client (connection deferred until first use)",
		"address", config.Address,
		"namespace", config.Namespace,
		"cloudAuth", config.CloudAPIKey != "")

	c, err := client.NewLazyClient(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal lazy client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	if _, err := c.WorkflowService().GetSystemInfo(ctx, nil); err != nil {
		slog.Error("Temporal health check failed - blocking startup",
			"address", config.Address,
			"namespace", config.Namespace,
			"error", err)
		c.Close()
		return nil, fmt.Errorf("temporal health check failed: %w", err)
	}

	slog.Info("Temporal client validated and ready",
		"address", config.Address,
		"namespace", config.Namespace)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Info("Closing Temporal client...")
			c.Close()
			slog.Info("Temporal client closed")
			return nil
		},
	})

	return c, nil
}

func NewTemporalWorker(c client.Client) worker.Worker {
	return worker.New(c, runs.TaskQueue, worker.Options{
		WorkerStopTimeout: 10 * time.Minute,
	})
}
