package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.temporal.io/sdk/worker"
	"go.uber.org/fx"

	"github.com/akash-network/provider-console-api/internal/bootstrap"
	"github.com/akash-network/provider-console-api/internal/chain"
	"github.com/akash-network/provider-console-api/internal/deployment"
	"github.com/akash-network/provider-console-api/internal/events"
	"github.com/akash-network/provider-console-api/internal/gpu"
	"github.com/akash-network/provider-console-api/internal/pricing"
	"github.com/akash-network/provider-console-api/internal/remote"
	"github.com/akash-network/provider-console-api/internal/storage/pg"
	"github.com/akash-network/provider-console-api/internal/verification"
)

type config struct {
	fx.Out

	Db       pg.DbConfig
	Store    pg.StoreConfig
	Temporal bootstrap.TemporalClientConfig
	NATS     events.Config
	Remote   remote.Config
	Chain    chain.Config
	Pricing  pricing.Config
	GPU      gpu.Config
}

func main() {
	fx.New(
		fx.StopTimeout(1*time.Minute),
		fx.Provide(
			bootstrap.NewLogger,
			bootstrap.LoadConfig[config],
			pg.NewDatabase,
			pg.NewStore,
			bootstrap.CreateTemporalClient,
			bootstrap.NewTemporalWorker,
			events.NewNATSConn,
			events.NewPublisher,
			remote.NewDialer,
			remote.NewPool,
			chain.NewClient,
			pricing.NewFetcher,
			newPriceRunner,
			gpu.NewCatalogClient,
			verification.NewActivities,
			deployment.NewActivities,
		),
		fx.Invoke(
			verification.RegisterWorkflowsAndActivities,
			deployment.RegisterWorkflowsAndActivities,
			startWorker,
		),
	).Run()
}

func newPriceRunner(cfg remote.Config) *pricing.Runner {
	return pricing.NewRunner(cfg.CommandTimeout)
}

func startWorker(lc fx.Lifecycle, w worker.Worker, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting temporal worker")
			go func() {
				if err := w.Run(worker.InterruptCh()); err != nil {
					logger.Error(fmt.Sprintf("worker failed: %v", err))
					os.Exit(1)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping temporal worker")
			w.Stop()
			return nil
		},
	})
}
