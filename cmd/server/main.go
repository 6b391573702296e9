package main

import (
	"time"

	"go.uber.org/fx"

	"github.com/akash-network/provider-console-api/internal/api"
	"github.com/akash-network/provider-console-api/internal/bootstrap"
	"github.com/akash-network/provider-console-api/internal/runs"
	"github.com/akash-network/provider-console-api/internal/storage/pg"
)

type config struct {
	fx.Out

	API      bootstrap.APIConfig
	Db       pg.DbConfig
	Store    pg.StoreConfig
	Temporal bootstrap.TemporalClientConfig
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
			runs.NewService,
			api.NewHandlers,
			bootstrap.NewRouter,
		),
		fx.Invoke(
			bootstrap.StartServer,
		),
	).Run()
}
