package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/athena/cmd/athena/app/options"
	"github.com/autopeer-io/athena/pkg/app"
	"github.com/autopeer-io/athena/pkg/log"
)

const (
	commandName = "athena"
	commandDesc = `Athena matches ANPR camera identifications against the critical and
violation watchlists and alerts the nearest officers who can intercept.

Identifications, officer locations and watchlist changes arrive over MQTT or
the REST API. Alerts go to officer devices over WebSocket, with MQTT as the
fallback channel.`
)

func NewApp() *app.App {
	opts := options.NewAthenaOptions()
	application := app.NewApp(
		commandName,
		"Launch the Athena intercept alert engine",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AthenaOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		server, err := cfg.NewAthenaServer(log.Std())
		if err != nil {
			return fmt.Errorf("failed to create athena server: %w", err)
		}

		return server.Run(ctx)
	}
}
