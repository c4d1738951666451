package athena

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/athena/internal/athena/core/dispatch"
	"github.com/autopeer-io/athena/internal/athena/core/service"
	"github.com/autopeer-io/athena/internal/athena/server"
	"github.com/autopeer-io/athena/internal/athena/watchlist"
	"github.com/autopeer-io/athena/pkg/log"
	pkgmqtt "github.com/autopeer-io/athena/pkg/mqtt"
)

// AthenaServer is the main application struct.
type AthenaServer struct {
	log           log.Logger
	serverManager *server.Manager
	egress        pkgmqtt.Client
	dispatcher    *dispatch.Dispatcher
	service       *service.Service

	// auditTask is nil when audit records only go to the log.
	auditTask func(context.Context) error
	watcher   *watchlist.Watcher
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (a *AthenaServer) Run(ctx context.Context) error {
	a.log.Info("Starting Athena...")

	if err := a.egress.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.egress.Disconnect(shutdownCtx)
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error { return a.service.Run(ctx, gaugeInterval) })
	if a.auditTask != nil {
		g.Go(func() error { return a.auditTask(ctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Start(ctx) })
	}
	g.Go(func() error { return a.serverManager.Start(ctx) })

	err := g.Wait()
	a.log.Info("Athena stopped")
	return err
}
