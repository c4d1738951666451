package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/athena/pkg/log"
)

// Server defines the common interface for all sub-servers (grpc, mqtt, http).
type Server interface {
	Start(ctx context.Context) error
}

// Manager manages the lifecycle of all protocol servers.
type Manager struct {
	log     log.Logger
	servers []Server
}

func NewManager(logger log.Logger, servers ...Server) *Manager {
	return &Manager{log: logger, servers: servers}
}

// Start launches all servers in parallel and waits for termination. The first
// failure cancels the others.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	m.log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
