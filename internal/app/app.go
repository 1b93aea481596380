// Package app wires the server components together and owns their
// lifecycle: open the stores, bind the forum listeners, start the admin
// HTTP endpoint and the janitor, and tear everything down on shutdown.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"forumdb/internal/janitor"
	"forumdb/internal/server"
	"forumdb/pkg/config"
	"forumdb/pkg/creds"
	"forumdb/pkg/dispatch"
	"forumdb/pkg/logger"
	"forumdb/pkg/session"
	"forumdb/pkg/store"
	"forumdb/pkg/transfer"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	threads     *store.Store
	accounts    *creds.Store
	sessions    *session.Registry
	coordinator *transfer.Coordinator
	dispatcher  *dispatch.Dispatcher
	srv         *server.Server
}

// New initializes resources that do not require a running context: the
// thread store, the credential store and the component graph. Call Run to
// start the listeners and block until shutdown.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	threads, err := store.Open(eff.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open thread store at %s: %w", eff.DataDir, err)
	}
	accounts, err := creds.Open(filepath.Join(eff.DataDir, "credentials.txt"))
	if err != nil {
		_ = threads.Close()
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	sessions := session.NewRegistry()
	coordinator := transfer.NewCoordinator(threads, eff.Config.Transfer.TTL())
	dispatcher := dispatch.New(accounts, sessions, threads, coordinator)
	srv := server.New(server.Config{
		Addr:  eff.Addr,
		RPS:   eff.Config.RateLimit.RPS,
		Burst: eff.Config.RateLimit.Burst,
	}, dispatcher, coordinator)

	return &App{
		eff:         eff,
		version:     version,
		threads:     threads,
		accounts:    accounts,
		sessions:    sessions,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		srv:         srv,
	}, nil
}

// Dispatcher exposes the command dispatcher (used by tests).
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Run binds the listeners, starts the admin endpoint and the janitor, and
// blocks until ctx is cancelled or a fatal listener error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.srv.Listen(); err != nil {
		return err
	}

	stopAdmin := a.startAdmin()
	defer stopAdmin()

	cancelJanitor, err := janitor.Start(ctx, a.eff.Config.Janitor, a.coordinator)
	if err != nil {
		a.srv.Stop()
		return err
	}
	defer cancelJanitor()

	logger.Info("server_started", "addr", a.eff.Addr, "data", a.eff.DataDir, "version", a.version)
	err = a.srv.Serve(ctx)
	if cerr := a.threads.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
