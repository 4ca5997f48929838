// Package server initializes and runs the racesync server: it selects the
// shared-store backend, wires the domain services, and serves the HTTP API
// with graceful shutdown on OS signals.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/slalomtime/racesync/internal/logging"
	"github.com/slalomtime/racesync/internal/server/auth"
	"github.com/slalomtime/racesync/internal/server/config"
	"github.com/slalomtime/racesync/internal/server/devices"
	"github.com/slalomtime/racesync/internal/server/entries"
	"github.com/slalomtime/racesync/internal/server/faults"
	"github.com/slalomtime/racesync/internal/server/httpapi"
	"github.com/slalomtime/racesync/internal/server/kv"
	"github.com/slalomtime/racesync/internal/server/races"
)

type App struct {
	config *config.Config
	logger logging.Logger
	server *httpapi.Server
	closer func() error
}

func NewApp(c *config.Config) (*App, error) {
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	var store kv.Store
	closer := func() error { return nil }
	if c.DatabaseDSN != "" {
		pg, err := kv.NewPostgresStore(c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("store init error: %w", err)
		}
		store = pg
		closer = pg.Close
	} else {
		store = kv.NewMemoryStore()
	}

	gate := auth.NewGate(store, []byte(c.SecretKey), c.TokenValidityDuration)
	registry := devices.NewRegistry(store, c.RaceTTL, logger)
	raceSvc := races.NewService(store, registry, logger)
	faultSvc := faults.NewService(store, raceSvc, c.RaceTTL, logger)
	entrySvc := entries.NewService(store, raceSvc, c.RaceTTL, logger)

	server := httpapi.NewServer(c.EndpointAddr, slogger, logger, gate, registry, raceSvc, faultSvc, entrySvc)

	return &App{config: c, logger: logger, server: server, closer: closer}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, "server stopped", "error", err)
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.closer(); err != nil {
		app.logger.Error(ctx, "store close failed", "error", err)
	}
}
