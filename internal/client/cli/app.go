// Package cli is the interactive device client: a small REPL for recording
// entries and faults locally, plus background loops that heartbeat and pull
// cloud state. Recording always works; connectivity only affects sync.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/slalomtime/racesync/internal/client/api"
	"github.com/slalomtime/racesync/internal/client/config"
	"github.com/slalomtime/racesync/internal/client/persistence"
	clientsync "github.com/slalomtime/racesync/internal/client/sync"
	"github.com/slalomtime/racesync/internal/logging"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	api     *api.Client
	backend *persistence.SQLiteBackend
	store   *persistence.Cache
	clock   *clientsync.Clock
	session *clientsync.Session

	reader   *bufio.Reader
	out      io.Writer
	fastPoll chan struct{}
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	backend, err := persistence.OpenSQLite(ctx, c.LocalDSN)
	if err != nil {
		return nil, fmt.Errorf("opening local database: %w", err)
	}

	store := persistence.NewCache(backend, c.FlushDelay)
	apiClient := api.NewClient(c.ServerURL, c.RequestTimeout)
	clock := clientsync.NewClock()
	session := clientsync.NewSession(apiClient, store, clock, logger)
	session.SetEnabled(c.SyncEnabled)

	app := &App{
		config:   c,
		logger:   logger,
		api:      apiClient,
		backend:  backend,
		store:    store,
		clock:    clock,
		session:  session,
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
		fastPoll: make(chan struct{}, 1),
	}
	session.ResetFastPoll = app.requestFastPoll
	return app, nil
}

func (a *App) requestFastPoll() {
	select {
	case a.fastPoll <- struct{}{}:
	default:
	}
}

// Run starts the background loops and the command REPL, then flushes local
// state on the way out.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.startSyncLoop(ctx)
	go a.startHeartbeatLoop(ctx)

	a.repl(ctx)

	a.session.Cleanup()
	if err := a.store.Flush(context.Background()); err != nil {
		return err
	}
	return a.backend.Close()
}

func (a *App) repl(ctx context.Context) {
	fmt.Fprintln(a.out, "racesync client (type 'help' for commands)")
	for {
		fmt.Fprintf(a.out, "race %s> ", a.promptStatus())
		line, err := a.reader.ReadString('\n')
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if done := a.dispatch(ctx, parts[0], parts[1:]); done {
			return
		}
	}
}

func (a *App) promptStatus() string {
	if id := a.session.RaceID(); id != "" {
		return "(" + id + ")"
	}
	return ""
}

func (a *App) dispatch(ctx context.Context, cmd string, args []string) bool {
	switch cmd {
	case "help":
		fmt.Fprintln(a.out, "Commands: login, races, join <id>, delete-race <id>,")
		fmt.Fprintln(a.out, "  entry <bib> <S|F> [run], entries, fault <bib> <gate> <type> [run],")
		fmt.Fprintln(a.out, "  faults, delete-fault <id>, nextbib, sync, devices, exit")
	case "login":
		a.login(ctx)
	case "races":
		a.listRaces(ctx)
	case "join":
		a.joinRace(args)
	case "delete-race":
		a.deleteRace(ctx, args)
	case "entry":
		a.recordEntry(ctx, args)
	case "entries":
		a.listEntries(ctx)
	case "fault":
		a.recordFault(ctx, args)
	case "faults":
		a.listFaults(ctx)
	case "delete-fault":
		a.deleteFault(ctx, args)
	case "nextbib":
		a.nextBib(ctx)
	case "sync":
		a.syncNow(ctx)
	case "devices":
		a.showDevices(ctx)
	case "exit", "quit":
		fmt.Fprintln(a.out, "Bye!")
		return true
	default:
		fmt.Fprintf(a.out, "unknown command %q, type 'help'\n", cmd)
	}
	return false
}

func (a *App) startSyncLoop(ctx context.Context) {
	timer := time.NewTimer(a.config.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.fastPoll:
			// A local mutation was just pushed; pull sooner.
			timer.Reset(a.config.FastPollInterval)
		case <-timer.C:
			_ = a.session.FetchCloudFaults(ctx)
			a.session.PushLocalFaults(ctx)
			timer.Reset(a.config.PollInterval)
		}
	}
}

func (a *App) startHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.session.Heartbeat(ctx); err != nil {
				a.logger.Debug(ctx, "heartbeat skipped", "error", err)
			}
		}
	}
}
