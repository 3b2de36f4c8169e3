// Package cli is the interactive shell around the sync engine: sign in,
// toggle workspace sync modes, trigger syncs, inspect state and logs.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/quiverhq/quiver/internal/config"
	"github.com/quiverhq/quiver/internal/datastore"
	"github.com/quiverhq/quiver/internal/localdb"
	"github.com/quiverhq/quiver/internal/logging"
	"github.com/quiverhq/quiver/internal/session"
	"github.com/quiverhq/quiver/internal/store"
	"github.com/quiverhq/quiver/internal/syncer"
	"github.com/quiverhq/quiver/internal/transport"
)

type App struct {
	config *config.Config
	log    logging.Logger
	ring   *logging.RingHandler

	db     *sql.DB
	ds     datastore.Datastore
	store  store.Store
	sess   *session.Manager
	engine *syncer.Engine

	reader *bufio.Reader
	out    io.Writer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := localdb.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	ring := logging.NewRingHandler(cfg.LogTailSize, slog.LevelDebug)
	log := logging.NewSlogLogger(slog.New(ring))

	sess := session.NewManager()
	ds := datastore.NewSQLiteDatastore(db)
	st := store.NewSQLiteStore(db)
	api := transport.NewHTTPClient(cfg.ServerEndpointAddr, sess)
	engine := syncer.NewEngine(cfg, log, sess, st, ds, api)

	return &App{
		config: cfg,
		log:    log,
		ring:   ring,
		db:     db,
		ds:     ds,
		store:  st,
		sess:   sess,
		engine: engine,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}, nil
}

func (a *App) Close() {
	a.engine.Close()
	_ = a.db.Close()
}

func (a *App) prompt() string {
	if a.sess.LoggedIn() {
		return fmt.Sprintf("quiver (%s)> ", a.sess.AccountID())
	}
	return "quiver> "
}

func (a *App) Run(ctx context.Context) {
	fmt.Fprintln(a.out, "Quiver sync shell (type 'help' for commands)")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(a.out, a.prompt())
		if !scanner.Scan() {
			break
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			a.help()
		case "login":
			a.login(ctx)
		case "logout":
			a.logout(ctx)
		case "start":
			if err := a.engine.DoInitialSync(ctx); err != nil {
				fmt.Fprintf(a.out, "start failed: %v\n", err)
			}
		case "sync":
			if err := a.engine.TriggerSync(ctx); err != nil {
				fmt.Fprintf(a.out, "sync failed: %v\n", err)
			}
		case "workspaces":
			a.workspaces(ctx)
		case "mode":
			a.setMode(ctx, args)
		case "logs":
			a.logs(args)
		case "reset-local":
			if err := a.engine.ResetLocalData(ctx); err != nil {
				fmt.Fprintf(a.out, "reset failed: %v\n", err)
			}
		case "reset-remote":
			if err := a.engine.ResetRemoteData(ctx); err != nil {
				fmt.Fprintf(a.out, "reset failed: %v\n", err)
			}
		case "cancel-account":
			if err := a.engine.CancelAccount(ctx); err != nil {
				fmt.Fprintf(a.out, "cancel failed: %v\n", err)
			}
		case "exit", "quit":
			fmt.Fprintln(a.out, "Bye!")
			return
		default:
			fmt.Fprintln(a.out, "Unknown command:", cmd)
		}
	}
}

func (a *App) help() {
	if a.sess.LoggedIn() {
		fmt.Fprintln(a.out, "Available commands: start, sync, workspaces, mode, logs, reset-local, reset-remote, cancel-account, logout, exit")
	} else {
		fmt.Fprintln(a.out, "Available commands: login, logs, exit")
	}
}

func (a *App) logs(args []string) {
	n := a.config.LogTailSize
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
			fmt.Fprintln(a.out, "Usage: logs [count]")
			return
		}
	}
	for _, line := range a.ring.Tail(n) {
		fmt.Fprintf(a.out, "%s %s %s\n", line.Time.Format("15:04:05.000"), line.Level, line.Message)
	}
}
