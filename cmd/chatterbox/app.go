package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/chatterbox/internal/api"
	"github.com/npezzotti/chatterbox/internal/auth"
	"github.com/npezzotti/chatterbox/internal/config"
	"github.com/npezzotti/chatterbox/internal/realtime"
	"github.com/npezzotti/chatterbox/internal/stats"
	"github.com/npezzotti/chatterbox/internal/store"
	"github.com/npezzotti/chatterbox/internal/types"
)

const shutdownTimeout = 5 * time.Second

var errNotLoggedIn = errors.New("not logged in, run `chatterbox login` first")

type app struct {
	log      *log.Logger
	cfg      *config.Config
	in       *bufio.Reader
	out      io.Writer
	client   *api.Client
	auth     *auth.Provider
	stats    *stats.StatsUpdater
	debugSrv *http.Server
	manager  *realtime.Manager
}

func newApp(logger *log.Logger, cfg *config.Config, in io.Reader, out io.Writer) (*app, error) {
	client, err := api.NewClient(logger, cfg.APIURL, cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}

	provider := auth.NewProvider(logger, client, store.NewFileSessionStore(logger, cfg.SessionFile), nil)
	client.SetTokenSource(provider.Token)
	client.OnUnauthorized(provider.Clear)

	a := &app{
		log:    logger,
		cfg:    cfg,
		in:     bufio.NewReader(in),
		out:    out,
		client: client,
		auth:   provider,
	}

	var mux *http.ServeMux
	if cfg.DebugAddr != "" {
		mux = http.NewServeMux()
	}
	a.stats = stats.NewStatsUpdater(mux)
	for _, name := range []string{
		stats.EventsReceived,
		stats.EventsDropped,
		stats.MessagesQueued,
		stats.MessagesFlushed,
		stats.Reconnects,
		stats.ActiveRooms,
	} {
		a.stats.RegisterMetric(name)
	}
	a.stats.Run()

	if mux != nil {
		if err := a.serveDebug(mux); err != nil {
			a.stats.Stop()
			return nil, err
		}
	}

	return a, nil
}

// serveDebug exposes the client metrics on cfg.DebugAddr.
func (a *app) serveDebug(mux *http.ServeMux) error {
	ln, err := net.Listen("tcp", a.cfg.DebugAddr)
	if err != nil {
		return fmt.Errorf("debug listener: %w", err)
	}

	a.debugSrv = &http.Server{
		Handler:      handlers.CombinedLoggingHandler(a.log.Writer(), mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		a.log.Printf("serving metrics on http://%s/debug/vars", ln.Addr())
		if err := a.debugSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Println("debug server:", err)
		}
	}()

	return nil
}

// realtime returns the channel manager, creating it on first use. Losing
// the session tears the channel down.
func (a *app) realtime() *realtime.Manager {
	if a.manager != nil {
		return a.manager
	}

	opts := realtime.OptionsFromConfig(a.cfg.Realtime)
	opts.Stats = a.stats
	a.manager = realtime.NewManager(a.log, realtime.NewWebsocketTransport(a.log, a.cfg.SocketURL), opts)
	a.auth.OnLogout(a.manager.Disconnect)

	return a.manager
}

// session restores the stored session, revalidating it with the backend.
func (a *app) session(ctx context.Context) (types.Session, error) {
	if sess, ok := a.auth.Current(); ok {
		return sess, nil
	}

	sess, err := a.auth.Restore(ctx)
	if err != nil {
		a.log.Println("restore session:", err)
		return types.Session{}, errNotLoggedIn
	}
	return sess, nil
}

// prompt prints label and reads one line of input.
func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) close() error {
	if a.manager != nil {
		a.manager.Disconnect()
	}

	var err error
	if a.debugSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := a.debugSrv.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("debug server shutdown: %w", shutdownErr)
		}
	}

	a.stats.Stop()
	return err
}
