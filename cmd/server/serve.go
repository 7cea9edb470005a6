package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/server"
	"github.com/jrsteele09/go-auth-session/server/pagesession"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API",
	Long: `Starts the HTTP server. Each browser page session gets its own store,
reachable under /api/session, /api/auth/login and /api/auth/logout, with
changes pushed over the /api/session/events websocket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		for {
			err := run()
			if errors.Is(err, errPanicRecovered) {
				log.Error().Err(err).Msg("Error running server, restarting")
				time.Sleep(1 * time.Second)
				continue
			}
			if err != nil {
				return err
			}
			break
		}
		log.Info().Msg("Server stopped")
		return nil
	},
}

var errPanicRecovered = errors.New("panic recovered")

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port, overrides PORT")
	rootCmd.AddCommand(serveCmd)
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errPanicRecovered
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, err := newHandler(ctx, c, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	addr := c.GetPort()
	if servePort != "" {
		addr = ":" + servePort
	}
	srv := &http.Server{Addr: addr, Handler: handler}

	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(srv) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

// newHandler wires the page session registry, the stores it builds and the
// metrics into a Server. Idle page sessions are swept until ctx is done.
func newHandler(ctx context.Context, c config.Config, reg *prometheus.Registry) (*server.Server, error) {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	storeLogger := log.With().Str("component", "store").Logger()
	newStore := func() *auth.Store {
		return auth.NewStore(
			auth.WithLoginDelay(c.GetLoginDelay()),
			auth.WithLogoutDelay(c.GetLogoutDelay()),
			auth.WithLogger(storeLogger),
			auth.WithRecorder(collector),
		)
	}
	pageSessions := pagesession.NewInMemoryRepo(newStore,
		pagesession.WithIdleTTL(c.GetSessionIdleTTL()),
		pagesession.WithOnDelete(collector.ForgetSession),
		pagesession.WithOnCountChange(collector.SetPageSessions),
	)
	if interval := c.GetSessionSweepInterval(); c.GetSessionIdleTTL() > 0 && interval > 0 {
		go pageSessions.RunSweeper(ctx, interval)
	}

	s, err := server.New(c, server.Deps{
		PageSessions: pageSessions,
		Gatherer:     reg,
	})
	if err != nil {
		return nil, fmt.Errorf("server.New: %w", err)
	}
	return s, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
