package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/aminsaedi/navaar/internal/server"
	"github.com/aminsaedi/navaar/internal/shared"
)

// Run wires the full stack and serves until interrupted: one sync loop per
// configured direction plus the HTTP status server.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)
	if level, err := log.ParseLevel(config.LogLevel); err == nil {
		shared.SetLogLevel(r.logger, level)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := r.buildStack(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	api := server.NewAPI(st.tracks, st.state, st.logbook, st.engine, st.sink, r.logger, config.Sync.MaxRetries)
	router := server.NewRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	api.Register(router)
	srv := server.New(config.Server.Host, config.Server.Port, router, r.logger)

	errCh := make(chan error, 2)
	go func() { errCh <- st.engine.Run(ctx) }()
	go func() { errCh <- srv.Start(ctx) }()

	var firstErr error
	for range 2 {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}
