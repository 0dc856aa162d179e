package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/setlist/internal/server"
	"github.com/desertthunder/setlist/internal/shared"
	"github.com/urfave/cli/v3"
)

// Serve runs the web server until SIGINT or SIGTERM.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	config, err := r.loadConfig(cmd.String("config"), cmd.String("env"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := r.buildApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := config.Server.Addr()
	if override := cmd.String("addr"); override != "" {
		addr = override
	}

	return server.ListenAndServe(ctx, addr, a.handler, r.logger)
}
