package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/stplan/sheetsweep/internal/api"
)

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listenAddr string
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Run the HTTP API and the task manager.")
	c.Cmd.Flag("listen-addr", "Address the HTTP API listens on.").Default(":8080").StringVar(&c.listenAddr)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	deps, err := newAppDeps(ctx, c.rootCmd)
	if err != nil {
		return err
	}

	// Recover tasks left running by a previous process before accepting work.
	reset, err := deps.Manager.ReconcileStale(ctx)
	if err != nil {
		return fmt.Errorf("could not reconcile stale tasks: %w", err)
	}
	if reset > 0 {
		logger.Infof("Reset %d stale running tasks back to pending", reset)
	}

	server, err := api.NewServer(api.ServerConfig{
		Manager:  deps.Manager,
		Settings: deps.Settings,
		Addr:     c.listenAddr,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create API server: %w", err)
	}

	var g run.Group

	// HTTP API server.
	{
		g.Add(
			func() error {
				logger.Infof("HTTP API listening on %s", c.listenAddr)
				return server.ListenAndServe()
			},
			func(_ error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Could not shut down API server cleanly: %s", err)
				}
			},
		)
	}

	// Command context cancellation (signals are handled by the caller).
	{
		execCtx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				<-execCtx.Done()
				return execCtx.Err()
			},
			func(_ error) {
				cancel()
			},
		)
	}

	err = g.Run()

	// Let in-flight sweeps record their terminal status before exiting.
	logger.Infof("Waiting for in-flight tasks to stop")
	deps.Manager.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
