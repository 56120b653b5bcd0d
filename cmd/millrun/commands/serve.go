package commands

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/millrun/millrun/pkg/server"
	"github.com/millrun/millrun/pkg/server/api"
)

// NewServeCommand creates the "serve" command: run the HTTP daemon exposing
// the job API, WebSocket updates, and Prometheus metrics.
func NewServeCommand(bus *updateBus) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the millrun HTTP daemon",
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}
			cfg := app.Config.Get()

			ready := &atomic.Bool{}
			deps := &api.Deps{
				Scheduler: app.Scheduler,
				Workspace: app.Workspace,
				Archive:   app.Archive,
				Ready:     ready,
			}

			srv := server.New(deps, server.Options{
				Host:            cfg.Server.Host,
				Port:            cfg.Server.Port,
				ShutdownTimeout: time.Duration(cfg.Server.ShutdownSeconds) * time.Second,
			})

			// Bridge scheduler updates into the WebSocket hub.
			updates, unsubscribe := bus.subscribe()
			defer unsubscribe()
			go func() {
				for u := range updates {
					srv.Hub().Notify(u)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()
			ready.Store(true)

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			select {
			case sig := <-sigs:
				log.Info().Str("signal", sig.String()).Msg("Shutting down")
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			ready.Store(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
