// Package appctx carries the application-wide handles through
// context.Context.
//
// There is no ambient singleton scheduler: the App handle is constructed once
// at process start and passed explicitly to every layer that needs it (CLI
// commands, HTTP handlers, the websocket hub).
package appctx

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/millrun/millrun/pkg/archive"
	"github.com/millrun/millrun/pkg/config"
	"github.com/millrun/millrun/pkg/sched"
	"github.com/millrun/millrun/pkg/storage"
	"github.com/millrun/millrun/pkg/stream"
)

type ctxKey struct{}

// App bundles the process-wide handles.
type App struct {
	Config    *config.Manager
	Workspace *storage.Workspace
	Scheduler *sched.Manager
	Streamer  stream.Streamer
	Archive   *archive.Store
}

// With returns a context carrying the App handle.
func With(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, ctxKey{}, app)
}

// From extracts the App handle from the context.
func From(ctx context.Context) (*App, bool) {
	app, ok := ctx.Value(ctxKey{}).(*App)
	return app, ok
}

// Shutdown stops the scheduler and releases held resources. Safe to call
// with partially initialized handles.
func (a *App) Shutdown(ctx context.Context) {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Scheduler did not stop cleanly")
		}
	}
	if a.Streamer != nil {
		if err := a.Streamer.Close(); err != nil {
			log.Warn().Err(err).Msg("Streamer did not close cleanly")
		}
	}
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			log.Warn().Err(err).Msg("Archive did not close cleanly")
		}
	}
}
