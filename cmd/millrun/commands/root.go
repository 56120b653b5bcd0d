// Package commands implements the millrun CLI.
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/millrun/millrun/pkg/appctx"
	"github.com/millrun/millrun/pkg/archive"
	"github.com/millrun/millrun/pkg/config"
	"github.com/millrun/millrun/pkg/queue"
	"github.com/millrun/millrun/pkg/sched"
	"github.com/millrun/millrun/pkg/storage"
	"github.com/millrun/millrun/pkg/stream"
)

const cliExecutable = "millrun"

// NewCommand constructs the top-level millrun CLI command, wiring global
// flags, configuration, the scheduler lifecycle, and the shared workspace.
func NewCommand() *cobra.Command {
	var (
		configFile      string
		workspaceDir    string
		archiveDisabled bool
		verbosityCount  int
		verbose         bool
		app             *appctx.App
	)
	bus := newUpdateBus()

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Millrun is a resumable G-code job scheduler for a single CNC machine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgManager := config.NewManager()
			if err := cfgManager.Load(cmd.Flags(), configFile); err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			cfg := cfgManager.Get()

			configureLogging(cfg.Log, verbosityCount, verbose)

			storageConfig := &storage.Config{Root: cfg.Workspace.Root}
			if workspaceDir != "" {
				storageConfig.Root = workspaceDir
			}
			if storageConfig.Root == "" {
				defaults, err := storage.DefaultConfig()
				if err != nil {
					return fmt.Errorf("resolve workspace root: %w", err)
				}
				storageConfig = defaults
			}
			ws, err := storage.NewWorkspace(storageConfig)
			if err != nil {
				return fmt.Errorf("open workspace: %w", err)
			}
			if err := ws.Initialize(cmd.Context()); err != nil {
				return fmt.Errorf("initialize workspace: %w", err)
			}
			log.Info().Str("workspace_root", ws.Root()).Msg("workspace ready")

			streamer := stream.NewSimStreamer(time.Duration(cfg.Machine.SimLineDelayMS) * time.Millisecond)
			mgr := sched.NewManager(queue.New(), streamer, ws, sched.Options{
				SnapshotPath:       ws.SnapshotPath(),
				CheckpointInterval: time.Duration(cfg.Scheduler.CheckpointSeconds) * time.Second,
			}).WithNotifier(bus.publish)

			app = &appctx.App{
				Config:    cfgManager,
				Workspace: ws,
				Scheduler: mgr,
				Streamer:  streamer,
			}

			if cfg.Archive.Enabled && !archiveDisabled {
				store, err := archive.Open(ws.ArchivePath())
				if err != nil {
					return fmt.Errorf("open archive: %w", err)
				}
				app.Archive = store
				mgr.WithArchiver(store)
			} else {
				log.Info().Msg("run history archive disabled")
			}

			if err := mgr.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}

			// Restore the queue snapshot from the previous session, if any.
			// Interrupted jobs come back Pending with their bookmark intact.
			if _, err := os.Stat(ws.SnapshotPath()); err == nil {
				if err := mgr.LoadQueue(); err != nil {
					return fmt.Errorf("restore queue: %w", err)
				}
				log.Debug().Str("path", ws.SnapshotPath()).Msg("queue restored")
			}

			ctx := appctx.With(cmd.Context(), app)
			cmd.SetContext(ctx)
			if root := cmd.Root(); root != nil && root != cmd {
				root.SetContext(ctx)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				app.Shutdown(ctx)
			}
			return nil
		},
	}

	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().StringVar(&workspaceDir, "workspace-dir", "", "Override workspace root directory")
	cmd.PersistentFlags().BoolVar(&archiveDisabled, "no-archive", false, "Disable the run history archive for this invocation")
	cmd.PersistentFlags().CountVarP(&verbosityCount, "verbosity", "v", "Increase logging verbosity (repeatable)")
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging (shows scheduler internals)")
	cmd.PersistentFlags().StringP("output", "o", "text", "Output format: text or json")

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddGroup(&cobra.Group{ID: "jobs", Title: "Job Commands"})
	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands"})

	cmd.AddCommand(NewAddCommand())
	cmd.AddCommand(NewListCommand())
	cmd.AddCommand(NewShowCommand())
	cmd.AddCommand(NewStartCommand(bus))
	cmd.AddCommand(NewRunCommand(bus))
	cmd.AddCommand(NewResumeCommand(bus))
	cmd.AddCommand(NewCancelCommand())
	cmd.AddCommand(NewRemoveCommand())
	cmd.AddCommand(NewQueueCommand())
	cmd.AddCommand(NewHistoryCommand())
	cmd.AddCommand(NewServeCommand(bus))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// configureLogging sets the global zerolog level and format. Explicit
// --verbose shows debug and above; otherwise the -v count maps
// 0=>configured level, 1=>Info, 2+=>Debug.
func configureLogging(cfg config.LogConfig, verbosityCount int, verbose bool) {
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	} else {
		switch {
		case verbosityCount == 1:
			level = zerolog.InfoLevel
		case verbosityCount >= 2:
			level = zerolog.DebugLevel
		}
	}
	zerolog.SetGlobalLevel(level)
}

// mustApp extracts the App handle wired by PersistentPreRunE.
func mustApp(cmd *cobra.Command) (*appctx.App, error) {
	app, ok := appctx.From(cmd.Context())
	if !ok {
		return nil, fmt.Errorf("application not initialized")
	}
	return app, nil
}
