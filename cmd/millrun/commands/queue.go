package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewQueueCommand creates the "queue" command group for snapshot operations.
func NewQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "queue",
		Short:   "Queue snapshot operations",
		GroupID: "core",
	}
	cmd.AddCommand(newQueueSaveCommand())
	cmd.AddCommand(newQueueLoadCommand())
	cmd.AddCommand(newQueueNextCommand())
	return cmd
}

func newQueueSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Write the queue snapshot now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}
			if err := app.Scheduler.SaveQueue(); err != nil {
				return err
			}
			newOutput(cmd).Info(fmt.Sprintf("queue saved to %s", app.Workspace.SnapshotPath()))
			return nil
		},
	}
}

func newQueueLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Reload the queue from its snapshot, discarding in-memory state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}
			if err := app.Scheduler.LoadQueue(); err != nil {
				return err
			}
			jobs, err := app.Scheduler.Jobs()
			if err != nil {
				return err
			}
			newOutput(cmd).Info(fmt.Sprintf("queue loaded, %d jobs", len(jobs)))
			return nil
		},
	}
}

func newQueueNextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the job that would be dispatched next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}
			j, err := app.Scheduler.NextPending()
			if err != nil {
				return err
			}
			out := newOutput(cmd)
			if j == nil {
				out.Info("no pending jobs")
				return nil
			}
			out.Info(fmt.Sprintf("%s (%s), priority %d", j.Name, shortID(j.ID), j.Priority))
			return nil
		},
	}
}
