package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCancelCommand creates the "cancel" command. Cancellation is permanent;
// a cancelled job keeps its bookmark for the record but can never run again.
func NewCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "cancel <job-id>",
		Short:   "Cancel a job",
		GroupID: "jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}
			target, err := resolveJob(cmd, args[0])
			if err != nil {
				return err
			}

			if err := app.Scheduler.CancelJob(target.ID); err != nil {
				return err
			}
			if err := app.Scheduler.SaveQueue(); err != nil {
				return err
			}
			newOutput(cmd).Info(fmt.Sprintf("cancelled %s (%s)", target.Name, shortID(target.ID)))
			return nil
		},
	}
}

// NewRemoveCommand creates the "remove" command: drop a job from the queue
// entirely. Active jobs must be cancelled first.
func NewRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <job-id>",
		Short:   "Remove a job from the queue",
		GroupID: "jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}
			target, err := resolveJob(cmd, args[0])
			if err != nil {
				return err
			}

			if err := app.Scheduler.RemoveJob(target.ID); err != nil {
				return err
			}
			if err := app.Scheduler.SaveQueue(); err != nil {
				return err
			}
			newOutput(cmd).Info(fmt.Sprintf("removed %s (%s)", target.Name, shortID(target.ID)))
			return nil
		},
	}
}
