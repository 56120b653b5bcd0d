package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/millrun/millrun/pkg/job"
)

// NewAddCommand creates the "add" command: import a G-code file into the
// workspace and enqueue a Pending job for it.
func NewAddCommand() *cobra.Command {
	var (
		name     string
		priority int
		jobType  string
	)

	cmd := &cobra.Command{
		Use:     "add <gcode-file>",
		Short:   "Import a G-code program and enqueue a job",
		GroupID: "jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}
			out := newOutput(cmd)

			t := job.Type(jobType)
			if !t.IsValid() {
				return fmt.Errorf("unknown job type %q", jobType)
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			ref, total, err := app.Workspace.ImportProgram(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("import program: %w", err)
			}

			j := job.New(name, t, priority)
			j.Program = ref
			j.TotalLines = total
			if err := app.Scheduler.AddJob(j); err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}
			if err := app.Scheduler.SaveQueue(); err != nil {
				return fmt.Errorf("persist queue: %w", err)
			}

			out.Info(fmt.Sprintf("queued %s (%s, %d lines, priority %d)", j.Name, j.ID, total, priority))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Job name (defaults to the file name)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Dispatch priority, higher runs first")
	cmd.Flags().StringVar(&jobType, "type", string(job.TypeFileRun), "Job type: file_run or generated_op")

	return cmd
}
