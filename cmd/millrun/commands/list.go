package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/millrun/millrun/pkg/job"
)

// NewListCommand creates the "list" command: show every queued job and which
// one holds the machine.
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List queued jobs",
		GroupID: "jobs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}

			jobs, err := app.Scheduler.Jobs()
			if err != nil {
				return err
			}
			active, err := app.Scheduler.ActiveIDs()
			if err != nil {
				return err
			}

			if jsonMode(cmd) {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"jobs": jobs, "active": active})
			}

			out := newOutput(cmd)
			if len(jobs) == 0 {
				out.Info("queue is empty")
				return nil
			}

			activeSet := make(map[string]bool, len(active))
			for _, id := range active {
				activeSet[id] = true
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				marker := ""
				if activeSet[j.ID] {
					marker = "*"
				}
				rows = append(rows, []string{
					marker,
					shortID(j.ID),
					j.Name,
					string(j.Status),
					fmt.Sprintf("%d", j.Priority),
					progressCell(j),
				})
			}
			out.Table([]string{"", "ID", "NAME", "STATUS", "PRI", "PROGRESS"}, rows)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func progressCell(j *job.Job) string {
	switch j.Status {
	case job.StatusRunning, job.StatusPaused, job.StatusCompleted:
		return fmt.Sprintf("%.0f%%", j.Progress*100)
	default:
		return "-"
	}
}
