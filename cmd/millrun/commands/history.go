package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the "history" command: list archived runs,
// newest first.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "List completed, cancelled, and failed runs",
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := mustApp(cmd)
			if err != nil {
				return err
			}
			if app.Archive == nil {
				return fmt.Errorf("run history archive is disabled")
			}

			entries, err := app.Archive.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonMode(cmd) {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			out := newOutput(cmd)
			if len(entries) == 0 {
				out.Info("no archived runs")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				duration := "-"
				if e.Job.Duration > 0 {
					duration = fmt.Sprintf("%ds", e.Job.Duration)
				}
				rows = append(rows, []string{
					shortID(e.Job.ID),
					e.Job.Name,
					string(e.Job.Status),
					duration,
					e.ArchivedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			out.Table([]string{"ID", "NAME", "STATUS", "DURATION", "ARCHIVED"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to list")
	return cmd
}
