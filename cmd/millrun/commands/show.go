package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/millrun/millrun/pkg/job"
)

// NewShowCommand creates the "show" command: print one job in full. YAML by
// default, JSON with --output json.
func NewShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "show <job-id>",
		Short:   "Show job details",
		GroupID: "jobs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := resolveJob(cmd, args[0])
			if err != nil {
				return err
			}

			if jsonMode(cmd) {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(j)
			}

			// Round-trip through JSON so the YAML keys match the API field
			// names rather than the Go struct names.
			data, err := json.Marshal(j)
			if err != nil {
				return err
			}
			var doc map[string]any
			if err := json.Unmarshal(data, &doc); err != nil {
				return err
			}
			text, err := yaml.Marshal(doc)
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, string(text))
			return nil
		},
	}
}

// resolveJob looks a job up by full ID or unique ID prefix.
func resolveJob(cmd *cobra.Command, ref string) (*job.Job, error) {
	app, err := mustApp(cmd)
	if err != nil {
		return nil, err
	}

	if j, err := app.Scheduler.Job(ref); err == nil {
		return j, nil
	}

	jobs, err := app.Scheduler.Jobs()
	if err != nil {
		return nil, err
	}
	var match *job.Job
	for _, j := range jobs {
		if strings.HasPrefix(j.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("job id prefix %q is ambiguous", ref)
			}
			match = j
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no job matches %q", ref)
	}
	return match, nil
}
