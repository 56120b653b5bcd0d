package commands

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/millrun/millrun/pkg/output"
	"github.com/millrun/millrun/pkg/output/subscribers"
)

// newOutput builds the command output pipeline honoring the --output flag.
// Text mode renders styled human output; json mode emits one JSON object
// per event.
func newOutput(cmd *cobra.Command) output.Output {
	format, _ := cmd.Flags().GetString("output")

	stream := output.NewStream()
	if format == "json" {
		stream.Subscribe(subscribers.NewJSONFormatter(os.Stdout))
	} else {
		colorEnabled := isatty.IsTerminal(os.Stdout.Fd())
		stream.Subscribe(subscribers.NewHumanFormatter(os.Stdout, os.Stderr, colorEnabled))
	}
	return output.NewDefaultOutput(stream)
}

// jsonMode reports whether --output json was requested.
func jsonMode(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("output")
	return format == "json"
}
