package subscribers

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/millrun/millrun/pkg/output"
)

var (
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")). // Red
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")). // Yellow
			Bold(true)

	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // Cyan
)

// HumanFormatter renders human-friendly terminal output (tables, colors,
// progress lines). Used for the default text output format.
type HumanFormatter struct {
	stdout       io.Writer
	stderr       io.Writer
	colorEnabled bool
}

// NewHumanFormatter creates a new HumanFormatter subscriber.
func NewHumanFormatter(stdout, stderr io.Writer, colorEnabled bool) *HumanFormatter {
	return &HumanFormatter{
		stdout:       stdout,
		stderr:       stderr,
		colorEnabled: colorEnabled,
	}
}

// OnEvent renders a single output event.
func (f *HumanFormatter) OnEvent(ev output.Event) {
	switch ev.Type {
	case output.EventInfo:
		fmt.Fprintln(f.stdout, f.style(infoStyle, ev.Message))
	case output.EventError:
		fmt.Fprintln(f.stderr, f.style(errorStyle, "error: "+ev.Message))
	case output.EventWarning:
		fmt.Fprintln(f.stderr, f.style(warningStyle, "warning: "+ev.Message))
	case output.EventProgress:
		f.renderProgress(ev)
	case output.EventTable:
		f.renderTable(ev)
	}
}

func (f *HumanFormatter) renderProgress(ev output.Event) {
	current, _ := ev.Data["current"].(int)
	total, _ := ev.Data["total"].(int)
	line := fmt.Sprintf("[%d/%d] %s", current, total, ev.Message)
	fmt.Fprintln(f.stdout, f.style(progressStyle, line))
}

func (f *HumanFormatter) renderTable(ev output.Event) {
	headers, _ := ev.Data["headers"].([]string)
	rows, _ := ev.Data["rows"].([][]string)

	w := tabwriter.NewWriter(f.stdout, 0, 4, 2, ' ', 0)
	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, h)
	}
	fmt.Fprintln(w)
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, cell)
		}
		fmt.Fprintln(w)
	}
	_ = w.Flush()
}

func (f *HumanFormatter) style(s lipgloss.Style, text string) string {
	if !f.colorEnabled {
		return text
	}
	return s.Render(text)
}
