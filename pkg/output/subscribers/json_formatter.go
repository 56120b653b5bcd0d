package subscribers

import (
	"encoding/json"
	"io"

	"github.com/millrun/millrun/pkg/output"
)

// JSONFormatter renders each output event as one JSON object per line,
// suitable for piping into other tools.
type JSONFormatter struct {
	w io.Writer
}

// NewJSONFormatter creates a new JSONFormatter subscriber.
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{w: w}
}

// OnEvent renders a single output event as a JSON line.
func (f *JSONFormatter) OnEvent(ev output.Event) {
	payload := map[string]any{
		"type":      string(ev.Type),
		"timestamp": ev.Timestamp,
	}
	if ev.Message != "" {
		payload["message"] = ev.Message
	}
	if len(ev.Data) > 0 {
		payload["data"] = ev.Data
	}
	_ = json.NewEncoder(f.w).Encode(payload)
}
