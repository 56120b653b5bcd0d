package output

import "time"

// DefaultOutput is the standard implementation of the Output interface.
// It converts method calls into Event structs and emits them to the stream.
type DefaultOutput struct {
	stream *Stream
}

// NewDefaultOutput creates a DefaultOutput that emits events to the given
// stream.
func NewDefaultOutput(stream *Stream) *DefaultOutput {
	return &DefaultOutput{stream: stream}
}

// Info emits a general information message.
func (o *DefaultOutput) Info(message string) {
	o.stream.Emit(Event{
		Type:      EventInfo,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Error emits an error message.
func (o *DefaultOutput) Error(err error) {
	o.stream.Emit(Event{
		Type:      EventError,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// Warning emits a warning message.
func (o *DefaultOutput) Warning(message string) {
	o.stream.Emit(Event{
		Type:      EventWarning,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Table emits tabular data with headers and rows.
func (o *DefaultOutput) Table(headers []string, rows [][]string) {
	o.stream.Emit(Event{
		Type: EventTable,
		Data: map[string]any{
			"headers": headers,
			"rows":    rows,
		},
		Timestamp: time.Now(),
	})
}

// Progress emits a progress update.
func (o *DefaultOutput) Progress(current, total int, message string) {
	o.stream.Emit(Event{
		Type:    EventProgress,
		Message: message,
		Data: map[string]any{
			"current": current,
			"total":   total,
		},
		Timestamp: time.Now(),
	})
}
