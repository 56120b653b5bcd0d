// Package output decouples business logic from terminal rendering.
//
// Commands and the scheduler emit typed events to a stream; subscribers
// (human formatter, JSON formatter) render them. Business logic never writes
// to stdout directly.
package output

import "time"

// EventType defines the type of output event.
type EventType string

const (
	// EventInfo represents a general information message (always visible)
	EventInfo EventType = "info"

	// EventError represents an error message
	EventError EventType = "error"

	// EventWarning represents a warning message
	EventWarning EventType = "warning"

	// EventTable represents tabular data output
	EventTable EventType = "table"

	// EventProgress represents a progress update
	EventProgress EventType = "progress"
)

// Event represents a single output event emitted by business logic.
type Event struct {
	// Type identifies the event category (info, error, table, etc.)
	Type EventType

	// Message is the primary text content
	Message string

	// Data contains structured data (e.g., table headers/rows, progress values)
	Data map[string]any

	// Timestamp records when the event was created
	Timestamp time.Time
}

// Subscriber consumes output events.
type Subscriber interface {
	OnEvent(Event)
}

// Output is the primary interface for business logic to emit output events.
type Output interface {
	// Info emits a general information message.
	Info(message string)

	// Error emits an error message.
	Error(err error)

	// Warning emits a warning message.
	Warning(message string)

	// Table emits tabular data with headers and rows.
	Table(headers []string, rows [][]string)

	// Progress emits a progress update.
	Progress(current, total int, message string)
}

// Stream fans events out to its subscribers. Emit is called from a single
// goroutine per command; subscribers need no internal locking.
type Stream struct {
	subscribers []Subscriber
}

// NewStream creates an empty event stream.
func NewStream() *Stream {
	return &Stream{}
}

// Subscribe attaches a subscriber to the stream.
func (s *Stream) Subscribe(sub Subscriber) {
	s.subscribers = append(s.subscribers, sub)
}

// Emit delivers an event to all subscribers in subscription order.
func (s *Stream) Emit(ev Event) {
	for _, sub := range s.subscribers {
		sub.OnEvent(ev)
	}
}
