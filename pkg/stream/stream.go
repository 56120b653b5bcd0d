// Package stream defines the contract between the scheduler and whatever
// transmits G-code lines to the machine controller.
//
// The scheduler makes no assumption about transport, retry, or acknowledgment
// granularity beyond "line index is monotonically reported". Because a resumed
// job re-dispatches from its last confirmed line, implementations must
// tolerate a re-sent line as idempotent or detect the duplication themselves.
package stream

import "context"

// EventType identifies a streamer event.
type EventType string

const (
	// EventLineCompleted reports that the controller confirmed execution of
	// a line.
	EventLineCompleted EventType = "line_completed"

	// EventFault reports a fault or disconnect; Line carries the last line
	// known to have completed before the fault.
	EventFault EventType = "fault"
)

// Event is a typed message emitted by a streamer. Events are consumed
// exclusively by the single scheduler actor, which keeps job mutation
// serialized without relying on callback re-entrancy.
type Event struct {
	Type  EventType
	JobID string

	// Line is the confirmed line index (EventLineCompleted) or the last
	// known completed line before the fault (EventFault).
	Line int

	// Cause describes the fault. Empty for line completions.
	Cause string
}

// Streamer transmits program lines to the machine and reports per-line
// completion and faults on its event channel.
type Streamer interface {
	// Dispatch hands a line range to the streamer for transmission,
	// beginning at startLine (an absolute index into the full program).
	// lines contains exactly the lines [startLine, startLine+len(lines)).
	// Dispatch returns promptly; transmission proceeds asynchronously.
	Dispatch(ctx context.Context, jobID string, startLine int, lines []string) error

	// Events returns the channel on which completions and faults are
	// reported. The channel is closed by Close.
	Events() <-chan Event

	// Close stops transmission and releases the event channel.
	Close() error
}
