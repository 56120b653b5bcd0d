package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SimStreamer is an in-process streamer that confirms lines on a timer
// instead of talking to hardware. It backs the `millrun run` dry-run command
// and the scheduler tests.
//
// A fault can be scripted at a specific line with FaultAt, which makes the
// simulator emit EventFault after confirming the line before it, the same
// shape a real controller disconnect produces.
type SimStreamer struct {
	mu        sync.Mutex
	events    chan Event
	lineDelay time.Duration
	faultAt   map[string]int // job id -> absolute line to fault before
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    bool
}

// NewSimStreamer creates a simulator confirming one line per lineDelay.
// A zero delay confirms lines as fast as the consumer drains the channel.
func NewSimStreamer(lineDelay time.Duration) *SimStreamer {
	return &SimStreamer{
		events:    make(chan Event, 64),
		lineDelay: lineDelay,
		faultAt:   make(map[string]int),
	}
}

// FaultAt scripts a fault for jobID immediately before the given absolute
// line is confirmed. The fault fires once; a re-dispatch past the line
// proceeds normally.
func (s *SimStreamer) FaultAt(jobID string, line int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faultAt[jobID] = line
}

// Dispatch starts asynchronous confirmation of the given line range.
func (s *SimStreamer) Dispatch(ctx context.Context, jobID string, startLine int, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("streamer closed")
	}

	log.Debug().
		Str("component", "sim-streamer").
		Str("job_id", jobID).
		Int("start_line", startLine).
		Int("lines", len(lines)).
		Msg("Dispatching line range")

	s.wg.Add(1)
	go s.transmit(ctx, jobID, startLine, len(lines))
	return nil
}

func (s *SimStreamer) transmit(ctx context.Context, jobID string, startLine, count int) {
	defer s.wg.Done()

	for i := 0; i < count; i++ {
		line := startLine + i

		if s.takeFault(jobID, line) {
			s.emit(ctx, Event{
				Type:  EventFault,
				JobID: jobID,
				Line:  line - 1,
				Cause: "simulated fault",
			})
			return
		}

		if s.lineDelay > 0 {
			select {
			case <-time.After(s.lineDelay):
			case <-ctx.Done():
				return
			}
		}

		if !s.emit(ctx, Event{Type: EventLineCompleted, JobID: jobID, Line: line}) {
			return
		}
	}
}

// takeFault consumes a scripted fault if one is armed for this line.
func (s *SimStreamer) takeFault(jobID string, line int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.faultAt[jobID]
	if !ok || line != at {
		return false
	}
	delete(s.faultAt, jobID)
	return true
}

func (s *SimStreamer) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Events returns the event channel.
func (s *SimStreamer) Events() <-chan Event {
	return s.events
}

// Close stops transmission and closes the event channel once in-flight
// transmit goroutines have drained.
func (s *SimStreamer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}
